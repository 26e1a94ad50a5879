package app

import (
	"context"
	"time"

	"github.com/google/uuid"

	"cmdtimer/internal/engine"
	"cmdtimer/internal/eventbus"
	"cmdtimer/internal/storage"
	logx "cmdtimer/pkg/logx"
)

// startAudit appends every dispatch to the store. The trail is
// observational: the engine never reads it back.
func (a *App) startAudit() {
	events, unsub := a.bus.Subscribe(256, engine.EventOccurrenceFired, engine.EventEntryTriggered)
	log := a.log.With(logx.String("comp", "audit"))
	a.sup.Go("storage.audit", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				rec, ok := firingRecord(e)
				if !ok {
					continue
				}
				wctx, cancel := context.WithTimeout(context.WithoutCancel(c), 2*time.Second)
				err := a.store.AppendFiring(wctx, rec)
				cancel()
				if err != nil {
					log.Warn("firing not recorded", logx.String("entry", rec.EntryID), logx.Err(err))
				}
			}
		}
	})
}

func firingRecord(e eventbus.Event) (storage.FiringRecord, bool) {
	fe, ok := e.Data.(engine.FiringEvent)
	if !ok {
		return storage.FiringRecord{}, false
	}
	firedAt := fe.FiredAt
	if firedAt.IsZero() {
		firedAt = e.Time
	}
	return storage.FiringRecord{
		ID:        uuid.NewString(),
		EntryID:   fe.EntryID,
		Key:       fe.Key,
		Scheduled: fe.Scheduled,
		FiredAt:   firedAt,
		Manual:    fe.Manual,
	}, true
}
