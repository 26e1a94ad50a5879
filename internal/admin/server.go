package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"cmdtimer/internal/storage"
	logx "cmdtimer/pkg/logx"
)

// Config controls the local control server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - Binding to a non-loopback address requires Token.
type Config struct {
	Enabled      bool
	Addr         string
	Token        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

const defaultAddr = "127.0.0.1:8089"

// Backend is what the control surface drives.
type Backend interface {
	// Reload re-reads the config file and restarts the scheduler.
	Reload(ctx context.Context) error
	TriggerNow(id string) bool
	EntryIDs() []string
	// Status returns a JSON-encodable snapshot.
	Status() any
	RecentFirings(ctx context.Context, limit int) ([]storage.FiringRecord, error)
}

var ErrInsecureBind = errors.New("admin: non-loopback addr requires a token")

type Server struct {
	mu      sync.Mutex
	log     logx.Logger
	backend Backend
	cfg     Config

	ln       net.Listener
	srv      *http.Server
	stopDone chan struct{}
}

func New(cfg Config, backend Backend, log logx.Logger) *Server {
	return &Server{cfg: cfg, backend: backend, log: log}
}

// Addr returns the bound address, or "" when the server is not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg and starts, stops or restarts the listener.
// It must not be called from inside a request handler.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		if err := s.Start(ctx); err != nil {
			s.log.Error("admin start failed", logx.Err(err))
		}
	case prev != cfg:
		s.Stop(ctx)
		if err := s.Start(ctx); err != nil {
			s.log.Error("admin restart failed", logx.Err(err))
		}
	}
}

func (s *Server) Start(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.srv != nil {
			s.mu.Unlock()
			return nil
		}
		// If stop is in progress, wait for it (avoid double listen).
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		cur := s.cfg
		s.mu.Unlock()

		if !cur.Enabled {
			return nil
		}
		addr := strings.TrimSpace(cur.Addr)
		if addr == "" {
			addr = defaultAddr
		}
		if strings.TrimSpace(cur.Token) == "" && !isLoopbackAddr(addr) {
			return ErrInsecureBind
		}

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		srv := &http.Server{
			Handler:           s.Handler(cur.Token),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       cur.ReadTimeout,
			WriteTimeout:      cur.WriteTimeout,
		}

		s.mu.Lock()
		s.ln = ln
		s.srv = srv
		s.mu.Unlock()

		go func() {
			err := srv.Serve(ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("admin server stopped with error", logx.Err(err))
			}
		}()

		s.log.Info("admin started",
			logx.String("addr", ln.Addr().String()),
			logx.Bool("token_set", strings.TrimSpace(cur.Token) != ""),
		)
		return nil
	}
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.srv == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	srv := s.srv
	ln := s.ln
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	// Ensure listener is closed even if Shutdown is stuck.
	_ = ln.Close()

	go func() {
		defer close(done)
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
		s.mu.Lock()
		s.stopDone = nil
		s.mu.Unlock()
		s.log.Info("admin stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Handler builds the router. An empty token disables auth.
func (s *Server) Handler(token string) http.Handler {
	r := chi.NewMux()
	r.Use(middleware.Recoverer)
	r.Use(bearerAuth(token))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", s.handleStatus)
	r.Get("/history", s.handleHistory)
	r.Post("/reload", s.handleReload)
	r.Route("/entries", func(r chi.Router) {
		r.Get("/", s.handleEntries)
		r.Post("/{id}/trigger", s.handleTrigger)
	})
	r.Mount("/debug", middleware.Profiler())
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Status())
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	ids := s.backend.EntryIDs()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": ids})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.backend.TriggerNow(id) {
		writeError(w, http.StatusNotFound, "unknown entry "+strconv.Quote(id))
		return
	}
	s.log.Info("entry triggered via admin", logx.String("entry", id))
	writeJSON(w, http.StatusAccepted, map[string]any{"triggered": id})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Reload(r.Context()); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reloaded": true})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}
	recs, err := s.backend.RecentFirings(r.Context(), limit)
	if errors.Is(err, storage.ErrDisabled) {
		writeError(w, http.StatusNotFound, "firing history is disabled")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []storage.FiringRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"firings": recs})
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const p = "Bearer "
			ah := r.Header.Get("Authorization")
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
