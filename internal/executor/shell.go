package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	logx "cmdtimer/pkg/logx"
)

// maxOutputLog bounds how much action output is copied into the log.
const maxOutputLog = 4 << 10

// ShellRunner runs actions through an in-process POSIX shell interpreter,
// so no system shell is required.
type ShellRunner struct {
	Dir string
	Env []string // nil: inherit the process environment
	Log logx.Logger
}

func (r ShellRunner) Run(ctx context.Context, action string) error {
	file, err := syntax.NewParser().Parse(strings.NewReader(action), "action")
	if err != nil {
		return fmt.Errorf("parse action: %w", err)
	}

	env := r.Env
	if env == nil {
		env = os.Environ()
	}
	var out bytes.Buffer
	opts := []interp.RunnerOption{
		interp.StdIO(nil, &out, &out),
		interp.Env(expand.ListEnviron(env...)),
	}
	if strings.TrimSpace(r.Dir) != "" {
		opts = append(opts, interp.Dir(r.Dir))
	}
	runner, err := interp.New(opts...)
	if err != nil {
		return fmt.Errorf("init interpreter: %w", err)
	}

	err = runner.Run(ctx, file)
	if out.Len() > 0 && r.Log.Enabled(logx.LevelDebug) {
		b := out.Bytes()
		if len(b) > maxOutputLog {
			b = b[:maxOutputLog]
		}
		r.Log.Debug("action output", logx.String("action", action), logx.String("output", strings.TrimSpace(string(b))))
	}
	if err != nil {
		if status, ok := interp.IsExitStatus(err); ok {
			return fmt.Errorf("exit status %d", status)
		}
		return err
	}
	return nil
}
