package detector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/okian/iotreat/internal/domain/feeding"
	"github.com/okian/iotreat/pkg/logger"
)

const stopGrace = 3 * time.Second

// Subprocess runs the classifier command and reads its stdout as a Stream.
// Its stderr is logged.
type Subprocess struct {
	command string
	args    []string
	opts    []Option
	log     logger.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stream *Stream
	cancel context.CancelFunc
	waited chan struct{}
}

var _ feeding.Detector = (*Subprocess)(nil)

// NewSubprocess prepares command with args. Nothing runs until Start.
func NewSubprocess(command string, args []string, opts ...Option) (*Subprocess, error) {
	if command == "" {
		return nil, ErrNoCommand
	}
	o := buildOptions(opts)
	return &Subprocess{
		command: command,
		args:    append([]string(nil), args...),
		opts:    append(append([]Option(nil), opts...), WithLogger(o.log)),
		log:     o.log,
	}, nil
}

// Start launches the process. It runs until Stop or until ctx is cancelled.
func (p *Subprocess) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return ErrStarted
	}

	cctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cctx, p.command, p.args...)
	cmd.WaitDelay = stopGrace

	// Wait returns only after all output has been copied into the pipes, so
	// the last lines are never lost.
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW
	if err := cmd.Start(); err != nil {
		cancel()
		_ = outW.Close()
		_ = errW.Close()
		return fmt.Errorf("start detector %s: %w", p.command, err)
	}

	p.cmd = cmd
	p.cancel = cancel
	p.stream = NewStream(outR, p.opts...)
	p.waited = make(chan struct{})

	go func() {
		sc := bufio.NewScanner(errR)
		for sc.Scan() {
			p.log.Warn(ctx, "detector stderr", logger.String("line", sc.Text()))
		}
	}()
	go func() {
		defer close(p.waited)
		err := cmd.Wait()
		_ = outW.Close()
		_ = errW.Close()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			p.log.Info(ctx, "detector exited")
		case errors.As(err, &exitErr) && cctx.Err() != nil:
			p.log.Info(ctx, "detector stopped")
		default:
			p.log.Error(ctx, "detector exited with error", logger.Error(err))
		}
	}()

	p.log.Info(ctx, "detector started",
		logger.String("command", p.command),
		logger.Int("pid", cmd.Process.Pid),
	)
	return nil
}

// Detect returns the next detection from the process output. Once the
// process exits it returns feeding.ErrDetectorStopped.
func (p *Subprocess) Detect(ctx context.Context) (feeding.Detection, error) {
	p.mu.Lock()
	s := p.stream
	p.mu.Unlock()
	if s == nil {
		return feeding.Detection{}, fmt.Errorf("%w: not started", feeding.ErrDetectorStopped)
	}
	return s.Detect(ctx)
}

// Stop kills the process and waits for it to be reaped.
func (p *Subprocess) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, waited := p.cancel, p.waited
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop detector: %w", ctx.Err())
	}
}
