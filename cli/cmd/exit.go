package cmd

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/shortlist/log"
)

// Exit codes.
const (
	exitSuccess        = 0
	exitError          = 1
	exitPartialFailure = 2
	exitInvalidInput   = 3
	exitInterrupted    = 130
)

// interruptResetTimeout bounds the server reset sent on interrupt.
const interruptResetTimeout = 10 * time.Second

func invalidInput(err error) error {
	return cli.Exit(err.Error(), exitInvalidInput)
}

func failed(err error) error {
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return err
	}
	return cli.Exit(err.Error(), exitError)
}

type resetter interface {
	Reset(ctx context.Context) error
}

// interrupt resets the session and cancels its context on the first
// signal or explicit trigger. The reset runs on a fresh context so it is
// not cut short by the cancellation it precedes.
type interrupt struct {
	ctx    context.Context
	cancel context.CancelFunc
	ctrl   resetter
	logger *log.Logger

	once     sync.Once
	stopOnce sync.Once
	fired    atomic.Bool
	done     chan struct{}
}

func watchInterrupt(parent context.Context, ctrl resetter, logger *log.Logger, sig <-chan os.Signal) *interrupt {
	ctx, cancel := context.WithCancel(parent)
	i := &interrupt{
		ctx:    ctx,
		cancel: cancel,
		ctrl:   ctrl,
		logger: logger,
		done:   make(chan struct{}),
	}
	go func() {
		select {
		case <-sig:
			i.trigger()
		case <-i.done:
		}
	}()
	return i
}

func (i *interrupt) trigger() {
	i.once.Do(func() {
		i.fired.Store(true)
		i.logger.Warn("interrupted, resetting session", nil)

		ctx, cancel := context.WithTimeout(context.Background(), interruptResetTimeout)
		defer cancel()
		if err := i.ctrl.Reset(ctx); err != nil {
			i.logger.Error("reset on interrupt failed", map[string]any{"error": err.Error()})
		}
		i.cancel()
	})
}

// Fired reports whether the interrupt ran.
func (i *interrupt) Fired() bool {
	return i.fired.Load()
}

func (i *interrupt) stop() {
	i.stopOnce.Do(func() {
		close(i.done)
		i.cancel()
	})
}
