package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrMissingOutput is returned when the engine exited successfully but its
// output directory cannot be found.
var ErrMissingOutput = errors.New("engine: output directory missing")

// DefaultVerifyDelay is the pause before the single re-check.
const DefaultVerifyDelay = time.Second

// Verifier checks for the engine's output directory, allowing one delayed
// re-check for filesystem propagation lag.
type Verifier struct {
	delay time.Duration
	stat  func(name string) (os.FileInfo, error)
	sleep func(ctx context.Context, d time.Duration) error
}

// NewVerifier creates a Verifier. A negative delay means DefaultVerifyDelay.
func NewVerifier(delay time.Duration) *Verifier {
	if delay < 0 {
		delay = DefaultVerifyDelay
	}
	return &Verifier{delay: delay, stat: os.Stat, sleep: sleepContext}
}

// Verify returns nil if dir exists, checking at most twice.
func (v *Verifier) Verify(ctx context.Context, dir string) error {
	if v.exists(dir) {
		return nil
	}
	if err := v.sleep(ctx, v.delay); err != nil {
		return fmt.Errorf("wait for output: %w", err)
	}
	if v.exists(dir) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMissingOutput, dir)
}

func (v *Verifier) exists(dir string) bool {
	info, err := v.stat(dir)
	return err == nil && info.IsDir()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
