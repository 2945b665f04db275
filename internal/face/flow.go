package face

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State int

const (
	StateAwaitingCamera State = iota
	StateScanning
	StateMatched
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingCamera:
		return "awaiting-camera"
	case StateScanning:
		return "scanning"
	case StateMatched:
		return "matched"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateMatched || s == StateCancelled
}

var (
	// ErrNoFace is returned by a Prober when the frame holds no detectable
	// face. The flow keeps polling.
	ErrNoFace = errors.New("no face detected")

	ErrCancelled = errors.New("face login cancelled")
	ErrNotReady  = errors.New("face login is not awaiting the camera")
)

// Camera starts the live video stream.
type Camera interface {
	Start(ctx context.Context) error
}

// Prober captures one frame and extracts its descriptor.
type Prober interface {
	Probe(ctx context.Context) (Descriptor, error)
}

// ReferenceLoader fetches the enrolled references to match against.
type ReferenceLoader func(ctx context.Context) ([]Reference, error)

type FlowConfig struct {
	Camera   Camera
	Prober   Prober
	Load     ReferenceLoader
	Matcher  Matcher
	Interval time.Duration
	OnChange func(State)
	Logger   *zap.Logger
}

const DefaultPollInterval = 500 * time.Millisecond

// Flow is the login-by-face state machine. A Flow is single-use per attempt:
// Run drives it from awaiting-camera to a terminal state or to failed, from
// which Retry re-arms it.
type Flow struct {
	cfg FlowConfig

	mu     sync.Mutex
	state  State
	result Result
	err    error
	stop   context.CancelFunc
}

func NewFlow(cfg FlowConfig) *Flow {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Matcher.Threshold <= 0 {
		cfg.Matcher = NewMatcher(DefaultThreshold)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Flow{cfg: cfg, state: StateAwaitingCamera}
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Result returns the match once the flow reached StateMatched.
func (f *Flow) Result() (Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.state == StateMatched
}

// Err returns the biometric error that moved the flow to StateFailed.
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// transition moves to next unless the flow already reached a terminal state.
func (f *Flow) transition(next State) bool {
	f.mu.Lock()
	if f.state.Terminal() {
		f.mu.Unlock()
		return false
	}
	f.state = next
	f.mu.Unlock()

	f.announce(next)
	return true
}

func (f *Flow) announce(s State) {
	f.cfg.Logger.Debug("face login state", zap.Stringer("state", s))
	if f.cfg.OnChange != nil {
		f.cfg.OnChange(s)
	}
}

// Cancel moves any non-terminal flow to StateCancelled and stops polling.
func (f *Flow) Cancel() {
	f.mu.Lock()
	stop := f.stop
	f.mu.Unlock()

	f.transition(StateCancelled)
	if stop != nil {
		stop()
	}
}

// Retry re-arms a failed flow.
func (f *Flow) Retry() error {
	f.mu.Lock()
	if f.state != StateFailed {
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("retry from %s: %w", state, ErrNotReady)
	}
	f.err = nil
	f.mu.Unlock()

	f.transition(StateAwaitingCamera)
	return nil
}

func (f *Flow) fail(err error) error {
	f.mu.Lock()
	if f.state.Terminal() {
		f.mu.Unlock()
		return ErrCancelled
	}
	f.err = err
	f.mu.Unlock()

	f.cfg.Logger.Warn("face login failed", zap.Error(err))
	f.transition(StateFailed)
	return err
}

// Run starts the camera, loads references and polls the prober every
// Interval until a match, Cancel, or ctx ends. It returns the match result,
// ErrCancelled, or the biometric error that failed the flow.
func (f *Flow) Run(ctx context.Context) (Result, error) {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	f.mu.Lock()
	if f.state != StateAwaitingCamera {
		state := f.state
		f.mu.Unlock()
		return Result{}, fmt.Errorf("run from %s: %w", state, ErrNotReady)
	}
	f.stop = stop
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.stop = nil
		f.mu.Unlock()
	}()

	if err := f.cfg.Camera.Start(runCtx); err != nil {
		return Result{}, f.cancelledOr(runCtx, fmt.Errorf("start camera: %w", err))
	}
	refs, err := f.cfg.Load(runCtx)
	if err != nil {
		return Result{}, f.cancelledOr(runCtx, fmt.Errorf("load references: %w", err))
	}
	if !f.transition(StateScanning) {
		return Result{}, ErrCancelled
	}

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		probe, err := f.cfg.Prober.Probe(runCtx)
		switch {
		case err == nil:
			res := f.cfg.Matcher.Match(probe, refs)
			if res.Matched {
				f.mu.Lock()
				if f.state.Terminal() {
					f.mu.Unlock()
					return Result{}, ErrCancelled
				}
				f.result = res
				f.state = StateMatched
				f.mu.Unlock()
				f.announce(StateMatched)
				return res, nil
			}
		case errors.Is(err, ErrNoFace):
		default:
			return Result{}, f.cancelledOr(runCtx, fmt.Errorf("probe: %w", err))
		}

		select {
		case <-runCtx.Done():
			f.transition(StateCancelled)
			return Result{}, ErrCancelled
		case <-ticker.C:
		}
	}
}

// cancelledOr treats errors caused by cancellation as a cancel rather than a
// biometric failure.
func (f *Flow) cancelledOr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		f.transition(StateCancelled)
		return ErrCancelled
	}
	return f.fail(err)
}
