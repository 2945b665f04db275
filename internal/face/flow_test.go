package face

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeCamera struct{ err error }

func (c fakeCamera) Start(context.Context) error { return c.err }

// scriptedProber returns its steps in order, then repeats ErrNoFace.
type scriptedProber struct {
	mu    sync.Mutex
	steps []probeStep
	calls int
}

type probeStep struct {
	d   Descriptor
	err error
}

func (p *scriptedProber) Probe(context.Context) (Descriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.steps) == 0 {
		return nil, ErrNoFace
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	return step.d, step.err
}

func staticRefs(refs ...Reference) ReferenceLoader {
	return func(context.Context) ([]Reference, error) { return refs, nil }
}

func recordStates() (*[]State, func(State)) {
	var mu sync.Mutex
	states := []State{}
	return &states, func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}
}

func TestFlow_MatchesAfterNoFaceFrames(t *testing.T) {
	defer goleak.VerifyNone(t)

	prober := &scriptedProber{steps: []probeStep{
		{err: ErrNoFace},
		{d: vec(1, 1)},
		{d: vec(0, 0)},
	}}
	states, onChange := recordStates()
	f := NewFlow(FlowConfig{
		Camera:   fakeCamera{},
		Prober:   prober,
		Load:     staticRefs(Reference{UserID: "u1", Descriptor: vec(0, 0.1)}),
		Interval: time.Millisecond,
		OnChange: onChange,
	})

	res, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", res.UserID)
	assert.Equal(t, StateMatched, f.State())
	assert.Equal(t, []State{StateScanning, StateMatched}, *states)
	assert.Equal(t, 3, prober.calls, "polling stops at the first match")

	got, ok := f.Result()
	assert.True(t, ok)
	assert.Equal(t, "u1", got.UserID)
}

func TestFlow_NaNProbeKeepsScanning(t *testing.T) {
	defer goleak.VerifyNone(t)

	prober := &scriptedProber{steps: []probeStep{
		{d: vec(math.NaN(), 0)},
		{d: vec(0, 0)},
	}}
	f := NewFlow(FlowConfig{
		Camera:   fakeCamera{},
		Prober:   prober,
		Load:     staticRefs(Reference{UserID: "victim", Descriptor: vec(5, 5)}, Reference{UserID: "u1", Descriptor: vec(0, 0.1)}),
		Interval: time.Millisecond,
	})

	res, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", res.UserID)
	assert.Equal(t, 2, prober.calls)
}

// cancelOnProbe cancels its flow from inside the probe that yields a match.
type cancelOnProbe struct {
	flow *Flow
	d    Descriptor
}

func (p *cancelOnProbe) Probe(context.Context) (Descriptor, error) {
	p.flow.Cancel()
	return p.d, nil
}

func TestFlow_CancelBeforeMatchWins(t *testing.T) {
	defer goleak.VerifyNone(t)

	prober := &cancelOnProbe{d: vec(0, 0)}
	f := NewFlow(FlowConfig{
		Camera:   fakeCamera{},
		Prober:   prober,
		Load:     staticRefs(Reference{UserID: "u1", Descriptor: vec(0, 0)}),
		Interval: time.Millisecond,
	})
	prober.flow = f

	_, err := f.Run(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateCancelled, f.State())
	_, ok := f.Result()
	assert.False(t, ok)
}

func TestFlow_RunResultAgreesWithStateUnderConcurrentCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	for i := 0; i < 200; i++ {
		f := NewFlow(FlowConfig{
			Camera:   fakeCamera{},
			Prober:   &scriptedProber{steps: []probeStep{{d: vec(0, 0)}}},
			Load:     staticRefs(Reference{UserID: "u1", Descriptor: vec(0, 0)}),
			Interval: time.Millisecond,
		})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Cancel()
		}()
		_, err := f.Run(context.Background())
		wg.Wait()

		_, matched := f.Result()
		if err == nil {
			require.True(t, matched, "iteration %d: Run matched but state is %s", i, f.State())
			require.Equal(t, StateMatched, f.State())
		} else {
			require.False(t, matched, "iteration %d", i)
		}
	}
}

func TestFlow_CancelWhileScanning(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := NewFlow(FlowConfig{
		Camera:   fakeCamera{},
		Prober:   &scriptedProber{},
		Load:     staticRefs(Reference{UserID: "u1", Descriptor: vec(0)}),
		Interval: time.Millisecond,
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.Run(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return f.State() == StateScanning }, time.Second, time.Millisecond)
	f.Cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after Cancel")
	}
	assert.Equal(t, StateCancelled, f.State())

	_, err := f.Run(context.Background())
	assert.ErrorIs(t, err, ErrNotReady, "cancelled is terminal")
}

func TestFlow_ContextEndIsCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	f := NewFlow(FlowConfig{
		Camera:   fakeCamera{},
		Prober:   &scriptedProber{},
		Load:     staticRefs(),
		Interval: time.Millisecond,
	})
	_, err := f.Run(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateCancelled, f.State())
}

func TestFlow_CameraErrorFailsAndRetryRearms(t *testing.T) {
	camErr := errors.New("permission denied")
	f := NewFlow(FlowConfig{
		Camera:   fakeCamera{err: camErr},
		Prober:   &scriptedProber{},
		Load:     staticRefs(),
		Interval: time.Millisecond,
	})

	_, err := f.Run(context.Background())
	require.ErrorIs(t, err, camErr)
	assert.Equal(t, StateFailed, f.State())
	assert.ErrorIs(t, f.Err(), camErr)

	require.NoError(t, f.Retry())
	assert.Equal(t, StateAwaitingCamera, f.State())
	assert.NoError(t, f.Err())

	assert.ErrorIs(t, f.Retry(), ErrNotReady)
}

func TestFlow_ProbeErrorFails(t *testing.T) {
	modelErr := errors.New("model not loaded")
	f := NewFlow(FlowConfig{
		Camera:   fakeCamera{},
		Prober:   &scriptedProber{steps: []probeStep{{err: modelErr}}},
		Load:     staticRefs(),
		Interval: time.Millisecond,
	})

	_, err := f.Run(context.Background())
	assert.ErrorIs(t, err, modelErr)
	assert.Equal(t, StateFailed, f.State())
}

func TestFlow_LoadErrorFails(t *testing.T) {
	loadErr := errors.New("network down")
	f := NewFlow(FlowConfig{
		Camera: fakeCamera{},
		Prober: &scriptedProber{},
		Load: func(context.Context) ([]Reference, error) {
			return nil, loadErr
		},
	})

	_, err := f.Run(context.Background())
	assert.ErrorIs(t, err, loadErr)
	assert.Equal(t, StateFailed, f.State())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "awaiting-camera", StateAwaitingCamera.String())
	assert.Equal(t, "matched", StateMatched.String())
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateFailed.Terminal())
}
