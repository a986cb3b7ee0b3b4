package render

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vulkan-go/vulkan"
)

// fakeFrameContext records the call sequence the frame loop makes and
// injects errors at chosen points.
type fakeFrameContext struct {
	calls []string

	acquireErrs []error
	presentErrs []error
	submitErr   error
	rebuildErr  error

	acquires int
	presents int
	rebuilds int
	// owed mirrors the chain's acquire bookkeeping to catch
	// double-acquires.
	owed bool
}

func (f *fakeFrameContext) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeFrameContext) WaitForSlot(slot int) error {
	f.record("wait(%d)", slot)
	return nil
}

func (f *fakeFrameContext) ResetSlot(slot int) error {
	f.record("reset(%d)", slot)
	return nil
}

func (f *fakeFrameContext) WriteFrameData(slot int, frame uint64) error {
	f.record("write(%d,%d)", slot, frame)
	return nil
}

func (f *fakeFrameContext) AcquireImage(slot int) (int, error) {
	f.record("acquire(%d)", slot)
	if f.owed {
		return -1, errors.New("double acquire")
	}
	if f.acquires < len(f.acquireErrs) && f.acquireErrs[f.acquires] != nil {
		err := f.acquireErrs[f.acquires]
		f.acquires++
		return -1, err
	}
	f.acquires++
	f.owed = true
	return 0, nil
}

func (f *fakeFrameContext) RecordCompute(slot int) error {
	f.record("compute(%d)", slot)
	return nil
}

func (f *fakeFrameContext) RecordGraphics(slot, imageIndex int) error {
	f.record("graphics(%d,%d)", slot, imageIndex)
	return nil
}

func (f *fakeFrameContext) SubmitFrame(slot int) error {
	f.record("submit(%d)", slot)
	return f.submitErr
}

func (f *fakeFrameContext) PresentImage(slot, imageIndex int) error {
	f.record("present(%d,%d)", slot, imageIndex)
	f.owed = false
	if f.presents < len(f.presentErrs) && f.presentErrs[f.presents] != nil {
		err := f.presentErrs[f.presents]
		f.presents++
		return err
	}
	f.presents++
	return nil
}

func (f *fakeFrameContext) RebuildChain() error {
	f.record("rebuild")
	f.rebuilds++
	f.owed = false
	return f.rebuildErr
}

func (f *fakeFrameContext) CollectGarbage(frame uint64) {
	f.record("collect(%d)", frame)
}

func outOfDateErr() error {
	return NewError("vkAcquireNextImage", vulkan.ErrorOutOfDate)
}

func TestDrawFrameOrdering(t *testing.T) {
	ctx := &fakeFrameContext{}
	fr := NewFrameRenderer(ctx, 2, nil)

	require.NoError(t, fr.DrawFrame())
	require.Equal(t, []string{
		"wait(0)", "collect(0)", "acquire(0)", "reset(0)", "write(0,0)",
		"compute(0)", "graphics(0,0)", "submit(0)", "present(0,0)",
	}, ctx.calls)
	require.Equal(t, uint64(1), fr.FrameCount())
}

func TestDrawFrameSlotRotation(t *testing.T) {
	ctx := &fakeFrameContext{}
	fr := NewFrameRenderer(ctx, 2, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, fr.DrawFrame())
	}

	var waits []string
	for _, c := range ctx.calls {
		if len(c) > 4 && c[:4] == "wait" {
			waits = append(waits, c)
		}
	}
	require.Equal(t, []string{"wait(0)", "wait(1)", "wait(0)", "wait(1)", "wait(0)"}, waits)
}

func TestDrawFrameRetriesSameSlotAfterOutOfDateAcquire(t *testing.T) {
	ctx := &fakeFrameContext{acquireErrs: []error{outOfDateErr()}}
	fr := NewFrameRenderer(ctx, 2, nil)

	require.NoError(t, fr.DrawFrame())
	require.Equal(t, 1, ctx.rebuilds)
	require.Equal(t, []string{
		"wait(0)", "collect(0)", "acquire(0)", "rebuild",
		"acquire(0)", "reset(0)", "write(0,0)",
		"compute(0)", "graphics(0,0)", "submit(0)", "present(0,0)",
	}, ctx.calls)
	require.Equal(t, uint64(1), fr.FrameCount())
}

func TestDrawFrameNoResetBeforeFailedAcquire(t *testing.T) {
	ctx := &fakeFrameContext{acquireErrs: []error{outOfDateErr(), outOfDateErr()}}
	fr := NewFrameRenderer(ctx, 2, nil)

	require.NoError(t, fr.DrawFrame())
	// The fence may only be rearmed once an image is actually in hand.
	for i, c := range ctx.calls {
		if c == "reset(0)" {
			require.Contains(t, ctx.calls[:i], "acquire(0)")
			require.Equal(t, "acquire(0)", ctx.calls[i-1])
		}
	}
}

func TestDrawFrameRebuildsAfterOutOfDatePresent(t *testing.T) {
	ctx := &fakeFrameContext{presentErrs: []error{NewError("vkQueuePresent", vulkan.ErrorOutOfDate)}}
	fr := NewFrameRenderer(ctx, 2, nil)

	require.NoError(t, fr.DrawFrame())
	require.Equal(t, 1, ctx.rebuilds)
	// The submitted frame still counts; only the chain was rebuilt.
	require.Equal(t, uint64(1), fr.FrameCount())
	// No second submit for the same frame.
	require.Equal(t, 1, ctx.presents)
}

func TestDrawFrameBoundedRetries(t *testing.T) {
	ctx := &fakeFrameContext{acquireErrs: []error{
		outOfDateErr(), outOfDateErr(), outOfDateErr(), outOfDateErr(),
	}}
	fr := NewFrameRenderer(ctx, 2, nil)

	err := fr.DrawFrame()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrOutOfDate)
	require.Equal(t, uint64(0), fr.FrameCount())

	// Not latched: the next call runs again.
	require.NoError(t, fr.DrawFrame())
}

func TestDrawFrameLatchesDeviceLoss(t *testing.T) {
	ctx := &fakeFrameContext{submitErr: NewError("vkQueueSubmit", vulkan.ErrorDeviceLost)}
	fr := NewFrameRenderer(ctx, 2, nil)

	err := fr.DrawFrame()
	require.ErrorIs(t, err, ErrDeviceLost)

	calls := len(ctx.calls)
	err = fr.DrawFrame()
	require.ErrorIs(t, err, ErrDeviceLost)
	// Latched: nothing else ran.
	require.Equal(t, calls, len(ctx.calls))
}

func TestDrawFrameAcquireTimeoutNotLatched(t *testing.T) {
	ctx := &fakeFrameContext{acquireErrs: []error{NewError("vkAcquireNextImage", vulkan.Timeout)}}
	fr := NewFrameRenderer(ctx, 2, nil)

	err := fr.DrawFrame()
	require.ErrorIs(t, err, ErrAcquireTimeout)
	require.Zero(t, ctx.rebuilds)

	require.NoError(t, fr.DrawFrame())
	require.Equal(t, uint64(1), fr.FrameCount())
}

func TestDrawFrameNeverDoubleAcquires(t *testing.T) {
	ctx := &fakeFrameContext{
		acquireErrs: []error{outOfDateErr()},
		presentErrs: []error{nil, NewError("vkQueuePresent", vulkan.ErrorOutOfDate)},
	}
	fr := NewFrameRenderer(ctx, 2, nil)

	for i := 0; i < 4; i++ {
		require.NoError(t, fr.DrawFrame())
	}
}
