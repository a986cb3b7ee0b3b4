package render

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// maxFrameRetries bounds how many rebuild-and-retry rounds one DrawFrame
// call attempts before giving up on the frame.
const maxFrameRetries = 3

// FrameRenderer drives the per-frame state machine over a FrameContext:
// backpressure on the slot fence, image acquire, compute then graphics
// recording, a single submit and the present. An out-of-date signal at
// acquire or present rebuilds the presentation chain and retries the
// frame in the same slot; fatal errors latch and fail every later call.
type FrameRenderer struct {
	ctx    FrameContext
	depth  int
	frame  uint64
	fatal  error
	logger *slog.Logger
}

// NewFrameRenderer builds a frame loop over ctx with the given
// pipelining depth.
func NewFrameRenderer(ctx FrameContext, depth int, logger *slog.Logger) *FrameRenderer {
	if depth <= 0 {
		depth = DefaultFramesInFlight
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &FrameRenderer{ctx: ctx, depth: depth, logger: logger}
}

// FrameCount reports how many frames completed successfully.
func (fr *FrameRenderer) FrameCount() uint64 { return fr.frame }

// DrawFrame runs one frame through the pipeline. It returns nil when the
// frame was submitted and presented, and the latched error once a fatal
// device condition was observed.
func (fr *FrameRenderer) DrawFrame() error {
	if fr.fatal != nil {
		return fr.fatal
	}

	slot := int(fr.frame % uint64(fr.depth))
	if err := fr.ctx.WaitForSlot(slot); err != nil {
		return fr.latch(err)
	}
	fr.ctx.CollectGarbage(fr.frame)

	for attempt := 0; ; attempt++ {
		retry, err := fr.runFrame(slot)
		if err != nil {
			return fr.latch(err)
		}
		if !retry {
			break
		}
		if attempt+1 >= maxFrameRetries {
			return errors.Wrapf(ErrOutOfDate,
				"frame %d still out of date after %d rebuilds", fr.frame, maxFrameRetries)
		}
		fr.logger.Debug("retrying frame after chain rebuild", "frame", fr.frame, "attempt", attempt+1)
	}

	fr.frame++
	return nil
}

// runFrame executes one attempt. The returned bool asks for a retry in
// the same slot after a chain rebuild.
func (fr *FrameRenderer) runFrame(slot int) (bool, error) {
	imageIndex, err := fr.ctx.AcquireImage(slot)
	if errors.Is(err, ErrOutOfDate) {
		return true, fr.rebuild()
	}
	if err != nil {
		return false, err
	}

	// The fence is rearmed only once an image is in hand. Resetting
	// before a failed acquire would leave the next wait on this slot
	// blocking forever.
	if err := fr.ctx.ResetSlot(slot); err != nil {
		return false, err
	}
	if err := fr.ctx.WriteFrameData(slot, fr.frame); err != nil {
		return false, err
	}
	if err := fr.ctx.RecordCompute(slot); err != nil {
		return false, err
	}
	if err := fr.ctx.RecordGraphics(slot, imageIndex); err != nil {
		return false, err
	}
	if err := fr.ctx.SubmitFrame(slot); err != nil {
		return false, err
	}

	err = fr.ctx.PresentImage(slot, imageIndex)
	if errors.Is(err, ErrOutOfDate) {
		// The submit already consumed this attempt's semaphores; the
		// rebuild only readies the chain for the next DrawFrame call.
		return false, fr.rebuild()
	}
	return false, err
}

func (fr *FrameRenderer) rebuild() error {
	if err := fr.ctx.RebuildChain(); err != nil && !errors.Is(err, ErrOutOfDate) {
		return err
	}
	return nil
}

// latch records a fatal error so every later DrawFrame fails fast.
// Recoverable frame errors pass through unlatched.
func (fr *FrameRenderer) latch(err error) error {
	if err == nil || isRecoverableFrameError(err) {
		return err
	}
	if isFatal(err) {
		fr.fatal = err
		fr.logger.Error("frame loop latched fatal error", "frame", fr.frame, "err", err)
	}
	return err
}
