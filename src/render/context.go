package render

// FrameContext is the slice of the renderer the frame loop drives. The
// loop owns ordering; the context owns the handles. Splitting the two
// keeps the retry and backpressure logic testable without a device.
type FrameContext interface {
	// WaitForSlot blocks until slot's previous frame retires, bounding
	// host-side latency to the pipelining depth.
	WaitForSlot(slot int) error

	// ResetSlot rearms slot's fence. Called only after a successful
	// acquire, so a failed frame leaves the fence signaled and the
	// retry does not deadlock.
	ResetSlot(slot int) error

	// WriteFrameData updates slot's per-frame uniform data. Safe only
	// after WaitForSlot for the same slot.
	WriteFrameData(slot int, frame uint64) error

	// AcquireImage obtains the next presentation image for slot,
	// returning its index.
	AcquireImage(slot int) (int, error)

	// RecordCompute records the compute prepass, including the barrier
	// that hands its output to the graphics stage.
	RecordCompute(slot int) error

	// RecordGraphics records the graphics pass targeting imageIndex.
	RecordGraphics(slot, imageIndex int) error

	// SubmitFrame submits slot's recorded work, fencing the slot and
	// chaining the acquire and render-finished semaphores.
	SubmitFrame(slot int) error

	// PresentImage queues imageIndex for display after slot's render
	// completes.
	PresentImage(slot, imageIndex int) error

	// RebuildChain recreates the presentation chain after an
	// out-of-date signal or an explicit resize.
	RebuildChain() error

	// CollectGarbage frees deferred resources no in-flight frame can
	// still reference.
	CollectGarbage(frame uint64)
}
