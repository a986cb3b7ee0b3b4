package render

// deletionQueue defers resource destruction until the frame that last used
// the resource has provably completed on the GPU. A release is tagged with
// the frame counter at enqueue time; once the orchestrator has waited on
// the fence of a later frame occupying the same slot, every entry at least
// a full pipelining depth behind is safe to free.
type deletionQueue struct {
	depth   int
	pending []deferredDelete
}

type deferredDelete struct {
	frame   uint64
	destroy func()
}

func newDeletionQueue(depth int) *deletionQueue {
	return &deletionQueue{depth: depth}
}

// enqueue registers a destructor tagged with the frame that last
// referenced the resource.
func (q *deletionQueue) enqueue(frame uint64, destroy func()) {
	q.pending = append(q.pending, deferredDelete{frame: frame, destroy: destroy})
}

// collect frees everything whose tagged frame is at least one pipelining
// depth behind the given completed frame counter. Called once per frame
// after the slot fence wait.
func (q *deletionQueue) collect(completedFrame uint64) int {
	if completedFrame < uint64(q.depth) {
		return 0
	}
	horizon := completedFrame - uint64(q.depth)
	kept := q.pending[:0]
	freed := 0
	for _, d := range q.pending {
		if d.frame <= horizon {
			d.destroy()
			freed++
			continue
		}
		kept = append(kept, d)
	}
	q.pending = kept
	return freed
}

// drain frees everything unconditionally. Only valid after a full device
// idle wait.
func (q *deletionQueue) drain() int {
	freed := len(q.pending)
	for _, d := range q.pending {
		d.destroy()
	}
	q.pending = q.pending[:0]
	return freed
}

func (q *deletionQueue) len() int { return len(q.pending) }
