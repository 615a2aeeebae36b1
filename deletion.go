package rhi

import (
	"fmt"
	"sync"

	"github.com/gogpu/rhi/gpucore"
)

// DeletionOwner is the command buffer a deferred deletion is gated on.
// *CommandBuffer implements it.
type DeletionOwner interface {
	// FenceSignaledCounter returns how many times the owner's fence has
	// been observed signaled. It never decreases.
	FenceSignaledCounter() uint64
}

type deletionKey struct {
	kind   gpucore.ResourceKind
	handle uint64
}

type deletionEntry struct {
	deletionKey
	owner  DeletionOwner
	target uint64
	frame  uint64
}

// DeferredDeletionQueue postpones native destruction until the GPU has
// provably finished with a resource.
//
// An entry is destroyed once at least margin frames have passed since it
// was enqueued and, when it has an owner, the owner's fence-signaled
// counter has reached the value the owner would report after the work
// recorded so far completes.
//
// DeferredDeletionQueue is safe for concurrent use.
type DeferredDeletionQueue struct {
	mu sync.Mutex

	adapter gpucore.GPUAdapter
	margin  uint64
	frame   func() uint64

	entries []deletionEntry
	queued  map[deletionKey]struct{}

	// onDestroy runs after each native destruction.
	onDestroy func(kind gpucore.ResourceKind, handle uint64)
}

// NewDeferredDeletionQueue creates a deletion queue. frame reports the
// current frame number; margin is the minimum number of frames an entry
// stays queued.
func NewDeferredDeletionQueue(adapter gpucore.GPUAdapter, margin uint64, frame func() uint64) *DeferredDeletionQueue {
	return &DeferredDeletionQueue{
		adapter: adapter,
		margin:  margin,
		frame:   frame,
		queued:  make(map[deletionKey]struct{}),
	}
}

// Enqueue schedules handle for destruction. owner may be nil, in which case
// only the frame margin gates the deletion.
//
// Enqueueing the same (kind, handle) pair twice is a protocol violation;
// the second call is ignored.
func (q *DeferredDeletionQueue) Enqueue(kind gpucore.ResourceKind, handle uint64, owner DeletionOwner) error {
	var target uint64
	if owner != nil {
		target = owner.FenceSignaledCounter() + 1
	}
	return q.EnqueueAt(kind, handle, owner, target)
}

// EnqueueAt schedules handle for destruction once owner's fence-signaled
// counter reaches target, such as the SubmittedFenceCounter of the
// submission that last used the resource.
func (q *DeferredDeletionQueue) EnqueueAt(kind gpucore.ResourceKind, handle uint64, owner DeletionOwner, target uint64) error {
	if handle == gpucore.InvalidID {
		return nil
	}
	key := deletionKey{kind: kind, handle: handle}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.queued[key]; dup {
		return violation(ErrDoubleEnqueue, "resource enqueued for deletion twice", "kind", kind, "handle", handle)
	}
	e := deletionEntry{deletionKey: key, owner: owner, target: target, frame: q.frame()}
	q.entries = append(q.entries, e)
	q.queued[key] = struct{}{}
	return nil
}

// ReleaseResources destroys every eligible entry. With immediate set the
// frame and fence gates are skipped; use it only once the GPU is idle.
// It returns the number of resources destroyed.
func (q *DeferredDeletionQueue) ReleaseResources(immediate bool) int {
	q.mu.Lock()
	frame := q.frame()
	var ready []deletionKey
	for i := len(q.entries) - 1; i >= 0; i-- {
		e := q.entries[i]
		if !immediate && !q.eligible(e, frame) {
			continue
		}
		ready = append(ready, e.deletionKey)
		delete(q.queued, e.deletionKey)
		last := len(q.entries) - 1
		q.entries[i] = q.entries[last]
		q.entries[last] = deletionEntry{}
		q.entries = q.entries[:last]
	}
	q.mu.Unlock()

	for _, k := range ready {
		q.destroy(k)
	}
	if len(ready) > 0 {
		Logger().Debug("rhi: released deferred resources", "count", len(ready), "frame", frame, "immediate", immediate)
	}
	return len(ready)
}

func (q *DeferredDeletionQueue) eligible(e deletionEntry, frame uint64) bool {
	if frame < e.frame || frame-e.frame < q.margin {
		return false
	}
	return e.owner == nil || e.owner.FenceSignaledCounter() >= e.target
}

func (q *DeferredDeletionQueue) destroy(k deletionKey) {
	switch k.kind {
	case gpucore.ResourceBuffer:
		q.adapter.DestroyBuffer(gpucore.BufferID(k.handle))
	case gpucore.ResourceTexture:
		q.adapter.DestroyTexture(gpucore.TextureID(k.handle))
	case gpucore.ResourceSemaphore:
		q.adapter.DestroySemaphore(gpucore.SemaphoreID(k.handle))
	case gpucore.ResourceFence:
		q.adapter.DestroyFence(gpucore.FenceID(k.handle))
	case gpucore.ResourceCommandBuffer:
		q.adapter.FreeCommandBuffer(gpucore.CommandBufferID(k.handle))
	default:
		Logger().Error("rhi: unknown resource kind in deletion queue", "kind", fmt.Sprint(k.kind), "handle", k.handle)
		return
	}
	if q.onDestroy != nil {
		q.onDestroy(k.kind, k.handle)
	}
}

// Len returns the number of queued entries.
func (q *DeferredDeletionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
