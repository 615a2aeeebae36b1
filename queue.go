package rhi

import (
	"sync"

	"github.com/gogpu/rhi/gpucore"
)

// SemaphoreWait is a semaphore a submission waits on before Stage.
type SemaphoreWait struct {
	Semaphore *Semaphore
	Stage     gpucore.PipelineStage
}

// Queue is one device queue. It serializes submissions and owns the
// queue-level layout manager every recorder falls back to.
type Queue struct {
	mu sync.Mutex

	device  *Device
	typ     gpucore.QueueType
	layouts *LayoutManager

	submits uint64
}

func newQueue(d *Device, typ gpucore.QueueType) *Queue {
	return &Queue{device: d, typ: typ, layouts: NewLayoutManager(false, nil)}
}

// Type returns the queue type.
func (q *Queue) Type() gpucore.QueueType { return q.typ }

// Layouts returns the queue-level layout manager.
func (q *Queue) Layouts() *LayoutManager { return q.layouts }

// Submits returns the number of successful submissions.
func (q *Queue) Submits() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submits
}

// Submit submits an ended command buffer. The buffer waits on waits in
// addition to the semaphores added with AddWaitSemaphore, and signals
// signals on completion. The buffer's tracked layouts move into the
// queue's layout manager. A rejected submission keeps no reference to
// waits.
func (q *Queue) Submit(cb *CommandBuffer, waits []SemaphoreWait, signals []*Semaphore) error {
	if err := q.device.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	cb.mu.Lock()
	err := cb.submitLocked(q.typ, waits, signals)
	cb.mu.Unlock()
	if err != nil {
		return err
	}
	q.submits++
	cb.layouts.TransferTo(q.layouts)
	return nil
}
