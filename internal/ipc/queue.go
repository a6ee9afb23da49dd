package ipc

import (
	"sync"

	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// PushResult tells the caller what an enqueue did to the buffer.
type PushResult int

const (
	// Queued appended the command.
	Queued PushResult = iota
	// Coalesced merged the command into a queued one with the same id.
	Coalesced
	// DroppedOldest appended the command after evicting the oldest droppable entry.
	DroppedOldest
	// DroppedSelf discarded the command because only triggers were queued.
	DroppedSelf
)

// Queue is the bounded host send buffer. Continuous commands coalesce by id and the oldest
// is evicted on overflow; triggers are refused with contracts.ErrChannelUnavailable instead.
// The lock covers only slice manipulation.
type Queue struct {
	mu       sync.Mutex
	items    []contracts.Command
	capacity int
	ready    chan struct{}
}

// NewQueue returns a queue holding at most capacity commands.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		items:    make([]contracts.Command, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Push enqueues cmd.
func (q *Queue) Push(cmd contracts.Command) (PushResult, error) {
	q.mu.Lock()
	result, err := q.push(cmd)
	q.mu.Unlock()
	if err == nil && result != DroppedSelf {
		q.signal()
	}
	return result, err
}

func (q *Queue) push(cmd contracts.Command) (PushResult, error) {
	if !cmd.Trigger {
		for i := range q.items {
			queued := &q.items[i]
			if queued.Trigger || queued.ID != cmd.ID || queued.Relative != cmd.Relative {
				continue
			}
			if cmd.Relative {
				queued.Value = clampDelta(queued.Value + cmd.Value)
			} else {
				queued.Value = cmd.Value
			}
			queued.Generation = cmd.Generation
			return Coalesced, nil
		}
	}
	if len(q.items) < q.capacity {
		q.items = append(q.items, cmd)
		return Queued, nil
	}
	if cmd.Trigger {
		return 0, contracts.ErrChannelUnavailable
	}
	for i := range q.items {
		if !q.items[i].Trigger {
			copy(q.items[i:], q.items[i+1:])
			q.items[len(q.items)-1] = cmd
			return DroppedOldest, nil
		}
	}
	return DroppedSelf, nil
}

// Requeue puts a command whose write failed back at the head. A droppable command is
// discarded when the buffer is full; a trigger is kept even if that exceeds the capacity.
func (q *Queue) Requeue(cmd contracts.Command) bool {
	q.mu.Lock()
	if len(q.items) >= q.capacity && !cmd.Trigger {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, contracts.Command{})
	copy(q.items[1:], q.items)
	q.items[0] = cmd
	q.mu.Unlock()
	q.signal()
	return true
}

// Pop removes the oldest command.
func (q *Queue) Pop() (contracts.Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return contracts.Command{}, false
	}
	cmd := q.items[0]
	copy(q.items, q.items[1:])
	q.items = q.items[:len(q.items)-1]
	return cmd, true
}

// Ready is signalled after a push; a receiver must re-check with Pop.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Len is the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func clampDelta(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
