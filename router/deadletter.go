package router

import (
	"sync"

	"github.com/BIGmindz/chainbridge/event"
	"github.com/BIGmindz/chainbridge/pkg/timestamp"
)

// DeadLetter is an event that exhausted a collaborator's retry policy,
// preserved with its failure reason for operator replay.
type DeadLetter struct {
	Event        *event.Event `json:"event"`
	Collaborator string       `json:"collaborator"`
	Reason       string       `json:"reason"`
	Attempts     int          `json:"attempts"`
	DeadAt       int64        `json:"dead_at"`
}

// DeadLetterQueue is a bounded in-memory queue. When full, the oldest entry
// is dropped to admit the new one; the drop is counted so operators can see
// loss.
type DeadLetterQueue struct {
	mu      sync.Mutex
	maxSize int
	entries []DeadLetter
	dropped int64
}

// NewDeadLetterQueue creates a queue holding at most maxSize entries.
// maxSize <= 0 selects a default of 1000.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{maxSize: maxSize}
}

// Push adds a dead letter, evicting the oldest entry when full.
func (q *DeadLetterQueue) Push(e *event.Event, collaborator, reason string, attempts int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
		q.dropped++
	}
	q.entries = append(q.entries, DeadLetter{
		Event:        e,
		Collaborator: collaborator,
		Reason:       reason,
		Attempts:     attempts,
		DeadAt:       timestamp.Now(),
	})
}

// Drain removes and returns all queued dead letters.
func (q *DeadLetterQueue) Drain() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.entries
	q.entries = nil
	return entries
}

// Len returns the number of queued dead letters.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Dropped returns how many dead letters were evicted unread.
func (q *DeadLetterQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
