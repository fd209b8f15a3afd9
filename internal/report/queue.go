package report

import (
	"errors"
	"sync"
)

// ErrNotQueued is returned when a record id is not in the queue.
var ErrNotQueued = errors.New("report: record not queued")

// Queue holds completed reports in arrival order until a moderator resolves
// them. A record at the head is claimed by one moderator at a time so two
// moderators never review the same report concurrently.
type Queue interface {
	// Push appends a snapshot to the tail.
	Push(r *Record)

	// Claim returns the oldest record not claimed by someone else and marks
	// it as held by moderatorID. A moderator already holding a claim gets the
	// same record back. It returns nil when nothing is available.
	Claim(moderatorID string) *Record

	// Release returns a claimed record to the queue at its original position.
	Release(id string) error

	// Remove deletes a record, claimed or not.
	Remove(id string) error

	// Len returns the number of queued records, including claimed ones.
	Len() int

	// List returns the queued records in order.
	List() []QueuedRecord
}

// QueuedRecord is a queue entry as seen by listings.
type QueuedRecord struct {
	Record    *Record
	ClaimedBy string
}

// MemoryQueue is an in-memory Queue, safe for concurrent use.
type MemoryQueue struct {
	mu      sync.Mutex
	entries []QueuedRecord
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(r *Record) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, QueuedRecord{Record: r})
}

func (q *MemoryQueue) Claim(moderatorID string) *Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.ClaimedBy == moderatorID {
			return e.Record
		}
	}
	for i := range q.entries {
		if q.entries[i].ClaimedBy == "" {
			q.entries[i].ClaimedBy = moderatorID
			return q.entries[i].Record
		}
	}
	return nil
}

func (q *MemoryQueue) Release(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.index(id)
	if i < 0 {
		return ErrNotQueued
	}
	q.entries[i].ClaimedBy = ""
	return nil
}

func (q *MemoryQueue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.index(id)
	if i < 0 {
		return ErrNotQueued
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	return nil
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *MemoryQueue) List() []QueuedRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedRecord, len(q.entries))
	copy(out, q.entries)
	return out
}

// index must be called with mu held.
func (q *MemoryQueue) index(id string) int {
	for i, e := range q.entries {
		if e.Record.ID == id {
			return i
		}
	}
	return -1
}
