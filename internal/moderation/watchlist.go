package moderation

import (
	"sync"

	"github.com/whisper/modbot/internal/report"
)

// Watchlist tracks users flagged for future scrutiny without immediate
// action. Entries are append-only.
type Watchlist interface {
	// Add appends r to the list kept for userID.
	Add(userID string, r *report.Record)

	// Get returns the records kept for userID, oldest first.
	Get(userID string) []*report.Record

	// Len returns the number of watched users.
	Len() int
}

// MemoryWatchlist is an in-memory Watchlist, safe for concurrent use.
type MemoryWatchlist struct {
	mu      sync.RWMutex
	entries map[string][]*report.Record
}

// NewMemoryWatchlist creates an empty watchlist.
func NewMemoryWatchlist() *MemoryWatchlist {
	return &MemoryWatchlist{entries: make(map[string][]*report.Record)}
}

func (w *MemoryWatchlist) Add(userID string, r *report.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[userID] = append(w.entries[userID], r)
}

func (w *MemoryWatchlist) Get(userID string) []*report.Record {
	w.mu.RLock()
	defer w.mu.RUnlock()
	recs := w.entries[userID]
	out := make([]*report.Record, len(recs))
	copy(out, recs)
	return out
}

func (w *MemoryWatchlist) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}
