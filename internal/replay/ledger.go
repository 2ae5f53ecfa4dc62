// Package replay tracks consumed authorization query ids and decides whether a
// signed created_at is still fresh.
//
// An authorization is fresh iff
//
//	now - timeout < created_at <= now  and  created_at > horizon
//
// where horizon is the highest cutoff ever purged. Entries whose created_at has
// fallen out of the window are purged; anything they could have matched is
// already stale, so forgetting them cannot let a replay through.
package replay

import (
	"container/heap"
	"sort"
)

type Entry struct {
	QueryID   uint32 `json:"query_id"`
	CreatedAt uint64 `json:"created_at"`
}

// Ledger is not safe for concurrent use; the engine serializes access.
type Ledger struct {
	used  map[uint32]uint64
	order entryHeap

	LastCleanTime uint64
	Horizon       uint64
}

func NewLedger(entries []Entry, lastCleanTime, horizon uint64) *Ledger {
	l := &Ledger{
		used:          make(map[uint32]uint64, len(entries)),
		LastCleanTime: lastCleanTime,
		Horizon:       horizon,
	}
	for _, e := range entries {
		l.Mark(e.QueryID, e.CreatedAt)
	}
	return l
}

// Fresh reports whether createdAt lies inside the acceptance window.
func (l *Ledger) Fresh(now uint64, timeout uint32, createdAt uint64) bool {
	if createdAt > now {
		return false
	}
	if now >= uint64(timeout) && createdAt <= now-uint64(timeout) {
		return false
	}
	return createdAt > l.Horizon
}

func (l *Ledger) Seen(queryID uint32) bool {
	_, ok := l.used[queryID]
	return ok
}

// Mark records queryID as consumed. Marking an id twice keeps the first entry.
func (l *Ledger) Mark(queryID uint32, createdAt uint64) {
	if _, ok := l.used[queryID]; ok {
		return
	}
	l.used[queryID] = createdAt
	heap.Push(&l.order, Entry{QueryID: queryID, CreatedAt: createdAt})
}

// Purge drops every entry with created_at <= now - timeout, raises the
// horizon to that cutoff and records now as the last clean time. It returns
// the purged ids.
func (l *Ledger) Purge(now uint64, timeout uint32) []uint32 {
	l.LastCleanTime = now
	if now < uint64(timeout) {
		return nil
	}
	cut := now - uint64(timeout)
	var purged []uint32
	for l.order.Len() > 0 && l.order[0].CreatedAt <= cut {
		e := heap.Pop(&l.order).(Entry)
		delete(l.used, e.QueryID)
		purged = append(purged, e.QueryID)
	}
	if cut > l.Horizon {
		l.Horizon = cut
	}
	return purged
}

func (l *Ledger) Len() int { return len(l.used) }

// Entries returns the live entries ordered by query id.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, 0, len(l.used))
	for id, at := range l.used {
		out = append(out, Entry{QueryID: id, CreatedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueryID < out[j].QueryID })
	return out
}

func (l *Ledger) Clone() *Ledger {
	return NewLedger(l.Entries(), l.LastCleanTime, l.Horizon)
}

// entryHeap is a min-heap on CreatedAt, ties broken by QueryID.
type entryHeap []Entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].CreatedAt != h[j].CreatedAt {
		return h[i].CreatedAt < h[j].CreatedAt
	}
	return h[i].QueryID < h[j].QueryID
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(Entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
