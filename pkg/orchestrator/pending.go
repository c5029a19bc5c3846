package orchestrator

import (
	"sync"
	"time"

	"github.com/medic/arbiter/pkg/models"
)

// maxPendingEntries bounds the in-memory pending queue; beyond it further
// PendingReview decisions are downgraded to Deny, per spec §5.
const maxPendingEntries = 1000

// pendingEntry is one kill awaiting human approval.
type pendingEntry struct {
	killReport models.KillReport
	decision   models.Decision
	expiry     time.Time
}

// pendingQueue is an in-memory map from kill_id to its pending entry,
// guarded by a single mutex per spec §5 ("Pending queue: ... a single
// mutex guards it"). inFlight tracks kill_ids whose approval is currently
// executing a restart, so a concurrent second approval request can be told
// "already in flight" (409) rather than "not pending" (404).
type pendingQueue struct {
	mu       sync.Mutex
	entries  map[string]pendingEntry
	inFlight map[string]bool
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{
		entries:  make(map[string]pendingEntry),
		inFlight: make(map[string]bool),
	}
}

// put inserts a pending entry unless the queue is at capacity, in which
// case ok is false and the caller must downgrade the decision to Deny.
func (q *pendingQueue) put(kr models.KillReport, d models.Decision, expiry time.Time) (ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= maxPendingEntries {
		return false
	}
	q.entries[kr.KillID] = pendingEntry{killReport: kr, decision: d, expiry: expiry}
	return true
}

// take removes and returns the entry for killID, if present. Used by the
// expiry ticker, which does not need in-flight tracking.
func (q *pendingQueue) take(killID string) (pendingEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[killID]
	if ok {
		delete(q.entries, killID)
	}
	return e, ok
}

// takeForApproval removes and returns the entry for killID for the HTTP
// approval path, additionally reporting conflict=true when killID has no
// pending entry but is already being approved by a concurrent request.
// Callers must pair a true return with a later clearInFlight(killID).
func (q *pendingQueue) takeForApproval(killID string) (e pendingEntry, found bool, conflict bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.entries[killID]; ok {
		delete(q.entries, killID)
		q.inFlight[killID] = true
		return e, true, false
	}
	if q.inFlight[killID] {
		return pendingEntry{}, false, true
	}
	return pendingEntry{}, false, false
}

// isInFlight reports whether killID is currently being approved, without
// mutating any state. Exposed for tests that need to synchronize on the
// in-flight window.
func (q *pendingQueue) isInFlight(killID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight[killID]
}

// clearInFlight releases the in-flight marker set by takeForApproval.
func (q *pendingQueue) clearInFlight(killID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, killID)
}

// expired returns (and removes) every entry whose deadline has passed.
func (q *pendingQueue) expired(now time.Time) []pendingEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []pendingEntry
	for id, e := range q.entries {
		if now.After(e.expiry) {
			out = append(out, e)
			delete(q.entries, id)
		}
	}
	return out
}

// len reports the current pending count, for /health.
func (q *pendingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
