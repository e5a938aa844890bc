package policy

// PendingConfirmation is one queued action awaiting explicit user approval.
// Slots are stored redacted; Params keep the original values needed for
// execution after approval and never leave the session.
type PendingConfirmation struct {
	Tool   string
	Prompt string
	Slots  map[string]any
	Params map[string]any
	Risk   RiskTier
}

// ConfirmationQueue is the session-owned FIFO of actions awaiting approval.
// Queue order equals the order tools appeared in the plan; only the head is
// ever surfaced to the user. The queue is owned by one session's state and
// is not shared across goroutines.
type ConfirmationQueue struct {
	items []PendingConfirmation
}

// Enqueue appends one pending item.
func (q *ConfirmationQueue) Enqueue(item PendingConfirmation) {
	q.items = append(q.items, item)
}

// Head returns the first pending item without removing it.
func (q *ConfirmationQueue) Head() (PendingConfirmation, bool) {
	if len(q.items) == 0 {
		return PendingConfirmation{}, false
	}
	return q.items[0], true
}

// Dequeue removes and returns the head. Called after the head's tool
// executed or the user explicitly declined it; a decline removes only the
// head, never the remainder.
func (q *ConfirmationQueue) Dequeue() (PendingConfirmation, bool) {
	if len(q.items) == 0 {
		return PendingConfirmation{}, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

// Len returns the number of pending items.
func (q *ConfirmationQueue) Len() int { return len(q.items) }

// Clear drops all pending items. Used on session reset.
func (q *ConfirmationQueue) Clear() { q.items = nil }

// Items returns a copy of the queue, head first, for traces.
func (q *ConfirmationQueue) Items() []PendingConfirmation {
	out := make([]PendingConfirmation, len(q.items))
	copy(out, q.items)
	return out
}
