package orchestrator

import (
	"context"

	"aide/pkg/contextmgr"
	"aide/pkg/planner"
	"aide/pkg/policy"
	"aide/pkg/tier"
	"aide/pkg/tools"
)

// Phase names the turn state machine's states.
type Phase string

const (
	PhasePlanning     Phase = "planning"
	PhaseExecuting    Phase = "executing"
	PhaseVerifying    Phase = "verifying"
	PhaseFinalizing   Phase = "finalizing"
	PhaseDone         Phase = "done"
	PhaseAwaitingUser Phase = "awaiting_user"
)

// stepStatus tracks one plan step through the executing phase.
type stepStatus int8

const (
	stepUnvisited stepStatus = iota
	stepQueued               // waiting in the confirmation queue
	stepExecuted
	stepSkipped
)

// pendingTurn is the partial state of a logical turn paused in
// AwaitingUser. The next real-world utterance resumes it: an answer is
// concatenated for replanning, a confirmation advances the queue.
type pendingTurn struct {
	turnID         string
	utterances     []string
	plan           planner.Output
	decision       tier.Decision
	results        []tools.ToolResult
	statuses       []stepStatus
	cached         []*policy.Evaluation
	cursor         int
	run            *tools.Run
	awaitingAnswer bool // ask_user answer vs. confirmation
	auditIDs       []string
	steps          int
}

// sessionState is exclusively owned by its session. Turns within a
// session run strictly in sequence; only the cancel handle is touched
// from outside via barge-in.
type sessionState struct {
	id      string
	turns   int
	queue   policy.ConfirmationQueue
	context *contextmgr.Manager
	pending *pendingTurn
	cancel  context.CancelFunc
}

// reset forces a full session-state wipe. Used when the confirmation
// queue or pending turn is found corrupted; partial repair is never
// attempted.
func (s *sessionState) reset() {
	s.queue.Clear()
	s.pending = nil
	s.context.Clear()
}

// joinedUtterance returns the logical turn's utterances concatenated for
// replanning.
func (p *pendingTurn) joinedUtterance() string {
	joined := ""
	for i, u := range p.utterances {
		if i > 0 {
			joined += "\n"
		}
		joined += u
	}
	return joined
}
