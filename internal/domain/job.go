package domain

import "time"

// JobState is a step in the lifecycle of one resolution.
type JobState string

const (
	JobStateDetected          JobState = "detected"
	JobStateFetchingDetails   JobState = "fetching_details"
	JobStateGatheringEvidence JobState = "gathering_evidence"
	JobStateAnalyzing         JobState = "analyzing"
	JobStateSubmitting        JobState = "submitting"
	JobStateCommitted         JobState = "committed"
	JobStateFailed            JobState = "failed"
)

var jobTransitions = map[JobState][]JobState{
	JobStateDetected:          {JobStateFetchingDetails},
	JobStateFetchingDetails:   {JobStateGatheringEvidence},
	JobStateGatheringEvidence: {JobStateAnalyzing},
	JobStateAnalyzing:         {JobStateSubmitting},
	JobStateSubmitting:        {JobStateCommitted},
}

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobStateCommitted || s == JobStateFailed
}

// CanTransition reports whether moving from s to next is legal. Failed is
// reachable from every non-terminal state.
func (s JobState) CanTransition(next JobState) bool {
	if s.Terminal() {
		return false
	}
	if next == JobStateFailed {
		return true
	}
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ResolutionJob tracks one in-flight resolution from detection to commit.
type ResolutionJob struct {
	ID           string              `json:"id"`
	RequestID    RequestID           `json:"request_id"`
	Request      *ResolutionRequest  `json:"request,omitempty"`
	State        JobState            `json:"state"`
	Bundle       *EvidenceBundle     `json:"bundle,omitempty"`
	Decision     *ResolutionDecision `json:"decision,omitempty"`
	EvidenceHash string              `json:"evidence_hash,omitempty"`
	EvidenceKey  string              `json:"evidence_key,omitempty"`
	TxHash       string              `json:"tx_hash,omitempty"`
	Attempts     int                 `json:"attempts"`
	LastError    string              `json:"last_error,omitempty"`
	DetectedAt   time.Time           `json:"detected_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// ResolutionCommit is the payload of the submitResolution transaction.
type ResolutionCommit struct {
	RequestID    RequestID
	Outcome      bool
	Confidence   int
	EvidenceHash [32]byte
}

// Receipt is the confirmed result of a mined transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Status      uint64
	GasUsed     uint64
}

// Succeeded reports whether the transaction executed without reverting.
func (r Receipt) Succeeded() bool {
	return r.Status == 1
}

// ChannelResolution is the signal bus channel carrying JobEvent payloads.
const ChannelResolution = "ch:resolution"

// Notification event names for terminal jobs.
const (
	EventResolutionCommitted = "resolution_committed"
	EventResolutionFailed    = "resolution_failed"
)

// JobEvent is published on every job state change.
type JobEvent struct {
	From JobState      `json:"from,omitempty"`
	To   JobState      `json:"to"`
	Job  ResolutionJob `json:"job"`
	At   time.Time     `json:"at"`
}
