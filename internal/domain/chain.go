package domain

import (
	"context"
	"math/big"
)

// SelectionReader reads agent-selection events from the resolution contract.
type SelectionReader interface {
	// Head returns the latest block number known to the node.
	Head(ctx context.Context) (uint64, error)
	// SelectionEvents returns AgentSelected events from fromBlock up to the
	// returned scannedTo block (inclusive).
	SelectionEvents(ctx context.Context, fromBlock uint64) (events []SelectionEvent, scannedTo uint64, err error)
}

// RequestReader fetches resolution request details.
type RequestReader interface {
	ResolutionRequest(ctx context.Context, id RequestID) (ResolutionRequest, error)
}

// StatsReader fetches agent statistics. Implementations return zeroed stats
// instead of an error for unregistered agents.
type StatsReader interface {
	AgentStats(ctx context.Context, agent string) (AgentStats, error)
}

// Committer signs and broadcasts resolution commits and waits for them to be
// mined.
type Committer interface {
	SubmitResolution(ctx context.Context, commit ResolutionCommit) (txHash string, err error)
	WaitForReceipt(ctx context.Context, txHash string) (Receipt, error)
}

// Registrar performs the one-time agent registration.
type Registrar interface {
	RegisterAgent(ctx context.Context, stakeWei *big.Int) (txHash string, err error)
}

// Chain is the full chain collaborator used by the agent.
type Chain interface {
	SelectionReader
	RequestReader
	StatsReader
	Committer
	Registrar
	// Address returns the agent's own address.
	Address() string
}
