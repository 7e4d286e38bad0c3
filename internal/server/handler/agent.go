package handler

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/sajjadsiam/kalki-protocol/internal/chain"
	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// AgentHandler reports the agent's on-chain standing.
type AgentHandler struct {
	stats   domain.StatsReader
	address string
	logger  *slog.Logger
}

// NewAgentHandler creates an AgentHandler for address.
func NewAgentHandler(stats domain.StatsReader, address string, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{
		stats:   stats,
		address: address,
		logger:  logger.With(slog.String("handler", "agent")),
	}
}

// Stats returns getAgentStats for the agent. Lookup failures are reported
// as zero stats with an error field, matching what the chain client does.
// GET /api/agent/stats
func (h *AgentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.AgentStats(r.Context(), h.address)
	if stats.Stake == nil {
		stats.Stake = new(big.Int)
	}

	body := map[string]any{
		"address":           h.address,
		"stake_wei":         stats.Stake.String(),
		"stake":             chain.FromWei(stats.Stake),
		"reputation":        stats.Reputation,
		"total_resolutions": stats.TotalResolutions,
		"accuracy":          stats.Accuracy,
	}
	if err != nil {
		h.logger.WarnContext(r.Context(), "agent stats", slog.String("error", err.Error()))
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}
