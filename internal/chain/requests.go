package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// ResolutionRequest reads getResolutionRequest for id. A request that was
// never created reads back as all zeros and is reported as ErrNotFound.
func (c *Client) ResolutionRequest(ctx context.Context, id domain.RequestID) (domain.ResolutionRequest, error) {
	vals, err := c.call(ctx, methodRequest, [32]byte(id))
	if err != nil {
		return domain.ResolutionRequest{}, err
	}
	if len(vals) != 8 {
		return domain.ResolutionRequest{}, fmt.Errorf("chain: %s returned %d values", methodRequest, len(vals))
	}

	var (
		marketID, _    = vals[0].(*big.Int)
		question, _    = vals[1].(string)
		category, _    = vals[2].(string)
		requestTime, _ = vals[3].(*big.Int)
		deadline, _    = vals[4].(*big.Int)
		requester, _   = vals[5].(common.Address)
		fee, _         = vals[6].(*big.Int)
		status, _      = vals[7].(uint8)
	)
	if marketID == nil || requestTime == nil || deadline == nil || fee == nil {
		return domain.ResolutionRequest{}, fmt.Errorf("chain: %s: unexpected value types", methodRequest)
	}
	if requester == (common.Address{}) && requestTime.Sign() == 0 {
		return domain.ResolutionRequest{}, fmt.Errorf("chain: request %s: %w", id.Short(), domain.ErrNotFound)
	}

	return domain.ResolutionRequest{
		ID:          id,
		MarketID:    marketID.String(),
		Question:    question,
		Category:    domain.NormalizeCategory(category),
		RequestTime: unixTime(requestTime),
		Deadline:    unixTime(deadline),
		Requester:   requester.Hex(),
		Fee:         fee,
		Status:      status,
	}, nil
}

// AgentStats reads getAgentStats. A revert or empty return, which is what an
// unregistered agent gets, yields zeroed stats and no error. Transport and
// decoding failures return the zeroed stats together with the error.
func (c *Client) AgentStats(ctx context.Context, agent string) (domain.AgentStats, error) {
	zero := domain.AgentStats{Stake: new(big.Int)}
	if !common.IsHexAddress(agent) {
		return zero, fmt.Errorf("chain: invalid agent address %q", agent)
	}
	vals, err := c.call(ctx, methodAgentStats, common.HexToAddress(agent))
	if errors.Is(err, errCallRejected) {
		c.logger.DebugContext(ctx, "agent stats rejected, reporting zero", slog.String("error", err.Error()))
		return zero, nil
	}
	if err != nil {
		return zero, err
	}
	if len(vals) != 4 {
		return zero, fmt.Errorf("chain: %s returned %d values", methodAgentStats, len(vals))
	}
	nums := make([]*big.Int, 4)
	for i, v := range vals {
		n, ok := v.(*big.Int)
		if !ok {
			return zero, fmt.Errorf("chain: %s value %d has type %T", methodAgentStats, i, v)
		}
		nums[i] = n
	}
	return domain.AgentStats{
		Stake:            nums[0],
		Reputation:       nums[1].Uint64(),
		TotalResolutions: nums[2].Uint64(),
		Accuracy:         nums[3].Uint64(),
	}, nil
}

func unixTime(n *big.Int) time.Time {
	if n.Sign() == 0 || !n.IsInt64() {
		return time.Time{}
	}
	return time.Unix(n.Int64(), 0).UTC()
}
