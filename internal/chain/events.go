package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// SelectionEvents scans [fromBlock, head] for AgentSelected logs in windows
// of at most MaxBlockRange blocks. When fromBlock is past the head nothing
// is scanned and scannedTo is fromBlock-1.
func (c *Client) SelectionEvents(ctx context.Context, fromBlock uint64) ([]domain.SelectionEvent, uint64, error) {
	head, err := c.Head(ctx)
	if err != nil {
		return nil, 0, err
	}
	if fromBlock > head {
		return nil, fromBlock - 1, nil
	}

	topic := contractABI.Events[eventSelected].ID
	var events []domain.SelectionEvent
	for start := fromBlock; start <= head; {
		end := start + c.opts.MaxBlockRange - 1
		if end > head {
			end = head
		}
		logs, err := c.rpc.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{c.contract},
			Topics:    [][]common.Hash{{topic}},
		})
		if err != nil {
			return nil, 0, fmt.Errorf("chain: filter logs %d-%d: %w", start, end, err)
		}
		for _, lg := range logs {
			if lg.Removed {
				continue
			}
			ev, err := decodeSelection(lg)
			if err != nil {
				c.logger.WarnContext(ctx, "skipping undecodable log",
					slog.Uint64("block", lg.BlockNumber),
					slog.String("tx_hash", lg.TxHash.Hex()),
					slog.String("error", err.Error()),
				)
				continue
			}
			events = append(events, ev)
		}
		start = end + 1
	}
	return events, head, nil
}

// decodeSelection turns a raw AgentSelected log into a domain event.
func decodeSelection(lg types.Log) (domain.SelectionEvent, error) {
	event := contractABI.Events[eventSelected]
	if len(lg.Topics) != 3 || lg.Topics[0] != event.ID {
		return domain.SelectionEvent{}, fmt.Errorf("chain: not an %s log", eventSelected)
	}
	vals, err := event.Inputs.NonIndexed().Unpack(lg.Data)
	if err != nil {
		return domain.SelectionEvent{}, fmt.Errorf("chain: unpack %s data: %w", eventSelected, err)
	}
	weight, ok := vals[0].(*big.Int)
	if !ok {
		return domain.SelectionEvent{}, fmt.Errorf("chain: selectionWeight has type %T", vals[0])
	}
	return domain.SelectionEvent{
		RequestID:       domain.RequestID(lg.Topics[1]),
		Agent:           common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
		SelectionWeight: weight,
		BlockNumber:     lg.BlockNumber,
		TxHash:          lg.TxHash.Hex(),
	}, nil
}
