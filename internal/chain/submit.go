package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// SubmitResolution signs and broadcasts submitResolution. Each call picks a
// fresh nonce and gas price, so a retry after a failed broadcast is a new
// transaction.
func (c *Client) SubmitResolution(ctx context.Context, commit domain.ResolutionCommit) (string, error) {
	if commit.Confidence < 0 {
		return "", fmt.Errorf("chain: negative confidence %d", commit.Confidence)
	}
	data, err := contractABI.Pack(methodSubmit,
		[32]byte(commit.RequestID),
		commit.Outcome,
		big.NewInt(int64(commit.Confidence)),
		commit.EvidenceHash,
	)
	if err != nil {
		return "", fmt.Errorf("chain: pack %s: %w", methodSubmit, err)
	}
	return c.send(ctx, data, nil, c.opts.CommitGasLimit)
}

// RegisterAgent sends the payable registerAgent call with stakeWei attached.
func (c *Client) RegisterAgent(ctx context.Context, stakeWei *big.Int) (string, error) {
	if stakeWei == nil || stakeWei.Sign() <= 0 {
		return "", fmt.Errorf("chain: stake must be positive")
	}
	data, err := contractABI.Pack(methodRegister)
	if err != nil {
		return "", fmt.Errorf("chain: pack %s: %w", methodRegister, err)
	}
	return c.send(ctx, data, stakeWei, c.opts.RegisterGasLimit)
}

// send builds a legacy transaction to the contract, signs it and
// broadcasts it. The nonce lock is held until the node has accepted the
// transaction.
func (c *Client) send(ctx context.Context, data []byte, value *big.Int, gas uint64) (string, error) {
	if value == nil {
		value = new(big.Int)
	}

	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	from := c.signer.Address()
	nonce, err := c.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("chain: pending nonce: %w", err)
	}
	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &c.contract,
		Value:    value,
		Data:     data,
	})
	signed, err := c.signer.SignTx(tx)
	if err != nil {
		return "", fmt.Errorf("chain: %w: %v", domain.ErrSigningFailed, err)
	}
	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("chain: send transaction: %w", err)
	}

	c.logger.InfoContext(ctx, "transaction broadcast",
		slog.String("tx_hash", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
		slog.String("gas_price", gasPrice.String()),
	)
	return signed.Hash().Hex(), nil
}

// WaitForReceipt polls for the receipt of txHash until it is mined or
// ReceiptTimeout elapses. A reverted transaction is returned as a receipt
// with Status 0, not as an error.
func (c *Client) WaitForReceipt(ctx context.Context, txHash string) (domain.Receipt, error) {
	hash := common.HexToHash(txHash)
	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.opts.ReceiptPoll)
	defer ticker.Stop()

	var lastErr error
	for {
		r, err := c.rpc.TransactionReceipt(waitCtx, hash)
		switch {
		case err == nil && r != nil:
			rec := domain.Receipt{
				TxHash:  hash.Hex(),
				Status:  r.Status,
				GasUsed: r.GasUsed,
			}
			if r.BlockNumber != nil {
				rec.BlockNumber = r.BlockNumber.Uint64()
			}
			return rec, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			lastErr = err
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return domain.Receipt{}, fmt.Errorf("chain: wait receipt %s: %w", hash.Hex(), ctx.Err())
			}
			if lastErr != nil {
				return domain.Receipt{}, fmt.Errorf("chain: wait receipt %s: %w (last error: %v)", hash.Hex(), domain.ErrReceiptTimeout, lastErr)
			}
			return domain.Receipt{}, fmt.Errorf("chain: wait receipt %s: %w", hash.Hex(), domain.ErrReceiptTimeout)
		case <-ticker.C:
		}
	}
}
