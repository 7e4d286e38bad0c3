package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/sajjadsiam/kalki-protocol/internal/crypto"
	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type fakeBackend struct {
	mu        sync.Mutex
	head      uint64
	logs      []types.Log
	queries   [][2]uint64
	callOut   []byte
	callErr   error
	callData  []byte
	sent      []*types.Transaction
	receipts  map[common.Hash]*types.Receipt
	misses    int
	gasPrice  *big.Int
	filterErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{receipts: map[common.Hash]*types.Receipt{}, gasPrice: big.NewInt(5_000_000_000)}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(97), nil }

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	f.queries = append(f.queries, [2]uint64{from, to})
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callData = msg.Data
	return f.callOut, f.callErr
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return f.gasPrice, nil }

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, prev := range f.sent {
		if prev.Nonce() == tx.Nonce() {
			return errors.New("nonce too low")
		}
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.misses > 0 {
		f.misses--
		return nil, ethereum.NotFound
	}
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) Close() {}

func newTestClient(t *testing.T, f *fakeBackend, opts Options) *Client {
	t.Helper()
	signer, err := crypto.NewSigner(testKey, big.NewInt(97))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return newClient(f, testContract, signer, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func selectionLog(t *testing.T, block uint64, id domain.RequestID, agent common.Address, weight int64) types.Log {
	t.Helper()
	ev := contractABI.Events[eventSelected]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(weight))
	if err != nil {
		t.Fatalf("pack log data: %v", err)
	}
	return types.Log{
		Address:     testContract,
		Topics:      []common.Hash{ev.ID, common.Hash(id), common.BytesToHash(agent.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BytesToHash([]byte{byte(block)}),
	}
}

func TestDecodeSelection(t *testing.T) {
	id := domain.RequestID{0xaa, 0xbb}
	agent := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	ev, err := decodeSelection(selectionLog(t, 10, id, agent, 42))
	if err != nil {
		t.Fatalf("decodeSelection: %v", err)
	}
	if ev.RequestID != id || ev.Agent != agent.Hex() || ev.SelectionWeight.Int64() != 42 || ev.BlockNumber != 10 {
		t.Fatalf("event = %+v", ev)
	}

	bad := selectionLog(t, 10, id, agent, 1)
	bad.Topics = bad.Topics[:2]
	if _, err := decodeSelection(bad); err == nil {
		t.Fatal("decodeSelection with missing topic: want error")
	}
}

func TestSelectionEventsChunksRange(t *testing.T) {
	f := newFakeBackend()
	f.head = 12
	agent := common.HexToAddress("0x01")
	f.logs = []types.Log{
		selectionLog(t, 2, domain.RequestID{1}, agent, 1),
		selectionLog(t, 7, domain.RequestID{2}, agent, 1),
		selectionLog(t, 12, domain.RequestID{3}, agent, 1),
	}
	removed := selectionLog(t, 8, domain.RequestID{4}, agent, 1)
	removed.Removed = true
	f.logs = append(f.logs, removed)

	c := newTestClient(t, f, Options{MaxBlockRange: 5})
	events, scanned, err := c.SelectionEvents(context.Background(), 1)
	if err != nil {
		t.Fatalf("SelectionEvents: %v", err)
	}
	if scanned != 12 {
		t.Fatalf("scannedTo = %d, want 12", scanned)
	}
	want := [][2]uint64{{1, 5}, {6, 10}, {11, 12}}
	if len(f.queries) != len(want) {
		t.Fatalf("queries = %v, want %v", f.queries, want)
	}
	for i := range want {
		if f.queries[i] != want[i] {
			t.Fatalf("queries = %v, want %v", f.queries, want)
		}
	}
	if len(events) != 3 || events[0].RequestID != (domain.RequestID{1}) || events[2].RequestID != (domain.RequestID{3}) {
		t.Fatalf("events = %+v", events)
	}
}

func TestSelectionEventsAheadOfHead(t *testing.T) {
	f := newFakeBackend()
	f.head = 9
	c := newTestClient(t, f, Options{})
	events, scanned, err := c.SelectionEvents(context.Background(), 10)
	if err != nil || len(events) != 0 || scanned != 9 {
		t.Fatalf("SelectionEvents = %v, %d, %v", events, scanned, err)
	}
	if len(f.queries) != 0 {
		t.Fatalf("unexpected FilterLogs calls: %v", f.queries)
	}
}

func TestSelectionEventsFilterError(t *testing.T) {
	f := newFakeBackend()
	f.head = 3
	f.filterErr = errors.New("rpc down")
	c := newTestClient(t, f, Options{})
	if _, _, err := c.SelectionEvents(context.Background(), 1); err == nil {
		t.Fatal("want error")
	}
}

func TestResolutionRequest(t *testing.T) {
	f := newFakeBackend()
	requester := common.HexToAddress("0x00000000000000000000000000000000000000B0")
	out, err := contractABI.Methods[methodRequest].Outputs.Pack(
		big.NewInt(7), "Will BTC close above $60k?", " Crypto ",
		big.NewInt(1_700_000_000), big.NewInt(1_700_086_400),
		requester, big.NewInt(1e16), uint8(1),
	)
	if err != nil {
		t.Fatalf("pack outputs: %v", err)
	}
	f.callOut = out
	c := newTestClient(t, f, Options{})

	id := domain.RequestID{0x11}
	req, err := c.ResolutionRequest(context.Background(), id)
	if err != nil {
		t.Fatalf("ResolutionRequest: %v", err)
	}
	if string(f.callData[:4]) != string(contractABI.Methods[methodRequest].ID) {
		t.Fatal("call data does not start with getResolutionRequest selector")
	}
	if req.ID != id || req.MarketID != "7" || req.Category != domain.CategoryCrypto || req.Status != 1 {
		t.Fatalf("request = %+v", req)
	}
	if req.Requester != requester.Hex() || req.Fee.Cmp(big.NewInt(1e16)) != 0 {
		t.Fatalf("request = %+v", req)
	}
	if !req.Deadline.Equal(time.Unix(1_700_086_400, 0)) {
		t.Fatalf("deadline = %v", req.Deadline)
	}
}

func TestResolutionRequestNotFound(t *testing.T) {
	f := newFakeBackend()
	out, err := contractABI.Methods[methodRequest].Outputs.Pack(
		new(big.Int), "", "", new(big.Int), new(big.Int), common.Address{}, new(big.Int), uint8(0),
	)
	if err != nil {
		t.Fatal(err)
	}
	f.callOut = out
	c := newTestClient(t, f, Options{})
	if _, err := c.ResolutionRequest(context.Background(), domain.RequestID{1}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAgentStats(t *testing.T) {
	f := newFakeBackend()
	out, err := contractABI.Methods[methodAgentStats].Outputs.Pack(
		big.NewInt(1e17), big.NewInt(900), big.NewInt(12), big.NewInt(91),
	)
	if err != nil {
		t.Fatal(err)
	}
	f.callOut = out
	c := newTestClient(t, f, Options{})

	stats, err := c.AgentStats(context.Background(), c.Address())
	if err != nil {
		t.Fatalf("AgentStats: %v", err)
	}
	if stats.Stake.Cmp(big.NewInt(1e17)) != 0 || stats.Reputation != 900 || stats.TotalResolutions != 12 || stats.Accuracy != 91 {
		t.Fatalf("stats = %+v", stats)
	}

	// Unregistered agents revert or read back empty: zero stats, no error.
	f.callErr = errors.New("execution reverted")
	stats, err = c.AgentStats(context.Background(), c.Address())
	if err != nil {
		t.Fatalf("AgentStats on revert: %v", err)
	}
	if stats.Stake == nil || stats.Stake.Sign() != 0 || stats.Reputation != 0 {
		t.Fatalf("stats on revert = %+v, want zeroed", stats)
	}

	f.callErr = nil
	f.callOut = nil
	stats, err = c.AgentStats(context.Background(), c.Address())
	if err != nil {
		t.Fatalf("AgentStats on empty result: %v", err)
	}
	if stats.Stake == nil || stats.Stake.Sign() != 0 {
		t.Fatalf("stats on empty result = %+v, want zeroed", stats)
	}

	f.callErr = errors.New("dial tcp 127.0.0.1:8545: connection refused")
	stats, err = c.AgentStats(context.Background(), c.Address())
	if err == nil {
		t.Fatal("transport failure: want error")
	}
	if stats.Stake == nil || stats.Stake.Sign() != 0 {
		t.Fatalf("stats on transport failure = %+v, want zeroed", stats)
	}
}

func TestSubmitResolution(t *testing.T) {
	f := newFakeBackend()
	c := newTestClient(t, f, Options{})

	commit := domain.ResolutionCommit{
		RequestID:    domain.RequestID{0x42},
		Outcome:      true,
		Confidence:   86,
		EvidenceHash: [32]byte{0x99},
	}
	hash, err := c.SubmitResolution(context.Background(), commit)
	if err != nil {
		t.Fatalf("SubmitResolution: %v", err)
	}
	if len(f.sent) != 1 {
		t.Fatalf("sent %d txs", len(f.sent))
	}
	tx := f.sent[0]
	if tx.Hash().Hex() != hash {
		t.Fatalf("hash = %s, want %s", hash, tx.Hash().Hex())
	}
	if tx.Gas() != DefaultCommitGasLimit || tx.GasPrice().Cmp(f.gasPrice) != 0 || *tx.To() != testContract {
		t.Fatalf("tx gas=%d price=%v to=%s", tx.Gas(), tx.GasPrice(), tx.To().Hex())
	}

	method := contractABI.Methods[methodSubmit]
	if string(tx.Data()[:4]) != string(method.ID) {
		t.Fatal("wrong selector")
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if args[0].([32]byte) != [32]byte(commit.RequestID) || args[1].(bool) != true ||
		args[2].(*big.Int).Int64() != 86 || args[3].([32]byte) != commit.EvidenceHash {
		t.Fatalf("args = %v", args)
	}
}

func TestConcurrentSubmitsUseDistinctNonces(t *testing.T) {
	f := newFakeBackend()
	c := newTestClient(t, f, Options{})

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.SubmitResolution(context.Background(), domain.ResolutionCommit{RequestID: domain.RequestID{byte(i)}, Confidence: 60})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("SubmitResolution: %v", err)
		}
	}
	if len(f.sent) != 10 {
		t.Fatalf("sent %d txs, want 10", len(f.sent))
	}
}

func TestRegisterAgent(t *testing.T) {
	f := newFakeBackend()
	c := newTestClient(t, f, Options{})

	if _, err := c.RegisterAgent(context.Background(), big.NewInt(0)); err == nil {
		t.Fatal("zero stake accepted")
	}
	stake, _ := ToWei("0.01")
	if _, err := c.RegisterAgent(context.Background(), stake); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	tx := f.sent[0]
	if tx.Value().Cmp(stake) != 0 || tx.Gas() != DefaultRegisterGasLimit {
		t.Fatalf("tx value=%v gas=%d", tx.Value(), tx.Gas())
	}
}

func TestWaitForReceipt(t *testing.T) {
	f := newFakeBackend()
	c := newTestClient(t, f, Options{ReceiptPoll: time.Millisecond, ReceiptTimeout: time.Second})

	h := common.HexToHash("0x1234")
	f.receipts[h] = &types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 21000, BlockNumber: big.NewInt(55)}
	f.misses = 3

	r, err := c.WaitForReceipt(context.Background(), h.Hex())
	if err != nil {
		t.Fatalf("WaitForReceipt: %v", err)
	}
	if !r.Succeeded() || r.BlockNumber != 55 || r.GasUsed != 21000 {
		t.Fatalf("receipt = %+v", r)
	}
}

func TestWaitForReceiptTimeout(t *testing.T) {
	f := newFakeBackend()
	c := newTestClient(t, f, Options{ReceiptPoll: time.Millisecond, ReceiptTimeout: 20 * time.Millisecond})

	_, err := c.WaitForReceipt(context.Background(), "0xdead")
	if !errors.Is(err, domain.ErrReceiptTimeout) {
		t.Fatalf("err = %v, want ErrReceiptTimeout", err)
	}
}

func TestWaitForReceiptParentCancel(t *testing.T) {
	f := newFakeBackend()
	c := newTestClient(t, f, Options{ReceiptPoll: time.Millisecond, ReceiptTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.WaitForReceipt(ctx, "0xdead")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
