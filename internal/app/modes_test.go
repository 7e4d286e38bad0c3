package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/sajjadsiam/kalki-protocol/internal/config"
	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

func testApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := config.Defaults()
	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var out bytes.Buffer
	a.out = &out
	return a, &out
}

type fakeRegistrar struct {
	stake   *big.Int
	sendErr error
	receipt domain.Receipt
}

func (f *fakeRegistrar) RegisterAgent(_ context.Context, stakeWei *big.Int) (string, error) {
	f.stake = stakeWei
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "0xreg", nil
}

func (f *fakeRegistrar) WaitForReceipt(context.Context, string) (domain.Receipt, error) {
	return f.receipt, nil
}

func TestRegisterConvertsStake(t *testing.T) {
	a, out := testApp(t)
	reg := &fakeRegistrar{receipt: domain.Receipt{TxHash: "0xreg", Status: 1, BlockNumber: 10}}

	if err := a.register(context.Background(), reg, "0.01"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.stake.String() != "10000000000000000" {
		t.Fatalf("stake wei = %s", reg.stake)
	}
	if !strings.Contains(out.String(), "0.01 BNB") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRegisterRejectsBadStake(t *testing.T) {
	a, _ := testApp(t)
	for _, stake := range []string{"", "abc", "0", "-1"} {
		reg := &fakeRegistrar{}
		if err := a.register(context.Background(), reg, stake); err == nil {
			t.Errorf("stake %q accepted", stake)
		}
		if reg.stake != nil {
			t.Errorf("stake %q reached the chain", stake)
		}
	}
}

func TestRegisterReverted(t *testing.T) {
	a, _ := testApp(t)
	reg := &fakeRegistrar{receipt: domain.Receipt{Status: 0}}
	if err := a.register(context.Background(), reg, "1"); !errors.Is(err, domain.ErrTxReverted) {
		t.Fatalf("err = %v, want ErrTxReverted", err)
	}
}

type fakeStats struct {
	stats domain.AgentStats
	err   error
}

func (f fakeStats) AgentStats(context.Context, string) (domain.AgentStats, error) { return f.stats, f.err }

func TestPrintStats(t *testing.T) {
	a, out := testApp(t)
	stats := fakeStats{stats: domain.AgentStats{
		Stake:            big.NewInt(2_000_000_000_000_000_000),
		Reputation:       75,
		TotalResolutions: 12,
		Accuracy:         91,
	}}
	if err := a.printStats(context.Background(), stats, "0xagent"); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"0xagent", "2 BNB", "75", "12", "91%"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestPrintStatsUnregisteredAgent(t *testing.T) {
	a, out := testApp(t)
	if err := a.printStats(context.Background(), fakeStats{}, "0xagent"); err != nil {
		t.Fatalf("printStats: %v", err)
	}
	for _, want := range []string{"0 BNB", "Accuracy:          0%"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestPrintStatsTransportError(t *testing.T) {
	a, out := testApp(t)
	stats := fakeStats{err: errors.New("rpc down")}
	if err := a.printStats(context.Background(), stats, "0xagent"); err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(out.String(), "0 BNB") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestCoordinatorDepsLeavesDisabledBackendsNil(t *testing.T) {
	a, _ := testApp(t)
	cd := a.coordinatorDeps(&Dependencies{})
	if cd.Archive != nil || cd.Bus != nil || cd.Notifier != nil {
		t.Fatalf("typed nil leaked: %+v", cd)
	}
}
