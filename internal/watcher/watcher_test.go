package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

const agent = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

type pollResult struct {
	events  []domain.SelectionEvent
	scanned uint64
	err     error
}

// scriptedChain replays poll results in order and records the fromBlock of
// every call. After the script runs out it reports an empty scan.
type scriptedChain struct {
	mu     sync.Mutex
	head   uint64
	script []pollResult
	froms  []uint64
}

func (s *scriptedChain) Head(context.Context) (uint64, error) { return s.head, nil }

func (s *scriptedChain) SelectionEvents(_ context.Context, from uint64) ([]domain.SelectionEvent, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.froms = append(s.froms, from)
	if len(s.script) == 0 {
		return nil, from - 1, nil
	}
	r := s.script[0]
	s.script = s.script[1:]
	return r.events, r.scanned, r.err
}

func (s *scriptedChain) calls() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.froms...)
}

type memCursors struct {
	mu    sync.Mutex
	block map[string]uint64
	saves int
}

func (m *memCursors) LoadCursor(_ context.Context, agent string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.block[agent]
	return b, ok, nil
}

func (m *memCursors) SaveCursor(_ context.Context, agent string, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.block == nil {
		m.block = map[string]uint64{}
	}
	m.block[agent] = block
	m.saves++
	return nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func sel(id byte, who string, block uint64) domain.SelectionEvent {
	return domain.SelectionEvent{RequestID: domain.RequestID{id}, Agent: who, BlockNumber: block}
}

func collect(ids *[]domain.RequestID) func(domain.RequestID) {
	return func(id domain.RequestID) { *ids = append(*ids, id) }
}

func TestPollFiltersAgentCaseInsensitively(t *testing.T) {
	ch := &scriptedChain{head: 100, script: []pollResult{{
		events: []domain.SelectionEvent{
			sel(1, "0xF39FD6E51AAD88F6F4CE6AB8827279CFFFB92266", 100),
			sel(2, "0x0000000000000000000000000000000000000001", 100),
			sel(3, "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", 101),
		},
		scanned: 101,
	}}}
	w := New(ch, agent, nil, Config{}, discardLogger())
	if !w.resolveStart(context.Background()) {
		t.Fatal("resolveStart failed")
	}

	var got []domain.RequestID
	if err := w.poll(context.Background(), collect(&got)); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(got) != 2 || got[0] != (domain.RequestID{1}) || got[1] != (domain.RequestID{3}) {
		t.Fatalf("emitted %v", got)
	}
	if w.Cursor() != 102 {
		t.Fatalf("cursor = %d, want 102", w.Cursor())
	}
}

func TestPollErrorKeepsCursor(t *testing.T) {
	ch := &scriptedChain{head: 50, script: []pollResult{
		{err: errors.New("rpc timeout")},
		{events: []domain.SelectionEvent{sel(9, agent, 51)}, scanned: 55},
	}}
	w := New(ch, agent, nil, Config{}, discardLogger())
	w.resolveStart(context.Background())

	var got []domain.RequestID
	if err := w.poll(context.Background(), collect(&got)); err == nil {
		t.Fatal("first poll: want error")
	}
	if w.Cursor() != 50 {
		t.Fatalf("cursor after error = %d, want 50", w.Cursor())
	}
	if err := w.poll(context.Background(), collect(&got)); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if calls := ch.calls(); len(calls) != 2 || calls[0] != 50 || calls[1] != 50 {
		t.Fatalf("poll froms = %v, want [50 50]", calls)
	}
	if len(got) != 1 || w.Cursor() != 56 {
		t.Fatalf("emitted %v, cursor %d", got, w.Cursor())
	}
}

func TestPollDropsDuplicates(t *testing.T) {
	ch := &scriptedChain{head: 10, script: []pollResult{
		{events: []domain.SelectionEvent{sel(1, agent, 10), sel(1, agent, 10)}, scanned: 10},
		{events: []domain.SelectionEvent{sel(1, agent, 11), sel(2, agent, 11)}, scanned: 11},
	}}
	w := New(ch, agent, nil, Config{}, discardLogger())
	w.resolveStart(context.Background())

	var got []domain.RequestID
	_ = w.poll(context.Background(), collect(&got))
	_ = w.poll(context.Background(), collect(&got))
	if len(got) != 2 || got[0] != (domain.RequestID{1}) || got[1] != (domain.RequestID{2}) {
		t.Fatalf("emitted %v", got)
	}
}

func TestCursorStoreResumeAndSave(t *testing.T) {
	cursors := &memCursors{block: map[string]uint64{agent: 40}}
	ch := &scriptedChain{head: 1000, script: []pollResult{{scanned: 45}}}
	w := New(ch, agent, cursors, Config{}, discardLogger())

	if !w.resolveStart(context.Background()) || w.Cursor() != 40 {
		t.Fatalf("cursor = %d, want stored 40", w.Cursor())
	}
	if err := w.poll(context.Background(), func(domain.RequestID) {}); err != nil {
		t.Fatal(err)
	}
	if cursors.block[agent] != 46 || cursors.saves != 1 {
		t.Fatalf("stored cursor = %d (saves %d), want 46", cursors.block[agent], cursors.saves)
	}

	// An empty scan past the head does not rewrite the cursor.
	if err := w.poll(context.Background(), func(domain.RequestID) {}); err != nil {
		t.Fatal(err)
	}
	if cursors.saves != 1 || w.Cursor() != 46 {
		t.Fatalf("saves = %d, cursor = %d", cursors.saves, w.Cursor())
	}
}

func TestStartsAtHeadWithoutStoredCursor(t *testing.T) {
	w := New(&scriptedChain{head: 777}, agent, &memCursors{}, Config{}, discardLogger())
	if !w.resolveStart(context.Background()) || w.Cursor() != 777 {
		t.Fatalf("cursor = %d, want head 777", w.Cursor())
	}
}

func TestRunRetriesAfterError(t *testing.T) {
	ch := &scriptedChain{head: 5, script: []pollResult{
		{err: errors.New("boom")},
		{events: []domain.SelectionEvent{sel(7, agent, 5)}, scanned: 5},
	}}
	w := New(ch, agent, nil, Config{PollInterval: time.Millisecond, ErrorBackoff: time.Millisecond}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan domain.RequestID, 1)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(id domain.RequestID) { got <- id })
	}()

	select {
	case id := <-got:
		if id != (domain.RequestID{7}) {
			t.Fatalf("emitted %v", id)
		}
	case <-ctx.Done():
		t.Fatal("no emission before timeout")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v, want nil on cancel", err)
	}
}

func TestStreamDeliversInOrder(t *testing.T) {
	ch := &scriptedChain{head: 1, script: []pollResult{
		{events: []domain.SelectionEvent{sel(1, agent, 1), sel(2, agent, 1), sel(3, agent, 1)}, scanned: 1},
	}}
	w := New(ch, agent, nil, Config{PollInterval: time.Millisecond}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream := w.Stream(ctx)
	for want := byte(1); want <= 3; want++ {
		select {
		case id := <-stream:
			if id != (domain.RequestID{want}) {
				t.Fatalf("got %v, want id %d", id, want)
			}
		case <-ctx.Done():
			t.Fatal("stream stalled")
		}
	}
	cancel()
	for range stream {
	}
}

func TestDedupExpiry(t *testing.T) {
	now := time.Unix(0, 0)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	id := domain.RequestID{1}
	if d.Seen(id) {
		t.Fatal("first Seen = true")
	}
	if !d.Seen(id) {
		t.Fatal("second Seen = false")
	}
	now = now.Add(2 * time.Minute)
	d.Cleanup()
	if d.Len() != 0 {
		t.Fatalf("Len after cleanup = %d", d.Len())
	}
	if d.Seen(id) {
		t.Fatal("Seen after expiry = true")
	}
}
