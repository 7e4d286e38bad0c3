package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

func TestTrackerClaimIsExclusive(t *testing.T) {
	tr := NewTracker()
	id := domain.RequestID{1}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Claim(domain.ResolutionJob{RequestID: id}) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("claims won = %d, want 1", wins)
	}
}

func TestTrackerRemembersTerminalStates(t *testing.T) {
	tr := NewTracker()
	a, b, c := domain.RequestID{1}, domain.RequestID{2}, domain.RequestID{3}
	for _, id := range []domain.RequestID{a, b, c} {
		tr.Claim(domain.ResolutionJob{RequestID: id})
	}
	tr.Finish(a, domain.JobStateCommitted)
	tr.Finish(b, domain.JobStateFailed)
	tr.Release(c)

	if tr.Claim(domain.ResolutionJob{RequestID: a}) || tr.Claim(domain.ResolutionJob{RequestID: b}) {
		t.Fatal("finished id claimed again")
	}
	if !tr.Claim(domain.ResolutionJob{RequestID: c}) {
		t.Fatal("released id could not be claimed")
	}
	if active, committed, failed := tr.Counts(); active != 1 || committed != 1 || failed != 1 {
		t.Fatalf("counts = %d/%d/%d", active, committed, failed)
	}
}

func TestTrackerActiveOrderAndUpdate(t *testing.T) {
	tr := NewTracker()
	base := time.Unix(1000, 0)
	tr.Claim(domain.ResolutionJob{RequestID: domain.RequestID{2}, DetectedAt: base.Add(time.Second)})
	tr.Claim(domain.ResolutionJob{RequestID: domain.RequestID{1}, DetectedAt: base})

	tr.Update(domain.ResolutionJob{RequestID: domain.RequestID{1}, DetectedAt: base, State: domain.JobStateAnalyzing})
	tr.Update(domain.ResolutionJob{RequestID: domain.RequestID{9}}) // not active: ignored

	active := tr.Active()
	if len(active) != 2 || active[0].RequestID != (domain.RequestID{1}) || active[0].State != domain.JobStateAnalyzing {
		t.Fatalf("active = %+v", active)
	}
	if _, ok := tr.Get(domain.RequestID{9}); ok {
		t.Fatal("untracked id reported active")
	}
}
