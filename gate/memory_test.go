package gate

import (
	"sync"
	"testing"
	"time"
)

func newTestMemory(t *testing.T, ttl time.Duration) *DomainMemory {
	t.Helper()
	m := NewDomainMemory(ttl)
	t.Cleanup(m.Stop)
	return m
}

func TestDomainMemory_UnknownDomainIsNeutral(t *testing.T) {
	m := newTestMemory(t, time.Hour)
	if got := m.Prior("example.com"); got != 0.5 {
		t.Errorf("Prior(unknown) = %v, want 0.5", got)
	}
	if got := m.Prior(""); got != 0.5 {
		t.Errorf("Prior(empty) = %v, want 0.5", got)
	}
}

func TestDomainMemory_OutcomesMoveThePrior(t *testing.T) {
	m := newTestMemory(t, time.Hour)

	for i := 0; i < 8; i++ {
		m.Record("good.example", true)
	}
	if got := m.Prior("good.example"); got <= 0.5 {
		t.Errorf("Prior after successes = %v, want > 0.5", got)
	}

	for i := 0; i < 8; i++ {
		m.Record("bad.example", false)
	}
	if got := m.Prior("bad.example"); got >= 0.5 {
		t.Errorf("Prior after failures = %v, want < 0.5", got)
	}
}

func TestDomainMemory_SmoothedAgainstSingleOutcome(t *testing.T) {
	m := newTestMemory(t, time.Hour)

	m.Record("once.example", false)
	got := m.Prior("once.example")
	if got <= 0 || got >= 0.5 {
		t.Errorf("Prior after one failure = %v, want in (0, 0.5)", got)
	}
	// (0+1)/(1+2)
	want := 1.0 / 3.0
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Prior = %v, want %v", got, want)
	}
}

func TestDomainMemory_EntriesExpire(t *testing.T) {
	m := newTestMemory(t, 10*time.Millisecond)

	m.Record("stale.example", false)
	time.Sleep(25 * time.Millisecond)
	if got := m.Prior("stale.example"); got != 0.5 {
		t.Errorf("Prior after TTL = %v, want the neutral 0.5", got)
	}
}

func TestDomainMemory_PriorFeedsScan(t *testing.T) {
	m := newTestMemory(t, time.Hour)
	for i := 0; i < 8; i++ {
		m.Record("news.example", true)
	}

	f := Scan([]byte(articleHTML), m.Prior("news.example"))
	if f.DomainPrior <= 0.5 {
		t.Errorf("Scan carried DomainPrior = %v, want the recorded prior > 0.5", f.DomainPrior)
	}
}

func TestDomainMemory_ConcurrentRecord(t *testing.T) {
	m := newTestMemory(t, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(success bool) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Record("busy.example", success)
				_ = m.Prior("busy.example")
			}
		}(i%2 == 0)
	}
	wg.Wait()

	if got := m.Prior("busy.example"); got < 0.4 || got > 0.6 {
		t.Errorf("Prior after even split = %v, want near 0.5", got)
	}
}
