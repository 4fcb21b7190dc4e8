package gate

import (
	"sync"
	"time"
)

// neutralPrior is the domain prior for domains with no recorded history.
// It cancels the prior term in Score, so unknown domains are judged on
// page signals alone.
const neutralPrior = 0.5

// domainEntry accumulates extraction outcomes for one domain with a TTL.
type domainEntry struct {
	attempts  uint64
	successes uint64
	expiresAt time.Time
}

// DomainMemory remembers how extraction went per domain and derives the
// domain prior fed into Scan. Entries expire after the configured TTL and
// are pruned periodically, so a domain that changes its stack gets a clean
// slate. Safe for concurrent use.
type DomainMemory struct {
	mu      sync.Mutex
	entries map[string]*domainEntry
	ttl     time.Duration
	done    chan struct{}
}

// NewDomainMemory creates a DomainMemory with the given TTL and starts a
// background goroutine that prunes expired entries every hour. Call Stop
// when the memory is no longer needed.
func NewDomainMemory(ttl time.Duration) *DomainMemory {
	m := &DomainMemory{
		entries: make(map[string]*domainEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// Prior returns the historical success rate for domain in [0,1], smoothed
// so a single outcome cannot slam the prior to an extreme. Unknown or
// expired domains return the neutral prior.
func (m *DomainMemory) Prior(domain string) float64 {
	if domain == "" {
		return neutralPrior
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[domain]
	if !ok {
		return neutralPrior
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, domain)
		return neutralPrior
	}
	// Laplace smoothing: one virtual success and one virtual failure.
	return float64(e.successes+1) / float64(e.attempts+2)
}

// Record notes the terminal outcome of one extraction for domain and
// refreshes the entry's TTL.
func (m *DomainMemory) Record(domain string, success bool) {
	if domain == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[domain]
	if !ok || time.Now().After(e.expiresAt) {
		e = &domainEntry{}
		m.entries[domain] = e
	}
	e.attempts++
	if success {
		e.successes++
	}
	e.expiresAt = time.Now().Add(m.ttl)
}

// Stop terminates the background cleanup goroutine.
func (m *DomainMemory) Stop() {
	close(m.done)
}

// cleanupLoop runs every hour, deleting expired entries.
func (m *DomainMemory) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for domain, e := range m.entries {
				if now.After(e.expiresAt) {
					delete(m.entries, domain)
				}
			}
			m.mu.Unlock()
		}
	}
}
