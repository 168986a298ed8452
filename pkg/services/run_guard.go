package services

import (
	"fmt"
	"sync"

	"github.com/civicdata-io/civic-engine/pkg/apperrors"
)

// Identity domains. Two imports that can resolve candidates to the same
// stored records must not run concurrently: both would resolve a natural key
// as "not found" before either insert commits, and the store would end up
// with duplicates. CSV and GOVMAN imports both write organizations, so they
// share one domain.
const (
	domainOrganizations = "organizations"
	domainStatutes      = "statutes"
	domainRegulations   = "regulations"
)

// DomainGuard serializes import runs per identity domain. One guard is shared
// by every import service in the process; overlapping runs over the same
// domain are rejected with apperrors.ErrRunInProgress rather than queued, so
// an admin retry gets an immediate answer.
type DomainGuard struct {
	mu     sync.Mutex
	active map[string]bool
}

// NewDomainGuard creates a new DomainGuard.
func NewDomainGuard() *DomainGuard {
	return &DomainGuard{active: make(map[string]bool)}
}

// acquire claims a domain for the duration of one run. The release function
// must be called exactly once when the run finishes.
func (g *DomainGuard) acquire(domain string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active[domain] {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrRunInProgress, domain)
	}
	g.active[domain] = true

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.active[domain] = false
	}, nil
}
