// Package creds manages the pool of publisher credentials. Each credential
// carries its own rate limiter and at most one in-flight call, respecting
// per-account platform limits.
package creds

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sakaguchi/xbot/errors"
)

// Credential is one publisher identity.
type Credential struct {
	Name              string
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
	ClosingMessage    string // optional trailing post appended to published threads
}

type entry struct {
	cred     Credential
	limiter  *rate.Limiter
	busy     bool
	lastUsed time.Time
}

// Pool hands out credentials one in-flight call at a time, selecting the
// least-recently-used eligible credential.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeNow func() time.Time // injectable for testing
}

// NewPool creates a credential pool. callsPerMinute bounds each credential's
// publish rate; zero disables rate limiting.
func NewPool(credentials []Credential, callsPerMinute int) *Pool {
	return NewPoolWithClock(credentials, callsPerMinute, time.Now)
}

// NewPoolWithClock creates a pool with an injectable clock (for testing).
func NewPoolWithClock(credentials []Credential, callsPerMinute int, timeNow func() time.Time) *Pool {
	entries := make(map[string]*entry, len(credentials))
	for _, cred := range credentials {
		limiter := rate.NewLimiter(rate.Inf, 1)
		if callsPerMinute > 0 {
			limiter = rate.NewLimiter(rate.Limit(float64(callsPerMinute)/60.0), 1)
		}
		entries[cred.Name] = &entry{cred: cred, limiter: limiter}
	}
	return &Pool{entries: entries, timeNow: timeNow}
}

// ErrNoCredential is returned when the pool is empty or the named credential
// does not exist.
var ErrNoCredential = errors.New("no such credential")

// Acquire reserves the least-recently-used idle credential whose rate
// limiter admits a call, blocking until one becomes available or ctx ends.
func (p *Pool) Acquire(ctx context.Context) (Credential, error) {
	if p.Len() == 0 {
		return Credential{}, errors.Wrap(ErrNoCredential, "pool is empty")
	}
	for {
		if cred, ok := p.tryAcquire(""); ok {
			return cred, nil
		}
		select {
		case <-ctx.Done():
			return Credential{}, ctx.Err()
		case <-time.After(100 * time.Millisecond):
			// Retry after short delay
		}
	}
}

// AcquireNamed reserves a specific credential, blocking until it is idle and
// its limiter admits a call.
func (p *Pool) AcquireNamed(ctx context.Context, name string) (Credential, error) {
	p.mu.Lock()
	_, exists := p.entries[name]
	p.mu.Unlock()
	if !exists {
		return Credential{}, errors.Wrapf(ErrNoCredential, "%q", name)
	}

	for {
		if cred, ok := p.tryAcquire(name); ok {
			return cred, nil
		}
		select {
		case <-ctx.Done():
			return Credential{}, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// tryAcquire attempts a non-blocking reservation. With name == "" it scans
// for the least-recently-used eligible credential.
func (p *Pool) tryAcquire(name string) (Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var chosen *entry
	if name != "" {
		e := p.entries[name]
		if e != nil && !e.busy && e.limiter.Allow() {
			chosen = e
		}
	} else {
		// Least-recently-used order, skipping credentials whose limiter
		// would not admit a call right now.
		idle := make([]*entry, 0, len(p.entries))
		for _, e := range p.entries {
			if !e.busy {
				idle = append(idle, e)
			}
		}
		sort.Slice(idle, func(i, j int) bool { return idle[i].lastUsed.Before(idle[j].lastUsed) })
		for _, e := range idle {
			if e.limiter.Allow() {
				chosen = e
				break
			}
		}
	}

	if chosen == nil {
		return Credential{}, false
	}
	chosen.busy = true
	chosen.lastUsed = p.timeNow()
	return chosen.cred, true
}

// Release returns a credential to the pool after its in-flight call ends.
func (p *Pool) Release(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[name]; ok {
		e.busy = false
	}
}

// Names lists the pool's credential names.
func (p *Pool) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.entries))
	for name := range p.entries {
		names = append(names, name)
	}
	return names
}

// Len returns the number of credentials in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
