package resilience

import (
	"sort"
	"sync"
)

// Group hands out one breaker per upstream host, created on first use with
// shared settings
type Group struct {
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates an empty group
func NewGroup(settings Settings) *Group {
	return &Group{
		settings: settings,
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker for host
func (g *Group) For(host string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[host]
	if !ok {
		b = New(host, g.settings)
		g.breakers[host] = b
	}
	return b
}

// States reports the state of every known host, sorted by host
func (g *Group) States() map[string]string {
	g.mu.Lock()
	hosts := make([]string, 0, len(g.breakers))
	for host := range g.breakers {
		hosts = append(hosts, host)
	}
	g.mu.Unlock()

	sort.Strings(hosts)
	states := make(map[string]string, len(hosts))
	for _, host := range hosts {
		states[host] = g.For(host).State().String()
	}
	return states
}
