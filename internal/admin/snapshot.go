// Package admin implements a live bubbletea dashboard over the pool state
// spec.md §8 calls out as countable (idle/active/down connections per
// Origin), supplementing the text-only nerdstats report the core otherwise
// produces on shutdown. Grounded on nabbar-golib's `cobra/ui` tea.Model
// (Init/Update/View over a ticking refresh), adapted from a question-and-answer wizard to a read-only status table.
package admin

import (
	"sort"
	"sync"

	"github.com/ravelproxy/ravel/internal/core/dispatcher"
	"github.com/ravelproxy/ravel/internal/core/domain"
	"github.com/ravelproxy/ravel/internal/core/pool"
)

// OriginSnapshot is one row of the dashboard: the aggregate connection
// counts for an Origin across every worker's pool for it.
type OriginSnapshot struct {
	Name   string
	Active int
	Idle   int
	Down   int
	Status domain.OriginStatus
}

// Collector reads pool state off every worker's dispatcher. Each worker's
// pools must only be touched on that worker's own dispatcher goroutine
// (same constraint as Worker.Acquire/Release), so Collect posts a read onto
// each one and blocks until all have replied.
type Collector struct {
	dispatchers []*dispatcher.Dispatcher
	pools       []map[string]*pool.Pool
}

// NewCollector pairs up each worker's Dispatcher with its origin pool map;
// the two slices must be the same length and index-aligned.
func NewCollector(dispatchers []*dispatcher.Dispatcher, pools []map[string]*pool.Pool) *Collector {
	return &Collector{dispatchers: dispatchers, pools: pools}
}

// Collect aggregates Active/Idle/Down across every worker's copy of each
// named origin's pool, returning rows sorted by Name for a stable display.
func (c *Collector) Collect() []OriginSnapshot {
	type agg struct {
		active, idle, down int
		status             domain.OriginStatus
	}
	aggs := make(map[string]*agg)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, d := range c.dispatchers {
		pools := c.pools[i]
		wg.Add(1)
		d.Post(func() {
			defer wg.Done()
			for name, p := range pools {
				active, idle, down := p.Counts()
				status := p.Status()

				mu.Lock()
				a, ok := aggs[name]
				if !ok {
					a = &agg{status: status}
					aggs[name] = a
				}
				a.active += active
				a.idle += idle
				a.down += down
				if worseStatus(status, a.status) {
					a.status = status
				}
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	rows := make([]OriginSnapshot, 0, len(aggs))
	for name, a := range aggs {
		rows = append(rows, OriginSnapshot{Name: name, Active: a.active, Idle: a.idle, Down: a.down, Status: a.status})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

// worseStatus orders OriginStatus Down > Degraded > Unknown > Healthy so the
// aggregate row reflects the worst worker's view of a shared origin.
func worseStatus(candidate, current domain.OriginStatus) bool {
	rank := map[domain.OriginStatus]int{
		domain.OriginStatusHealthy:  0,
		domain.OriginStatusUnknown:  1,
		domain.OriginStatusDegraded: 2,
		domain.OriginStatusDown:     3,
	}
	return rank[candidate] > rank[current]
}
