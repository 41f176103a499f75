package supervisor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// unit is one supervised worker with its restart count.
type unit struct {
	worker   Worker
	restarts atomic.Int64
}

// pool manages the supervised workers by name.
type pool struct {
	units map[string]*unit
	mu    sync.RWMutex
}

func newPool() *pool {
	return &pool{units: make(map[string]*unit)}
}

// add registers w under its name.
func (p *pool) add(w Worker) (*unit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.units[w.Name()]; exists {
		return nil, fmt.Errorf("supervisor: duplicate runner name %q", w.Name())
	}
	u := &unit{worker: w}
	p.units[w.Name()] = u
	return u, nil
}

func (p *pool) get(name string) *unit {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.units[name]
}

// list returns all units ordered by name, numeric suffixes compared as numbers.
func (p *pool) list() []*unit {
	p.mu.RLock()
	defer p.mu.RUnlock()

	list := make([]*unit, 0, len(p.units))
	for _, u := range p.units {
		if u != nil {
			list = append(list, u)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return lessName(list[i].worker.Name(), list[j].worker.Name())
	})
	return list
}

// lessName orders "runner-2" before "runner-10" when both names share a
// prefix and end in a number.
func lessName(a, b string) bool {
	pa, na, okA := splitIndex(a)
	pb, nb, okB := splitIndex(b)
	if okA && okB && pa == pb && na != nb {
		return na < nb
	}
	return a < b
}

func splitIndex(name string) (string, int, bool) {
	i := strings.LastIndexByte(name, '-')
	if i < 0 {
		return name, 0, false
	}
	n, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return name, 0, false
	}
	return name[:i], n, true
}
