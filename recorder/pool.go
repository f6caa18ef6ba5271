package recorder

import (
	"sync"
)

// PoolOf is a typed sync.Pool. resetFn, when set, runs on every value handed
// back through Put so that Get always returns a clean value.
type PoolOf[V any] struct {
	pool    sync.Pool
	resetFn func(V)
}

func NewPoolOf[V any](newFn func() V, resetFn func(V)) *PoolOf[V] {
	if newFn == nil {
		newFn = func() V { return *new(V) }
	}
	return &PoolOf[V]{
		pool: sync.Pool{
			New: func() any {
				return newFn()
			},
		},
		resetFn: resetFn,
	}
}

func (p *PoolOf[V]) Get() V {
	v, ok := p.pool.Get().(V)
	if !ok {
		panic("recorder: pool holds a value of the wrong type")
	}
	return v
}

func (p *PoolOf[V]) Put(v V) {
	if p.resetFn != nil {
		p.resetFn(v)
	}
	p.pool.Put(v)
}
