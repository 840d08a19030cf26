package store

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type registryEntry struct {
	store *Store
	refs  int
}

// Registry hands out one Store per learner, loading it on first use. Every
// Open must be paired with a Release; a store nobody holds is dropped and
// reloaded from the persister next time.
type Registry struct {
	persister Persister
	log       *zap.Logger
	opts      []Option

	mu      sync.Mutex
	entries map[string]*registryEntry
}

func NewRegistry(p Persister, log *zap.Logger, opts ...Option) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		persister: p,
		log:       log,
		opts:      opts,
		entries:   make(map[string]*registryEntry),
	}
}

// Open returns the learner's store, loading it from the persister when no
// one else holds it.
func (r *Registry) Open(ctx context.Context, learner string) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[learner]; ok {
		e.refs++
		return e.store, nil
	}

	opts := append([]Option{WithLogger(r.log)}, r.opts...)
	s, err := Open(ctx, RecordName(learner), r.persister, opts...)
	if err != nil {
		return nil, err
	}
	r.entries[learner] = &registryEntry{store: s, refs: 1}
	r.log.Debug("learner store opened", zap.String("learner", learner))
	return s, nil
}

// Release gives back a store obtained from Open.
func (r *Registry) Release(learner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[learner]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		// 每次修改都已落盘，直接丢弃
		delete(r.entries, learner)
		r.log.Debug("learner store released", zap.String("learner", learner))
	}
}

// Learners 返回当前已加载的学习者
func (r *Registry) Learners() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	return out
}
