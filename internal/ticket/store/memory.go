package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ticketd/internal/ticket/models"
	"ticketd/pkg/platform/sentinel"
	"ticketd/pkg/requestcontext"
)

// numShards spreads ids across independent locks so unrelated tickets never
// contend.
const numShards = 64

type shard struct {
	mu      sync.RWMutex
	tickets map[string]*models.Ticket
}

// InMemoryStore keeps tickets in sharded maps for tests and single-node use.
type InMemoryStore struct {
	shards [numShards]shard
}

func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{}
	for i := range s.shards {
		s.shards[i].tickets = make(map[string]*models.Ticket)
	}
	return s
}

func (s *InMemoryStore) Add(ctx context.Context, t *models.Ticket) error {
	return s.AddAll(ctx, t)
}

func (s *InMemoryStore) AddAll(_ context.Context, tickets ...*models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tickets))
	idx := make([]int, 0, len(tickets))
	for _, t := range tickets {
		if err := validateNew(t); err != nil {
			return err
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("duplicate ticket %s in batch: %w", t.ID, sentinel.ErrConflict)
		}
		seen[t.ID] = struct{}{}
		idx = append(idx, shardIndex(t.ID))
	}

	// lock each distinct shard once, in ascending order
	sort.Ints(idx)
	var locked []int
	for _, i := range idx {
		if len(locked) > 0 && locked[len(locked)-1] == i {
			continue
		}
		s.shards[i].mu.Lock()
		locked = append(locked, i)
	}
	defer func() {
		for _, i := range locked {
			s.shards[i].mu.Unlock()
		}
	}()

	for _, t := range tickets {
		if _, exists := s.shards[shardIndex(t.ID)].tickets[t.ID]; exists {
			return fmt.Errorf("ticket %s already exists: %w", t.ID, sentinel.ErrConflict)
		}
	}
	for _, t := range tickets {
		s.shards[shardIndex(t.ID)].tickets[t.ID] = t.Clone()
	}
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (*models.Ticket, error) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	t, err := lookup(sh, id, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

func (s *InMemoryStore) GetKind(ctx context.Context, id string, kind models.Kind) (*models.Ticket, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Kind != kind {
		return nil, fmt.Errorf("ticket %s is %s, not %s: %w", id, t.Kind, kind, sentinel.ErrWrongKind)
	}
	return t, nil
}

func (s *InMemoryStore) Replace(ctx context.Context, t *models.Ticket) error {
	if err := validateNew(t); err != nil {
		return err
	}
	sh := s.shardFor(t.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, err := lookup(sh, t.ID, requestcontext.Now(ctx)); err != nil {
		return err
	}
	sh.tickets[t.ID] = t.Clone()
	return nil
}

func (s *InMemoryStore) Execute(ctx context.Context, id string, fn MutateFunc) (*models.Ticket, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	current, err := lookup(sh, id, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	working := current.Clone()
	action, fnErr := fn(working)
	switch action {
	case ActionSave:
		sh.tickets[id] = working.Clone()
	case ActionDelete:
		delete(sh.tickets, id)
	}
	return working, fnErr
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.tickets, id)
	return nil
}

func (s *InMemoryStore) DeleteWithDescendants(_ context.Context, id string) (int, error) {
	removed := 0
	visited := map[string]struct{}{}
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, ok := visited[current]; ok {
			continue
		}
		visited[current] = struct{}{}

		sh := s.shardFor(current)
		sh.mu.Lock()
		if _, ok := sh.tickets[current]; ok {
			delete(sh.tickets, current)
			removed++
		}
		sh.mu.Unlock()

		queue = append(queue, s.childrenOf(current)...)
	}
	return removed, nil
}

func (s *InMemoryStore) childrenOf(parentID string) []string {
	var out []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for id, t := range sh.tickets {
			if t.ParentID == parentID {
				out = append(out, id)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

func (s *InMemoryStore) DeleteExpired(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, t := range sh.tickets {
			if t.IsExpired(now) {
				delete(sh.tickets, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

func (s *InMemoryStore) Count(ctx context.Context, kind models.Kind) (int, error) {
	now := requestcontext.Now(ctx)
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, t := range sh.tickets {
			if t.Kind == kind && t.IsValid(now) {
				n++
			}
		}
		sh.mu.RUnlock()
	}
	return n, nil
}

func (s *InMemoryStore) shardFor(id string) *shard {
	return &s.shards[shardIndex(id)]
}

// lookup must be called with the shard lock held.
func lookup(sh *shard, id string, now time.Time) (*models.Ticket, error) {
	t, ok := sh.tickets[id]
	if !ok {
		return nil, fmt.Errorf("ticket %s: %w", id, sentinel.ErrNotFound)
	}
	if t.IsExpired(now) {
		return nil, fmt.Errorf("ticket %s: %w", id, sentinel.ErrExpired)
	}
	return t, nil
}

// shardIndex hashes with FNV-1a.
func shardIndex(id string) int {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(id); i++ {
		h ^= uint32(id[i])
		h *= fnvPrime
	}
	return int(h % numShards)
}
