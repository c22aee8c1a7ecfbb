package store

import (
	"context"
	"fmt"
	"sync"

	"ticketd/internal/services/models"
	"ticketd/pkg/platform/sentinel"
)

// InMemoryRegistry holds registered services keyed by client id. It is
// read-mostly: writes happen at startup or on reload.
type InMemoryRegistry struct {
	mu       sync.RWMutex
	services map[string]*models.RegisteredService
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{services: make(map[string]*models.RegisteredService)}
}

// Put validates and stores a service, replacing any with the same client id.
func (r *InMemoryRegistry) Put(svc *models.RegisteredService) error {
	if err := svc.Validate(); err != nil {
		return err
	}
	copied := *svc
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[svc.ClientID] = &copied
	return nil
}

// ReplaceAll swaps the whole registry in one step.
func (r *InMemoryRegistry) ReplaceAll(services []*models.RegisteredService) error {
	next := make(map[string]*models.RegisteredService, len(services))
	for _, svc := range services {
		if err := svc.Validate(); err != nil {
			return fmt.Errorf("service %q: %w", svc.ClientID, err)
		}
		if _, dup := next[svc.ClientID]; dup {
			return fmt.Errorf("duplicate client_id %q: %w", svc.ClientID, sentinel.ErrConflict)
		}
		copied := *svc
		next[svc.ClientID] = &copied
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = next
	return nil
}

func (r *InMemoryRegistry) FindByClientID(_ context.Context, clientID string) (*models.RegisteredService, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[clientID]
	if !ok {
		return nil, fmt.Errorf("service for client %q: %w", clientID, sentinel.ErrNotFound)
	}
	copied := *svc
	return &copied, nil
}

func (r *InMemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}
