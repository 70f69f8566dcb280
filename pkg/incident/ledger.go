// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package incident

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wardenhq/warden/pkg/errors"
	"github.com/wardenhq/warden/pkg/identity"
)

// Ledger is the append-and-mutate-only incident record contract. Writes to
// the same incident are serialized; reads see the latest committed write.
type Ledger interface {
	// Create assigns the next sequential INC-NNN id with default priority
	// P3, status OPEN, and zeroed impact fields.
	Create(ctx context.Context, title, description string, affectedSystems []string, createdBy string) (Incident, error)

	// Get returns the full record, or a NOT_FOUND error for unknown ids.
	Get(ctx context.Context, id string) (Incident, error)

	// UpdatePriority returns false when the id is unknown; the caller
	// decides whether that is an error.
	UpdatePriority(ctx context.Context, id string, priority Priority) (bool, error)

	// UpdateStatus has the same contract as UpdatePriority.
	UpdateStatus(ctx context.Context, id string, status Status) (bool, error)

	// ProjectForRole computes the role-filtered view, or NOT_FOUND.
	ProjectForRole(ctx context.Context, id string, role identity.Role) (Projection, error)

	// ListProjected returns role-filtered views of every incident ordered
	// by incident id.
	ListProjected(ctx context.Context, role identity.Role) ([]Projection, error)
}

// NotFound builds the NOT_FOUND error every ledger implementation returns
// for unknown incident ids.
func NotFound(id string) error {
	return errors.New(errors.CodeNotFound, fmt.Sprintf("incident %s not found", id), nil).
		WithContext("incident_id", id)
}

// MemoryLedger is an in-process Ledger suitable for development, testing,
// and single-instance deployments. Data is lost on restart.
type MemoryLedger struct {
	mu        sync.RWMutex
	incidents map[string]Incident
	nextSeq   int
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{incidents: make(map[string]Incident)}
}

// Create implements Ledger.
func (m *MemoryLedger) Create(_ context.Context, title, description string, affectedSystems []string, createdBy string) (Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSeq++
	now := time.Now().UTC()
	inc := Incident{
		ID:              fmt.Sprintf("INC-%03d", m.nextSeq),
		Title:           title,
		Description:     description,
		Priority:        PriorityP3,
		Status:          StatusOpen,
		AffectedSystems: append([]string(nil), affectedSystems...),
		CreatedAt:       now,
		CreatedBy:       createdBy,
		UpdatedAt:       now,
	}
	m.incidents[inc.ID] = inc
	return inc.Clone(), nil
}

// Get implements Ledger.
func (m *MemoryLedger) Get(_ context.Context, id string) (Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inc, ok := m.incidents[id]
	if !ok {
		return Incident{}, NotFound(id)
	}
	return inc.Clone(), nil
}

// UpdatePriority implements Ledger.
func (m *MemoryLedger) UpdatePriority(_ context.Context, id string, priority Priority) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[id]
	if !ok {
		return false, nil
	}
	inc.Priority = priority
	inc.UpdatedAt = time.Now().UTC()
	m.incidents[id] = inc
	return true, nil
}

// UpdateStatus implements Ledger.
func (m *MemoryLedger) UpdateStatus(_ context.Context, id string, status Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[id]
	if !ok {
		return false, nil
	}
	inc.Status = status
	inc.UpdatedAt = time.Now().UTC()
	m.incidents[id] = inc
	return true, nil
}

// ProjectForRole implements Ledger.
func (m *MemoryLedger) ProjectForRole(_ context.Context, id string, role identity.Role) (Projection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inc, ok := m.incidents[id]
	if !ok {
		return Projection{}, NotFound(id)
	}
	return Project(inc, role), nil
}

// ListProjected implements Ledger.
func (m *MemoryLedger) ListProjected(_ context.Context, role identity.Role) ([]Projection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.incidents))
	for id := range m.incidents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Projection, 0, len(ids))
	for _, id := range ids {
		out = append(out, Project(m.incidents[id], role))
	}
	return out, nil
}

// restore inserts a pre-built incident, keeping the id sequence ahead of
// every restored id. Used by seeding.
func (m *MemoryLedger) restore(inc Incident) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.incidents[inc.ID] = inc.Clone()
	var seq int
	if _, err := fmt.Sscanf(inc.ID, "INC-%d", &seq); err == nil && seq > m.nextSeq {
		m.nextSeq = seq
	}
}
