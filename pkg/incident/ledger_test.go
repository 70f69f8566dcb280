// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package incident

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/wardenhq/warden/pkg/errors"
	"github.com/wardenhq/warden/pkg/identity"
)

// ledgerFactories lets every contract test run against both backends.
func ledgerFactories(t *testing.T) map[string]func(t *testing.T) Ledger {
	t.Helper()
	return map[string]func(t *testing.T) Ledger{
		"memory": func(t *testing.T) Ledger {
			return NewMemoryLedger()
		},
		"sqlite": func(t *testing.T) Ledger {
			ledger, err := OpenSQLite(filepath.Join(t.TempDir(), "warden.db"))
			if err != nil {
				t.Fatalf("open sqlite ledger: %v", err)
			}
			t.Cleanup(func() { _ = ledger.Close() })
			return ledger
		},
	}
}

func TestLedgerCreateDefaults(t *testing.T) {
	for name, factory := range ledgerFactories(t) {
		t.Run(name, func(t *testing.T) {
			ledger := factory(t)
			ctx := context.Background()

			created, err := ledger.Create(ctx, "API outage", "gateway 5xx spike", []string{"API Gateway"}, "alice")
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if created.ID != "INC-001" {
				t.Errorf("first incident should be INC-001, got %s", created.ID)
			}

			got, err := ledger.Get(ctx, created.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Status != StatusOpen {
				t.Errorf("expected status OPEN, got %s", got.Status)
			}
			if got.Priority != PriorityP3 {
				t.Errorf("expected priority P3, got %s", got.Priority)
			}
			if got.AffectedCustomers != 0 || got.EstimatedCost != 0 || got.SLAPenalty != 0 {
				t.Errorf("impact fields should be zeroed, got %+v", got)
			}
			if got.CreatedBy != "alice" {
				t.Errorf("expected created_by alice, got %s", got.CreatedBy)
			}
		})
	}
}

func TestLedgerSequentialIDs(t *testing.T) {
	for name, factory := range ledgerFactories(t) {
		t.Run(name, func(t *testing.T) {
			ledger := factory(t)
			ctx := context.Background()

			want := []string{"INC-001", "INC-002", "INC-003"}
			for _, id := range want {
				inc, err := ledger.Create(ctx, "t", "d", nil, "u")
				if err != nil {
					t.Fatalf("create: %v", err)
				}
				if inc.ID != id {
					t.Errorf("expected id %s, got %s", id, inc.ID)
				}
			}
		})
	}
}

func TestLedgerGetUnknown(t *testing.T) {
	for name, factory := range ledgerFactories(t) {
		t.Run(name, func(t *testing.T) {
			ledger := factory(t)
			_, err := ledger.Get(context.Background(), "INC-999")
			if err == nil {
				t.Fatal("expected NOT_FOUND error")
			}
			if !errors.Is(err, errors.CodeNotFound) {
				t.Errorf("expected NOT_FOUND, got %v", err)
			}
		})
	}
}

func TestLedgerUpdateContracts(t *testing.T) {
	for name, factory := range ledgerFactories(t) {
		t.Run(name, func(t *testing.T) {
			ledger := factory(t)
			ctx := context.Background()

			inc, err := ledger.Create(ctx, "t", "d", nil, "u")
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			ok, err := ledger.UpdatePriority(ctx, inc.ID, PriorityP1)
			if err != nil || !ok {
				t.Fatalf("update priority: ok=%v err=%v", ok, err)
			}
			ok, err = ledger.UpdateStatus(ctx, inc.ID, StatusResolved)
			if err != nil || !ok {
				t.Fatalf("update status: ok=%v err=%v", ok, err)
			}

			got, err := ledger.Get(ctx, inc.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Priority != PriorityP1 || got.Status != StatusResolved {
				t.Errorf("updates not applied: %+v", got)
			}
			if got.UpdatedAt.Before(inc.UpdatedAt) {
				t.Error("updated_at should be stamped on mutation")
			}

			// Unknown ids fail silently with false, not an error.
			ok, err = ledger.UpdatePriority(ctx, "INC-999", PriorityP1)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok {
				t.Error("update of unknown id should report false")
			}
			ok, err = ledger.UpdateStatus(ctx, "INC-999", StatusClosed)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok {
				t.Error("update of unknown id should report false")
			}
		})
	}
}

// TestLedgerConcurrentPriorityUpdates submits two competing priorities and
// requires the final value to be one of them: no corruption, no third value.
func TestLedgerConcurrentPriorityUpdates(t *testing.T) {
	for name, factory := range ledgerFactories(t) {
		t.Run(name, func(t *testing.T) {
			ledger := factory(t)
			ctx := context.Background()

			inc, err := ledger.Create(ctx, "t", "d", nil, "u")
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			for i := 0; i < 50; i++ {
				var wg sync.WaitGroup
				wg.Add(2)
				go func() {
					defer wg.Done()
					_, _ = ledger.UpdatePriority(ctx, inc.ID, PriorityP1)
				}()
				go func() {
					defer wg.Done()
					_, _ = ledger.UpdatePriority(ctx, inc.ID, PriorityP2)
				}()
				wg.Wait()

				got, err := ledger.Get(ctx, inc.ID)
				if err != nil {
					t.Fatalf("get: %v", err)
				}
				if got.Priority != PriorityP1 && got.Priority != PriorityP2 {
					t.Fatalf("priority corrupted to %q", got.Priority)
				}
			}
		})
	}
}

func TestLedgerConcurrentReadsDuringWrites(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	inc, err := ledger.Create(ctx, "t", "d", []string{"db"}, "u")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = ledger.UpdateStatus(ctx, inc.ID, StatusInvestigating)
		}()
		go func() {
			defer wg.Done()
			if _, err := ledger.ProjectForRole(ctx, inc.ID, identity.RoleOps); err != nil {
				t.Errorf("read during write failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestLedgerListProjectedOrdering(t *testing.T) {
	for name, factory := range ledgerFactories(t) {
		t.Run(name, func(t *testing.T) {
			ledger := factory(t)
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				if _, err := ledger.Create(ctx, "t", "d", nil, "u"); err != nil {
					t.Fatalf("create: %v", err)
				}
			}

			projections, err := ledger.ListProjected(ctx, identity.RoleCSM)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			want := []string{"INC-001", "INC-002", "INC-003"}
			if len(projections) != len(want) {
				t.Fatalf("expected %d projections, got %d", len(want), len(projections))
			}
			for i, id := range want {
				if projections[i].ID != id {
					t.Errorf("index %d: expected %s, got %s", i, id, projections[i].ID)
				}
			}
		})
	}
}

func TestLedgerProjectForRoleUnknown(t *testing.T) {
	for name, factory := range ledgerFactories(t) {
		t.Run(name, func(t *testing.T) {
			ledger := factory(t)
			_, err := ledger.ProjectForRole(context.Background(), "INC-999", identity.RoleIT)
			if !errors.Is(err, errors.CodeNotFound) {
				t.Errorf("expected NOT_FOUND, got %v", err)
			}
		})
	}
}
