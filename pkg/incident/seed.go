// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package incident

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SeedIncident is the YAML shape of a seed record. Priority and status
// default to P3/OPEN when omitted.
type SeedIncident struct {
	ID                string   `yaml:"id"`
	Title             string   `yaml:"title"`
	Description       string   `yaml:"description"`
	Priority          string   `yaml:"priority"`
	Status            string   `yaml:"status"`
	AffectedSystems   []string `yaml:"affected_systems"`
	AffectedCustomers int      `yaml:"affected_customers"`
	EstimatedCost     float64  `yaml:"estimated_cost"`
	SLAPenalty        float64  `yaml:"sla_penalty"`
	CreatedBy         string   `yaml:"created_by"`
}

type seedFile struct {
	Incidents []SeedIncident `yaml:"incidents"`
}

// DefaultSeed returns the demo incident the system boots with.
func DefaultSeed() []SeedIncident {
	return []SeedIncident{{
		ID:    "INC-001",
		Title: "Production Database Slowdown",
		Description: "Primary PostgreSQL database experiencing high latency. " +
			"Query response times increased from 50ms to 3000ms. " +
			"Cache service unresponsive.",
		Priority:          string(PriorityP2),
		Status:            string(StatusInvestigating),
		AffectedSystems:   []string{"PostgreSQL Primary", "Redis Cache", "API Gateway"},
		AffectedCustomers: 500,
		EstimatedCost:     25000.0,
		SLAPenalty:        50000.0,
		CreatedBy:         "system",
	}}
}

// LoadSeedFile parses a YAML seed file.
func LoadSeedFile(path string) ([]SeedIncident, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return file.Incidents, nil
}

// Seed installs seed records into a ledger. Records with an unknown
// priority or status fail the whole seed; a half-seeded ledger is worse
// than a failed boot.
func Seed(ctx context.Context, ledger Ledger, seeds []SeedIncident) error {
	for _, seed := range seeds {
		inc, err := seed.toIncident()
		if err != nil {
			return err
		}
		switch l := ledger.(type) {
		case *MemoryLedger:
			l.restore(inc)
		case *SQLiteLedger:
			if err := l.restore(ctx, inc); err != nil {
				return fmt.Errorf("seed incident %s: %w", inc.ID, err)
			}
		default:
			return fmt.Errorf("ledger type %T does not support seeding", ledger)
		}
	}
	return nil
}

func (s SeedIncident) toIncident() (Incident, error) {
	priority := PriorityP3
	if s.Priority != "" {
		parsed, err := ParsePriority(s.Priority)
		if err != nil {
			return Incident{}, fmt.Errorf("seed incident %s: %w", s.ID, err)
		}
		priority = parsed
	}
	status := StatusOpen
	if s.Status != "" {
		parsed, err := ParseStatus(s.Status)
		if err != nil {
			return Incident{}, fmt.Errorf("seed incident %s: %w", s.ID, err)
		}
		status = parsed
	}
	createdBy := s.CreatedBy
	if createdBy == "" {
		createdBy = "system"
	}
	now := time.Now().UTC()
	return Incident{
		ID:                s.ID,
		Title:             s.Title,
		Description:       s.Description,
		Priority:          priority,
		Status:            status,
		AffectedSystems:   append([]string(nil), s.AffectedSystems...),
		AffectedCustomers: s.AffectedCustomers,
		EstimatedCost:     s.EstimatedCost,
		SLAPenalty:        s.SLAPenalty,
		CreatedAt:         now,
		CreatedBy:         createdBy,
		UpdatedAt:         now,
	}, nil
}
