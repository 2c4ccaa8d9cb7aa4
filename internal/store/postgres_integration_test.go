//go:build postgres_integration

package store

import (
	"os"
	"testing"

	"routeopt/internal/model"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	if err := p.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := p.MigrateDir("../../db/migrations"); err != nil {
		t.Fatalf("MigrateDir: %v", err)
	}
	d, err := p.AppendDecision(t.Context(), model.Decision{TenantID: "t_it", Action: model.ActionAccept, Route: model.CandidateRoute{Route: []model.RouteStop{{ID: "a"}}}})
	if err != nil {
		t.Fatalf("AppendDecision: %v", err)
	}
	got, err := p.ListDecisions(t.Context(), "t_it", 1)
	if err != nil {
		t.Fatalf("ListDecisions: %v", err)
	}
	if len(got) != 1 || got[0].ID != d.ID {
		t.Fatalf("expected newest decision %s, got %+v", d.ID, got)
	}
}
