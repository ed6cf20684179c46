package threat

import (
	"context"
	"testing"
	"time"

	"sentinelgrid/internal/faults"
	"sentinelgrid/internal/model"
)

func newThreat(id string) model.Threat {
	return model.Threat{
		ID:         id,
		Type:       "Thermal Anomaly",
		Severity:   model.SeverityHigh,
		Status:     model.ThreatActive,
		Location:   model.Location{Name: "Server Room", Zone: "zone-a"},
		DetectedAt: time.Now().UTC().Add(-time.Minute),
	}
}

func TestGetUnknownThreat(t *testing.T) {
	g := NewRegistry(nil, nil)
	if _, err := g.Get("nope"); !faults.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAcknowledgeLifecycle(t *testing.T) {
	ctx := context.Background()
	g := NewRegistry(nil, nil)
	g.Add(ctx, newThreat("t1"))

	got, err := g.Acknowledge(ctx, "t1", "operator-7")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if got.Status != model.ThreatInvestigating {
		t.Fatalf("status: %s", got.Status)
	}
	if got.AcknowledgedBy != "operator-7" || got.AcknowledgedAt == nil {
		t.Fatalf("acknowledgement not recorded: %+v", got)
	}

	// a second acknowledge is an invalid transition
	if _, err := g.Acknowledge(ctx, "t1", "operator-8"); !faults.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestResolveRecordsResponseTime(t *testing.T) {
	ctx := context.Background()
	g := NewRegistry(nil, nil)
	g.Add(ctx, newThreat("t1"))

	got, err := g.Resolve(ctx, "t1", "operator-7", "sensor fault, replaced")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Status != model.ThreatResolved {
		t.Fatalf("status: %s", got.Status)
	}
	if got.ResponseTimeSec <= 0 {
		t.Fatalf("response time: %f", got.ResponseTimeSec)
	}
	if got.ResolutionNotes == "" || got.ResolvedAt == nil {
		t.Fatalf("resolution not recorded: %+v", got)
	}

	// resolved is terminal
	if _, err := g.Resolve(ctx, "t1", "x", ""); !faults.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := g.Acknowledge(ctx, "t1", "x"); !faults.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFalsePositiveIsTerminal(t *testing.T) {
	ctx := context.Background()
	g := NewRegistry(nil, nil)
	g.Add(ctx, newThreat("t1"))

	got, err := g.MarkFalsePositive(ctx, "t1", "operator-7")
	if err != nil {
		t.Fatalf("false positive: %v", err)
	}
	if got.Status != model.ThreatFalsePositive {
		t.Fatalf("status: %s", got.Status)
	}
	if _, err := g.MarkFalsePositive(ctx, "t1", "x"); !faults.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEscalateClampsAtMax(t *testing.T) {
	ctx := context.Background()
	g := NewRegistry(nil, nil)
	g.Add(ctx, newThreat("t1"))

	var last model.Threat
	for i := 0; i < 8; i++ {
		got, err := g.Escalate(ctx, "t1")
		if err != nil {
			t.Fatalf("escalate %d: %v", i, err)
		}
		last = got
	}
	if last.EscalationLevel != maxEscalation {
		t.Fatalf("level: %d", last.EscalationLevel)
	}
	if last.Severity != model.SeverityCritical {
		t.Fatalf("severity after heavy escalation: %s", last.Severity)
	}
}

func TestEscalateTerminalIsNoop(t *testing.T) {
	ctx := context.Background()
	g := NewRegistry(nil, nil)
	g.Add(ctx, newThreat("t1"))
	if _, err := g.Resolve(ctx, "t1", "op", ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got, err := g.Escalate(ctx, "t1")
	if err != nil {
		t.Fatalf("escalate on terminal must not error: %v", err)
	}
	if got.EscalationLevel != 0 {
		t.Fatalf("terminal threat escalated: %d", got.EscalationLevel)
	}
}

func TestListNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	g := NewRegistry(nil, nil)
	g.Add(ctx, newThreat("t1"))
	g.Add(ctx, newThreat("t2"))
	g.Add(ctx, newThreat("t3"))

	got := g.List(2)
	if len(got) != 2 || got[0].ID != "t3" || got[1].ID != "t2" {
		t.Fatalf("list: %+v", got)
	}
	if all := g.List(0); len(all) != 3 {
		t.Fatalf("list all: %d", len(all))
	}
}

func TestActiveFiltersZoneAndTerminal(t *testing.T) {
	ctx := context.Background()
	g := NewRegistry(nil, nil)
	a := newThreat("t1")
	b := newThreat("t2")
	b.Location.Zone = "zone-b"
	g.Add(ctx, a)
	g.Add(ctx, b)
	if _, err := g.Resolve(ctx, "t1", "op", ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if got := g.Active(""); len(got) != 1 || got[0].ID != "t2" {
		t.Fatalf("active: %+v", got)
	}
	if got := g.Active("zone-a"); len(got) != 0 {
		t.Fatalf("zone-a should be empty: %+v", got)
	}
	if got := g.Active("zone-b"); len(got) != 1 {
		t.Fatalf("zone-b: %+v", got)
	}
}

func TestDisableHidesFromListings(t *testing.T) {
	ctx := context.Background()
	g := NewRegistry(nil, nil)
	g.Add(ctx, newThreat("t1"))

	if err := g.Disable(ctx, "t1"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if got := g.List(0); len(got) != 0 {
		t.Fatalf("disabled threat listed: %+v", got)
	}
	if got := g.Active(""); len(got) != 0 {
		t.Fatalf("disabled threat active: %+v", got)
	}
	// the record itself survives
	if _, err := g.Get("t1"); err != nil {
		t.Fatalf("record gone: %v", err)
	}
}
