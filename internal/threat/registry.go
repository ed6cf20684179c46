package threat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sentinelgrid/internal/faults"
	"sentinelgrid/internal/model"
	"sentinelgrid/internal/storage"
)

// Registry owns all threat records. Threats are soft-disabled, never
// deleted, and every state transition is serialized by the registry lock
// so concurrent acknowledge/resolve/escalate calls cannot lose updates.
type Registry struct {
	logger *slog.Logger
	db     storage.Store // optional, fire-and-forget persistence

	mu      sync.RWMutex
	threats map[string]*model.Threat
	order   []string
}

func NewRegistry(logger *slog.Logger, db storage.Store) *Registry {
	return &Registry{
		logger:  logger,
		db:      db,
		threats: make(map[string]*model.Threat),
	}
}

func (g *Registry) Add(ctx context.Context, t model.Threat) {
	g.mu.Lock()
	stored := t
	g.threats[t.ID] = &stored
	g.order = append(g.order, t.ID)
	g.mu.Unlock()
	g.persist(ctx, t)
}

func (g *Registry) Get(id string) (model.Threat, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.threats[id]
	if !ok {
		return model.Threat{}, faults.NotFound("threat", id)
	}
	return *t, nil
}

// List returns the most recent limit threats, newest first. limit <= 0
// returns everything.
func (g *Registry) List(limit int) []model.Threat {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if limit <= 0 || limit > len(g.order) {
		limit = len(g.order)
	}
	out := make([]model.Threat, 0, limit)
	for i := len(g.order) - 1; i >= 0 && len(out) < limit; i-- {
		if t, ok := g.threats[g.order[i]]; ok && !t.Disabled {
			out = append(out, *t)
		}
	}
	return out
}

// Active returns non-terminal, non-disabled threats, optionally filtered
// by zone.
func (g *Registry) Active(zone string) []model.Threat {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.Threat, 0)
	for _, id := range g.order {
		t, ok := g.threats[id]
		if !ok || t.Disabled || t.Status.Terminal() {
			continue
		}
		if zone != "" && t.Location.Zone != zone {
			continue
		}
		out = append(out, *t)
	}
	return out
}

// Acknowledge moves an active threat to investigating.
func (g *Registry) Acknowledge(ctx context.Context, id, userID string) (model.Threat, error) {
	updated, err := g.transition(id, func(t *model.Threat, now time.Time) error {
		if t.Status != model.ThreatActive {
			return faults.Invalidf("threat %s cannot be acknowledged from %s", id, t.Status)
		}
		t.Status = model.ThreatInvestigating
		t.AcknowledgedBy = userID
		t.AcknowledgedAt = &now
		t.Actions = append(t.Actions, model.ThreatAction{
			Timestamp: now, Action: "acknowledged", User: userID,
		})
		return nil
	})
	if err != nil {
		return model.Threat{}, err
	}
	g.persist(ctx, updated)
	return updated, nil
}

// Resolve closes a threat and records the response time since detection.
func (g *Registry) Resolve(ctx context.Context, id, userID, notes string) (model.Threat, error) {
	updated, err := g.transition(id, func(t *model.Threat, now time.Time) error {
		if t.Status.Terminal() {
			return faults.Invalidf("threat %s cannot be resolved from %s", id, t.Status)
		}
		t.Status = model.ThreatResolved
		t.ResolvedBy = userID
		t.ResolvedAt = &now
		t.ResolutionNotes = notes
		t.ResponseTimeSec = now.Sub(t.DetectedAt).Seconds()
		t.Actions = append(t.Actions, model.ThreatAction{
			Timestamp: now, Action: "resolved", User: userID, Notes: notes,
		})
		return nil
	})
	if err != nil {
		return model.Threat{}, err
	}
	g.persist(ctx, updated)
	return updated, nil
}

// MarkFalsePositive is the alternate terminal transition.
func (g *Registry) MarkFalsePositive(ctx context.Context, id, userID string) (model.Threat, error) {
	updated, err := g.transition(id, func(t *model.Threat, now time.Time) error {
		if t.Status.Terminal() {
			return faults.Invalidf("threat %s cannot be marked false positive from %s", id, t.Status)
		}
		t.Status = model.ThreatFalsePositive
		t.Actions = append(t.Actions, model.ThreatAction{
			Timestamp: now, Action: "false_positive", User: userID,
		})
		return nil
	})
	if err != nil {
		return model.Threat{}, err
	}
	g.persist(ctx, updated)
	return updated, nil
}

// Escalate bumps the escalation level, clamped at 5. Repeated calls past
// the clamp, and calls on terminal threats, are no-ops rather than errors.
func (g *Registry) Escalate(ctx context.Context, id string) (model.Threat, error) {
	updated, err := g.transition(id, func(t *model.Threat, now time.Time) error {
		if t.Status.Terminal() || t.EscalationLevel >= maxEscalation {
			return nil
		}
		t.EscalationLevel++
		if t.EscalationLevel >= criticalEscalation {
			t.Severity = model.SeverityCritical
		}
		t.Actions = append(t.Actions, model.ThreatAction{
			Timestamp: now, Action: "escalated",
		})
		return nil
	})
	if err != nil {
		return model.Threat{}, err
	}
	g.persist(ctx, updated)
	return updated, nil
}

// Disable soft-removes a threat from listings. The record itself stays.
func (g *Registry) Disable(ctx context.Context, id string) error {
	updated, err := g.transition(id, func(t *model.Threat, now time.Time) error {
		t.Disabled = true
		t.Actions = append(t.Actions, model.ThreatAction{Timestamp: now, Action: "disabled"})
		return nil
	})
	if err != nil {
		return err
	}
	g.persist(ctx, updated)
	return nil
}

const (
	maxEscalation      = 5
	criticalEscalation = 3
)

func (g *Registry) transition(id string, mutate func(*model.Threat, time.Time) error) (model.Threat, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.threats[id]
	if !ok {
		return model.Threat{}, faults.NotFound("threat", id)
	}
	if err := mutate(t, time.Now().UTC()); err != nil {
		return model.Threat{}, err
	}
	return *t, nil
}

func (g *Registry) persist(ctx context.Context, t model.Threat) {
	if g.db == nil {
		return
	}
	if err := g.db.SaveThreat(ctx, t); err != nil && g.logger != nil {
		g.logger.Warn("threat persist failed", "threat_id", t.ID, "err", err)
	}
}
