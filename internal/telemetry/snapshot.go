package telemetry

import (
	"context"
	"time"

	"sentinelgrid/internal/model"
)

// The driver is the hub's command backend: snapshot requests and threat
// transitions from observers land here.

func (d *Driver) SensorSnapshot() []model.Reading {
	return d.ring.Snapshot()
}

func (d *Driver) ThreatSnapshot() []model.Threat {
	return d.registry.List(0)
}

func (d *Driver) SystemSnapshot() model.SystemStatus {
	now := time.Now().UTC()
	uptime := 0.0
	if !d.started.IsZero() {
		uptime = now.Sub(d.started).Seconds()
	}
	return model.SystemStatus{
		Time:          now,
		UptimeSec:     uptime,
		SensorCount:   len(d.Sensors()),
		ObserverCount: d.hub.Count(),
		ActiveThreats: len(d.registry.Active("")),
		OverallRisk:   d.ZoneRisk(""),
	}
}

func (d *Driver) AcknowledgeThreat(ctx context.Context, threatID, userID string) (model.Threat, error) {
	t, err := d.registry.Acknowledge(ctx, threatID, userID)
	if err != nil {
		return model.Threat{}, err
	}
	d.mirror(ctx, "threat-update", t)
	return t, nil
}

func (d *Driver) ResolveThreat(ctx context.Context, threatID, userID, notes string) (model.Threat, error) {
	t, err := d.registry.Resolve(ctx, threatID, userID, notes)
	if err != nil {
		return model.Threat{}, err
	}
	d.mirror(ctx, "threat-update", t)
	return t, nil
}

func (d *Driver) EscalateThreat(ctx context.Context, threatID string) (model.Threat, error) {
	t, err := d.registry.Escalate(ctx, threatID)
	if err != nil {
		return model.Threat{}, err
	}
	d.mirror(ctx, "threat-update", t)
	return t, nil
}
