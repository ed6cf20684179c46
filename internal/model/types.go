package model

import "time"

type SensorStatus string

const (
	StatusNormal   SensorStatus = "normal"
	StatusWarning  SensorStatus = "warning"
	StatusCritical SensorStatus = "critical"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type ThreatStatus string

const (
	ThreatActive        ThreatStatus = "active"
	ThreatInvestigating ThreatStatus = "investigating"
	ThreatResolved      ThreatStatus = "resolved"
	ThreatFalsePositive ThreatStatus = "false_positive"
)

// Terminal reports whether no further state transitions are allowed.
func (s ThreatStatus) Terminal() bool {
	return s == ThreatResolved || s == ThreatFalsePositive
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Sensor is a configured telemetry source. Warning and critical bounds are
// the classification thresholds for incoming values; classification is
// independent of anomaly scoring.
type Sensor struct {
	ID        string  `json:"id" yaml:"id"`
	Name      string  `json:"name" yaml:"name"`
	Type      string  `json:"type" yaml:"type"`
	Zone      string  `json:"zone" yaml:"zone"`
	Unit      string  `json:"unit" yaml:"unit"`
	Baseline  float64 `json:"baseline" yaml:"baseline"`
	WarnLow   float64 `json:"warn_low" yaml:"warn_low"`
	WarnHigh  float64 `json:"warn_high" yaml:"warn_high"`
	CritLow   float64 `json:"crit_low" yaml:"crit_low"`
	CritHigh  float64 `json:"crit_high" yaml:"crit_high"`
	Simulated bool    `json:"simulated" yaml:"simulated"`
}

// Reading is one timestamped sensor measurement. Immutable once created.
type Reading struct {
	SensorID     string       `json:"sensor_id"`
	Timestamp    time.Time    `json:"timestamp"`
	Value        float64      `json:"value"`
	Unit         string       `json:"unit,omitempty"`
	Status       SensorStatus `json:"status"`
	AnomalyScore float64      `json:"anomaly_score"`
	Quality      float64      `json:"quality"`
}

// SensorModel is the statistical baseline for one sensor. Models are
// replaced wholesale on retrain, never mutated in place.
type SensorModel struct {
	SensorID    string    `json:"sensor_id"`
	Mean        float64   `json:"mean"`
	StdDev      float64   `json:"stddev"`
	Variance    float64   `json:"variance"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	P1          float64   `json:"p1"`
	P5          float64   `json:"p5"`
	P95         float64   `json:"p95"`
	P99         float64   `json:"p99"`
	TrendSlope  float64   `json:"trend_slope"`
	SampleSize  int       `json:"sample_size"`
	LastTrained time.Time `json:"last_trained"`
}

// AnomalyResult is the outcome of scoring one reading against its sensor's
// model. A missing model yields the zero result with a single reason; that
// is a valid outcome, not an error.
type AnomalyResult struct {
	SensorID   string    `json:"sensor_id"`
	IsAnomaly  bool      `json:"is_anomaly"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	Reasons    []string  `json:"reasons,omitempty"`
	ScoredAt   time.Time `json:"scored_at"`
}

type Location struct {
	Name string `json:"name"`
	Zone string `json:"zone"`
}

// ThreatAction is one entry in a threat's ordered action log.
type ThreatAction struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	User      string    `json:"user,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}

// Threat is a tracked incident synthesized from a qualifying critical
// reading. Threats are only ever soft-disabled, never deleted.
type Threat struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Description     string         `json:"description,omitempty"`
	Severity        Severity       `json:"severity"`
	Location        Location       `json:"location"`
	Status          ThreatStatus   `json:"status"`
	EscalationLevel int            `json:"escalation_level"`
	RiskScore       float64        `json:"risk_score"`
	RelatedSensors  []string       `json:"related_sensors"`
	DetectedAt      time.Time      `json:"detected_at"`
	AcknowledgedBy  string         `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedBy      string         `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	ResolutionNotes string         `json:"resolution_notes,omitempty"`
	ResponseTimeSec float64        `json:"response_time_sec,omitempty"`
	Actions         []ThreatAction `json:"actions,omitempty"`
	Disabled        bool           `json:"disabled,omitempty"`
}

// ThreatAlert is the lightweight payload broadcast alongside a new threat.
type ThreatAlert struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Location    Location `json:"location"`
}

// SensorHealth summarizes current sensor classifications for risk scoring.
type SensorHealth struct {
	SensorCount   int `json:"sensor_count"`
	CriticalCount int `json:"critical_count"`
	WarningCount  int `json:"warning_count"`
}

// ZoneRiskSnapshot is derived on demand from active threats and sensor
// health; it has no independent lifecycle.
type ZoneRiskSnapshot struct {
	Zone            string    `json:"zone,omitempty"`
	RiskScore       float64   `json:"risk_score"`
	RiskLevel       RiskLevel `json:"risk_level"`
	ThreatCount     int       `json:"threat_count"`
	CriticalSensors int       `json:"critical_sensors"`
	WarningSensors  int       `json:"warning_sensors"`
	ComputedAt      time.Time `json:"computed_at"`
}

// SystemStatus is the periodic aggregate snapshot published to observers.
type SystemStatus struct {
	Time          time.Time        `json:"time"`
	UptimeSec     float64          `json:"uptime_sec"`
	SensorCount   int              `json:"sensor_count"`
	ObserverCount int              `json:"observer_count"`
	ActiveThreats int              `json:"active_threats"`
	OverallRisk   ZoneRiskSnapshot `json:"overall_risk"`
}
