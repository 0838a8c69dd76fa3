package domain

import "time"

// Health states, worst last. A non-critical dependency failing yields degraded; a critical one
// yields error.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck is the result of probing one dependency.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport is what /healthz and /readyz render. PaymentMode is "demo" or "live".
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	PaymentMode string
	Uptime      time.Duration
	GeneratedAt time.Time
}
