package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/nihonselect/api/internal/domain"
	"github.com/nihonselect/api/internal/repositories"
)

// BuildInfo is the process metadata stamped on every health report.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	PaymentMode string
	StartedAt   time.Time
}

// overlay fills blank report fields from b.
func (b BuildInfo) overlay(report *SystemHealthReport) {
	fill := func(dst *string, fallback string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = strings.TrimSpace(fallback)
		}
	}
	fill(&report.Version, b.Version)
	fill(&report.CommitSHA, b.CommitSHA)
	fill(&report.Environment, b.Environment)
	fill(&report.PaymentMode, b.PaymentMode)
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	health repositories.HealthRepository
	now    func() time.Time
	build  BuildInfo
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{
		health: deps.HealthRepository,
		now:    func() time.Time { return clock().UTC() },
		build:  build,
	}, nil
}

// HealthReport probes dependencies and stamps build metadata, including whether payments run
// against the live processor or the demo simulator. The overall status is the worst check.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.now()
	report.GeneratedAt = report.GeneratedAt.UTC()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	s.build.overlay(&report)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = worstStatus(report.Checks)
	}
	return report, nil
}

var healthSeverity = map[string]int{
	"":                          0,
	domain.HealthStatusOK:       0,
	domain.HealthStatusDegraded: 1,
	domain.HealthStatusError:    2,
}

// worstStatus ranks checks; unrecognised states count as degraded.
func worstStatus(checks map[string]domain.SystemHealthCheck) string {
	worst := 0
	for _, check := range checks {
		rank, known := healthSeverity[check.Status]
		if !known {
			rank = 1
		}
		worst = max(worst, rank)
	}
	switch worst {
	case 2:
		return domain.HealthStatusError
	case 1:
		return domain.HealthStatusDegraded
	default:
		return domain.HealthStatusOK
	}
}
