package container

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
	"github.com/Azure/containerization-assist/pkg/infrastructure/runner"
)

// GrypeScanner is the fallback vulnerability scanner. Grype reports
// vulnerabilities only; its summaries carry zero secret and license counts.
type GrypeScanner struct {
	runner runner.CommandRunner
	logger *slog.Logger
}

// NewGrypeScanner creates a Grype-backed scanner.
func NewGrypeScanner(cmdRunner runner.CommandRunner, logger *slog.Logger) *GrypeScanner {
	return &GrypeScanner{
		runner: cmdRunner,
		logger: logger.With("component", "grype_scanner"),
	}
}

// Strategy implements ImageScanner.
func (gs *GrypeScanner) Strategy() Strategy { return StrategyGrype }

// Ping implements ImageScanner.
func (gs *GrypeScanner) Ping(ctx context.Context) error {
	_, err := gs.runner.RunCommand(ctx, "grype", "version")
	return err
}

type grypeReport struct {
	Matches []struct {
		Vulnerability struct {
			ID       string `json:"id"`
			Severity string `json:"severity"`
			Fix      struct {
				Versions []string `json:"versions"`
				State    string   `json:"state"`
			} `json:"fix"`
		} `json:"vulnerability"`
	} `json:"matches"`
	Source struct {
		Target interface{} `json:"target"`
	} `json:"source"`
}

// Scan implements ImageScanner.
func (gs *GrypeScanner) Scan(ctx context.Context, imageRef string, severityThreshold string) (*ScanResult, error) {
	start := time.Now()

	out, err := gs.runner.RunCommand(ctx, "grype", imageRef, "-o", "json", "--quiet")
	if err != nil {
		return nil, errors.New(errors.CodeScanFailed, "security", fmt.Sprintf("grype scan of %s failed: %s", imageRef, lastLines(out, 5)), err)
	}

	var report grypeReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		return nil, errors.New(errors.CodeScanFailed, "security", "failed to decode grype output", err)
	}

	result := &ScanResult{
		ImageRef: imageRef,
		Scanner:  StrategyGrype,
		ScanTime: start,
		Context: map[string]interface{}{
			"total_matches": len(report.Matches),
		},
	}

	for _, match := range report.Matches {
		fixable := match.Vulnerability.Fix.State == "fixed" || len(match.Vulnerability.Fix.Versions) > 0
		result.Summary.Add(match.Vulnerability.Severity, fixable)
	}

	result.Duration = time.Since(start)
	result.Success = result.Summary.Critical == 0 && result.Summary.High == 0
	return result, nil
}

var _ ImageScanner = (*GrypeScanner)(nil)
