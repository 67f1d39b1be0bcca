package container

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
	"github.com/Azure/containerization-assist/pkg/infrastructure/runner"
)

// TrivyScanner runs Trivy against a built image and summarizes its findings.
type TrivyScanner struct {
	runner runner.CommandRunner
	logger *slog.Logger
}

// NewTrivyScanner creates a Trivy-backed scanner.
func NewTrivyScanner(cmdRunner runner.CommandRunner, logger *slog.Logger) *TrivyScanner {
	return &TrivyScanner{
		runner: cmdRunner,
		logger: logger.With("component", "trivy_scanner"),
	}
}

// Strategy implements ImageScanner.
func (ts *TrivyScanner) Strategy() Strategy { return StrategyTrivy }

// Ping implements ImageScanner.
func (ts *TrivyScanner) Ping(ctx context.Context) error {
	_, err := ts.runner.RunCommand(ctx, "trivy", "--version")
	return err
}

// trivyReport is the subset of Trivy's JSON output the summary needs. The
// Results array is absent for images with no findings; every field is
// optional.
type trivyReport struct {
	SchemaVersion int `json:"SchemaVersion"`
	Results       []struct {
		Target          string `json:"Target"`
		Vulnerabilities []struct {
			VulnerabilityID string `json:"VulnerabilityID"`
			PkgName         string `json:"PkgName"`
			FixedVersion    string `json:"FixedVersion"`
			Severity        string `json:"Severity"`
		} `json:"Vulnerabilities"`
		Secrets []struct {
			RuleID   string `json:"RuleID"`
			Severity string `json:"Severity"`
		} `json:"Secrets"`
		Licenses []struct {
			Name     string `json:"Name"`
			Severity string `json:"Severity"`
		} `json:"Licenses"`
	} `json:"Results"`
	Metadata struct {
		ImageID  string   `json:"ImageID"`
		RepoTags []string `json:"RepoTags"`
		OS       struct {
			Family string `json:"Family"`
			Name   string `json:"Name"`
		} `json:"OS"`
	} `json:"Metadata"`
}

// Scan implements ImageScanner.
func (ts *TrivyScanner) Scan(ctx context.Context, imageRef string, severityThreshold string) (*ScanResult, error) {
	start := time.Now()

	args := []string{"trivy", "image", "--format", "json", "--quiet", "--scanners", "vuln,secret,license"}
	if severityThreshold != "" {
		args = append(args, "--severity", severityCeiling(severityThreshold))
	}
	args = append(args, imageRef)

	out, err := ts.runner.RunCommand(ctx, args...)
	if err != nil {
		return nil, errors.New(errors.CodeScanFailed, "security", fmt.Sprintf("trivy scan of %s failed: %s", imageRef, lastLines(out, 5)), err)
	}

	var report trivyReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		return nil, errors.New(errors.CodeScanFailed, "security", "failed to decode trivy output", err)
	}

	result := &ScanResult{
		ImageRef: imageRef,
		Scanner:  StrategyTrivy,
		ScanTime: start,
		Context:  make(map[string]interface{}),
	}

	for _, entry := range report.Results {
		for _, vuln := range entry.Vulnerabilities {
			result.Summary.Add(vuln.Severity, vuln.FixedVersion != "")
		}
		result.Summary.Secrets += len(entry.Secrets)
		result.Summary.Licenses += len(entry.Licenses)
	}

	if report.Metadata.ImageID != "" {
		result.Context["image_id"] = report.Metadata.ImageID
	}
	if report.Metadata.OS.Family != "" {
		result.Context["os_family"] = report.Metadata.OS.Family
		result.Context["os_name"] = report.Metadata.OS.Name
	}
	if report.SchemaVersion > 0 {
		result.Context["schema_version"] = report.SchemaVersion
	}
	result.Context["total_results"] = len(report.Results)

	result.Duration = time.Since(start)
	result.Success = result.Summary.Critical == 0 && result.Summary.High == 0
	return result, nil
}

// severityCeiling expands a threshold into the comma list Trivy expects,
// e.g. "high" scans for HIGH,CRITICAL.
func severityCeiling(threshold string) string {
	order := []string{"UNKNOWN", "LOW", "MEDIUM", "HIGH", "CRITICAL"}
	upper := strings.ToUpper(threshold)
	for i, level := range order {
		if level == upper {
			return strings.Join(order[i:], ",")
		}
	}
	return strings.Join(order, ",")
}

var _ ImageScanner = (*TrivyScanner)(nil)
