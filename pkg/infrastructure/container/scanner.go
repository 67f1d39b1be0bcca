package container

import (
	"context"
	"strings"
	"time"
)

// ScanSummary buckets raw scanner findings by severity, plus secret and
// license counts. A scan of a clean image (or a result with no findings
// section at all) is an all-zero summary, not an error.
type ScanSummary struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Unknown  int `json:"unknown"`
	Fixable  int `json:"fixable"`
	Secrets  int `json:"secrets"`
	Licenses int `json:"licenses"`
}

// Add counts one finding of the given severity.
func (s *ScanSummary) Add(severity string, fixable bool) {
	s.Total++
	if fixable {
		s.Fixable++
	}
	switch strings.ToUpper(severity) {
	case "CRITICAL":
		s.Critical++
	case "HIGH":
		s.High++
	case "MEDIUM":
		s.Medium++
	case "LOW", "NEGLIGIBLE":
		s.Low++
	default:
		s.Unknown++
	}
}

// ScanResult is the outcome of one vulnerability scan.
type ScanResult struct {
	ImageRef string                 `json:"image_ref"`
	Scanner  Strategy               `json:"scanner"`
	Success  bool                   `json:"success"`
	Summary  ScanSummary            `json:"summary"`
	ScanTime time.Time              `json:"scan_time"`
	Duration time.Duration          `json:"duration"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// ScanOps is the scan operation surface consumers depend on. DualScanner
// satisfies it with strategy selection layered on top.
type ScanOps interface {
	Scan(ctx context.Context, imageRef string, severityThreshold string) (*ScanResult, error)
}

// ImageScanner is one implementation path for vulnerability scanning.
type ImageScanner interface {
	// Ping probes whether the scanner binary is usable.
	Ping(ctx context.Context) error
	Scan(ctx context.Context, imageRef string, severityThreshold string) (*ScanResult, error)
	Strategy() Strategy
}
