package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
	"github.com/Azure/containerization-assist/pkg/domain/workflow"
)

// scanStep runs a vulnerability scan against the built image. Critical or
// high findings fail the step; the summary is persisted either way through
// the result payload attached to the error path by the orchestrator.
type scanStep struct {
	deps Deps
}

func (s *scanStep) Name() string           { return workflow.StepScanImage }
func (s *scanStep) ResultKey() string      { return KeyScanResult }
func (s *scanStep) Timeout() time.Duration { return 5 * time.Minute }

func (s *scanStep) Execute(ctx context.Context, req Request) (map[string]interface{}, error) {
	ref := builtImageRef(req)
	result, err := s.deps.Scanner.Scan(ctx, ref, "high")
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"image_ref": result.ImageRef,
		"scanner":   string(result.Scanner),
		"success":   result.Success,
		"summary": map[string]interface{}{
			"total":    result.Summary.Total,
			"critical": result.Summary.Critical,
			"high":     result.Summary.High,
			"medium":   result.Summary.Medium,
			"low":      result.Summary.Low,
			"fixable":  result.Summary.Fixable,
		},
		"scan_time": result.ScanTime.UTC().Format(time.RFC3339),
	}

	s.deps.Logger.Info("image scanned",
		"image_ref", ref,
		"scanner", result.Scanner,
		"critical", result.Summary.Critical,
		"high", result.Summary.High,
		"total", result.Summary.Total)

	if !result.Success {
		return payload, errors.New(errors.CodeScanFailed, "security",
			fmt.Sprintf("image %s has %d critical and %d high severity vulnerabilities",
				ref, result.Summary.Critical, result.Summary.High), nil)
	}
	return payload, nil
}
