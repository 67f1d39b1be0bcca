package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
)

// DualScanner applies the same preferred-then-fallback policy to
// vulnerability scanning: Trivy first, Grype when Trivy fails, preference
// following observed success.
type DualScanner struct {
	scanners map[Strategy]ImageScanner
	state    *strategyState
	logger   *slog.Logger
}

// NewDualScanner wires the Trivy and Grype scanners behind strategy state.
func NewDualScanner(trivy ImageScanner, grype ImageScanner, probeInterval time.Duration, logger *slog.Logger) *DualScanner {
	probes := map[Strategy]probeFunc{
		StrategyTrivy: trivy.Ping,
		StrategyGrype: grype.Ping,
	}
	return &DualScanner{
		scanners: map[Strategy]ImageScanner{
			StrategyTrivy: trivy,
			StrategyGrype: grype,
		},
		state:  newStrategyState(StrategyTrivy, StrategyGrype, probes, probeInterval),
		logger: logger.With("component", "image_scanner"),
	}
}

var _ ScanOps = (*DualScanner)(nil)

// PreferredStrategy returns the scanner currently attempted first.
func (d *DualScanner) PreferredStrategy() Strategy {
	return d.state.Preferred()
}

// RefreshAvailability re-probes both scanners, bypassing the cache.
func (d *DualScanner) RefreshAvailability(ctx context.Context) {
	d.state.Refresh(ctx, true)
}

// Scan scans an image on whichever scanner succeeds first.
func (d *DualScanner) Scan(ctx context.Context, imageRef string, severityThreshold string) (*ScanResult, error) {
	d.state.Refresh(ctx, false)

	first := d.state.Preferred()
	second := d.state.Alternate(first)
	if !d.state.Available(first) && d.state.Available(second) {
		first, second = second, first
	}

	result, err := d.scanners[first].Scan(ctx, imageRef, severityThreshold)
	if err == nil {
		d.state.RecordSuccess(first)
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	if !d.state.Available(second) {
		return nil, err
	}

	d.logger.Warn("scan failed, retrying on fallback scanner",
		"failed_scanner", string(first),
		"fallback_scanner", string(second),
		"error", err)

	result, fallbackErr := d.scanners[second].Scan(ctx, imageRef, severityThreshold)
	if fallbackErr == nil {
		d.state.RecordSuccess(second)
		return result, nil
	}

	return nil, errors.New(errors.CodeStrategyUnavailable, "security",
		fmt.Sprintf("scan failed on both scanners (%s: %v)", first, err), fallbackErr)
}
