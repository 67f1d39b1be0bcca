package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
)

// DualClient fronts two ImageClient implementations. Operations go to the
// preferred strategy first and fall back to the other on failure; a success
// on the non-preferred strategy flips the preference for future calls.
// Availability comes from explicit probes only, so a single failed build
// never marks a strategy unavailable.
type DualClient struct {
	clients map[Strategy]ImageClient
	state   *strategyState
	logger  *slog.Logger
}

// NewDualClient wires the API and CLI clients behind the strategy state.
// The API path starts preferred.
func NewDualClient(api ImageClient, cli ImageClient, probeInterval time.Duration, logger *slog.Logger) *DualClient {
	probes := map[Strategy]probeFunc{
		StrategyAPI: api.Ping,
		StrategyCLI: cli.Ping,
	}
	return &DualClient{
		clients: map[Strategy]ImageClient{
			StrategyAPI: api,
			StrategyCLI: cli,
		},
		state:  newStrategyState(StrategyAPI, StrategyCLI, probes, probeInterval),
		logger: logger.With("component", "image_client"),
	}
}

var _ ImageOps = (*DualClient)(nil)

// PreferredStrategy returns the strategy currently attempted first.
func (d *DualClient) PreferredStrategy() Strategy {
	return d.state.Preferred()
}

// RefreshAvailability re-probes both strategies, bypassing the cache.
func (d *DualClient) RefreshAvailability(ctx context.Context) {
	d.state.Refresh(ctx, true)
}

// Build builds an image on whichever strategy succeeds first.
func (d *DualClient) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	return execute(d, ctx, "build", func(ctx context.Context, c ImageClient) (*BuildResult, error) {
		return c.Build(ctx, opts)
	})
}

// Tag applies target to the image known as source.
func (d *DualClient) Tag(ctx context.Context, source, target string) error {
	_, err := execute(d, ctx, "tag", func(ctx context.Context, c ImageClient) (struct{}, error) {
		return struct{}{}, c.Tag(ctx, source, target)
	})
	return err
}

// Push pushes an image reference to its registry.
func (d *DualClient) Push(ctx context.Context, imageRef string) (string, error) {
	return execute(d, ctx, "push", func(ctx context.Context, c ImageClient) (string, error) {
		return c.Push(ctx, imageRef)
	})
}

// Inspect returns image metadata.
func (d *DualClient) Inspect(ctx context.Context, imageRef string) (*InspectResult, error) {
	return execute(d, ctx, "inspect", func(ctx context.Context, c ImageClient) (*InspectResult, error) {
		return c.Inspect(ctx, imageRef)
	})
}

// execute runs one operation with the preferred-then-fallback policy.
func execute[T any](d *DualClient, ctx context.Context, op string, call func(context.Context, ImageClient) (T, error)) (T, error) {
	var zero T

	d.state.Refresh(ctx, false)

	first := d.state.Preferred()
	second := d.state.Alternate(first)

	// A preferred strategy that failed its probe is skipped when the other
	// path is usable; with both probes failing we still try the preferred
	// path rather than refusing outright.
	if !d.state.Available(first) && d.state.Available(second) {
		first, second = second, first
	}

	result, err := call(ctx, d.clients[first])
	if err == nil {
		d.state.RecordSuccess(first)
		return result, nil
	}
	if ctx.Err() != nil {
		return zero, err
	}

	if !d.state.Available(second) {
		return zero, err
	}

	d.logger.Warn("operation failed, retrying on fallback strategy",
		"operation", op,
		"failed_strategy", string(first),
		"fallback_strategy", string(second),
		"error", err)

	result, fallbackErr := call(ctx, d.clients[second])
	if fallbackErr == nil {
		d.state.RecordSuccess(second)
		return result, nil
	}

	return zero, errors.New(errors.CodeStrategyUnavailable, "docker",
		fmt.Sprintf("%s failed on both strategies (%s: %v)", op, first, err), fallbackErr)
}
