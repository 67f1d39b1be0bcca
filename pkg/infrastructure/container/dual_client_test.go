package container

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
)

// fakeImageClient scripts one ImageClient strategy for fallback tests.
type fakeImageClient struct {
	strategy Strategy
	pingErr  error
	buildErr error
	builds   int
}

func (f *fakeImageClient) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeImageClient) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	f.builds++
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return &BuildResult{ImageRef: opts.ImageRef, ImageID: "sha256:abc", Strategy: f.strategy}, nil
}

func (f *fakeImageClient) Tag(ctx context.Context, source, target string) error { return f.buildErr }

func (f *fakeImageClient) Push(ctx context.Context, imageRef string) (string, error) {
	if f.buildErr != nil {
		return "", f.buildErr
	}
	return "sha256:digest", nil
}

func (f *fakeImageClient) Inspect(ctx context.Context, imageRef string) (*InspectResult, error) {
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return &InspectResult{ID: "sha256:abc"}, nil
}

func (f *fakeImageClient) Strategy() Strategy { return f.strategy }

func newTestDual(api, cli *fakeImageClient) *DualClient {
	return NewDualClient(api, cli, time.Minute, slog.Default())
}

func TestPreferredStrategySucceeds(t *testing.T) {
	api := &fakeImageClient{strategy: StrategyAPI}
	cli := &fakeImageClient{strategy: StrategyCLI}
	dual := newTestDual(api, cli)

	result, err := dual.Build(context.Background(), BuildOptions{ImageRef: "app:latest"})
	require.NoError(t, err)
	assert.Equal(t, StrategyAPI, result.Strategy)
	assert.Equal(t, 1, api.builds)
	assert.Equal(t, 0, cli.builds)
	assert.Equal(t, StrategyAPI, dual.PreferredStrategy())
}

func TestFallbackFlipsPreference(t *testing.T) {
	api := &fakeImageClient{strategy: StrategyAPI, buildErr: errors.New(errors.CodeImageBuildFailed, "docker", "daemon unreachable", nil)}
	cli := &fakeImageClient{strategy: StrategyCLI}
	dual := newTestDual(api, cli)

	result, err := dual.Build(context.Background(), BuildOptions{ImageRef: "app:latest"})
	require.NoError(t, err)
	assert.Equal(t, StrategyCLI, result.Strategy)
	assert.Equal(t, StrategyCLI, dual.PreferredStrategy())

	// The next operation goes straight to the strategy that worked.
	_, err = dual.Build(context.Background(), BuildOptions{ImageRef: "app:latest"})
	require.NoError(t, err)
	assert.Equal(t, 1, api.builds)
	assert.Equal(t, 2, cli.builds)
}

func TestPreferenceDoesNotOscillateOnFailureAlone(t *testing.T) {
	api := &fakeImageClient{strategy: StrategyAPI}
	cli := &fakeImageClient{strategy: StrategyCLI}
	dual := newTestDual(api, cli)

	// Flip preference to CLI.
	api.buildErr = errors.New(errors.CodeImageBuildFailed, "docker", "boom", nil)
	_, err := dual.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	require.Equal(t, StrategyCLI, dual.PreferredStrategy())

	// A CLI failure with API also failing must not flip preference back.
	api.buildErr = errors.New(errors.CodeImageBuildFailed, "docker", "still down", nil)
	cli.buildErr = errors.New(errors.CodeImageBuildFailed, "docker", "cli broke", nil)
	_, err = dual.Build(context.Background(), BuildOptions{})
	require.Error(t, err)
	assert.Equal(t, StrategyCLI, dual.PreferredStrategy())
}

func TestBothStrategiesFail(t *testing.T) {
	api := &fakeImageClient{strategy: StrategyAPI, buildErr: errors.New(errors.CodeImageBuildFailed, "docker", "api down", nil)}
	cli := &fakeImageClient{strategy: StrategyCLI, buildErr: errors.New(errors.CodeImageBuildFailed, "docker", "cli down", nil)}
	dual := newTestDual(api, cli)

	_, err := dual.Build(context.Background(), BuildOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeStrategyUnavailable))
	assert.Contains(t, err.Error(), "api down")
	assert.Contains(t, err.Error(), "cli down")
}

func TestUnavailablePreferredIsSkipped(t *testing.T) {
	api := &fakeImageClient{strategy: StrategyAPI, pingErr: errors.New(errors.CodeOperationFailed, "docker", "no daemon", nil)}
	cli := &fakeImageClient{strategy: StrategyCLI}
	dual := newTestDual(api, cli)

	dual.RefreshAvailability(context.Background())

	result, err := dual.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, StrategyCLI, result.Strategy)
	assert.Equal(t, 0, api.builds)
}

func TestNoFallbackAfterContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api := &fakeImageClient{strategy: StrategyAPI}
	api.buildErr = context.Canceled
	cli := &fakeImageClient{strategy: StrategyCLI}
	dual := newTestDual(api, cli)

	cancel()
	_, err := dual.Build(ctx, BuildOptions{})
	require.Error(t, err)
	assert.Equal(t, 0, cli.builds)
}
