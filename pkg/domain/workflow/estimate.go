package workflow

import "time"

// Per-step base duration estimates. These feed the advertised estimate only;
// enforcement happens through per-step timeouts in the orchestrator.
var stepEstimates = map[string]time.Duration{
	StepAnalyzeRepository:  30 * time.Second,
	StepGenerateDockerfile: 15 * time.Second,
	StepBuildImage:         5 * time.Minute,
	StepScanImage:          2 * time.Minute,
	StepTagImage:           5 * time.Second,
	StepPushImage:          2 * time.Minute,
	StepGenerateManifests:  15 * time.Second,
	StepDeployApplication:  90 * time.Second,
	StepVerifyDeployment:   60 * time.Second,
}

// Steps that may be retried once on transient failure; their estimate is
// inflated accordingly.
var retryableSteps = map[string]bool{
	StepBuildImage: true,
	StepPushImage:  true,
	StepScanImage:  true,
}

// Retryable reports whether a step is worth one more attempt after a
// failure. Only steps whose failures are commonly transient qualify.
func Retryable(step string) bool {
	return retryableSteps[step]
}

const (
	retryMultiplier      = 1.5
	skipTestsDiscount    = 0.10
	skipSecurityDiscount = 0.05
	parallelDiscount     = 0.20
)

// EstimateDuration sums per-step base estimates for the resolved step list,
// inflating retryable steps and applying percentage discounts for options
// that skip work or enable parallelism. An estimate only, never a timeout.
func EstimateDuration(steps []string, opts Options) time.Duration {
	var total time.Duration
	for _, step := range steps {
		est, ok := stepEstimates[step]
		if !ok {
			est = time.Minute
		}
		if retryableSteps[step] {
			est = time.Duration(float64(est) * retryMultiplier)
		}
		total += est
	}

	discount := 0.0
	if opts.SkipTests {
		discount += skipTestsDiscount
	}
	if opts.SkipSecurity {
		discount += skipSecurityDiscount
	}
	if opts.ParallelSteps {
		discount += parallelDiscount
	}
	if discount > 0 {
		total = time.Duration(float64(total) * (1 - discount))
	}
	return total
}
