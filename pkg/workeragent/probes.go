package workeragent

import (
	"context"
	"fmt"
	"time"

	"github.com/hodeiorg/hodei-pipelines/pkg/health"
	"github.com/hodeiorg/hodei-pipelines/pkg/types"
)

// checkerFor builds a health.Checker from one WorkerTemplate probe
// declaration (§3 Probe).
func checkerFor(p types.Probe) (health.Checker, error) {
	switch p.Type {
	case "http":
		return health.NewHTTPChecker(p.Endpoint), nil
	case "tcp":
		return health.NewTCPChecker(p.Endpoint), nil
	case "exec":
		return health.NewExecChecker(p.Command), nil
	default:
		return nil, fmt.Errorf("unknown probe type %q", p.Type)
	}
}

// AwaitReady runs every probe in cfg.Probes to completion before the
// agent registers with the orchestrator, so a worker whose declared
// dependencies (a sidecar, a mounted volume) aren't up yet never
// accepts a job. Each probe honors its own InitialDelay/Period and is
// checked up to FailureThreshold times in all (default 1) before AwaitReady
// gives up and returns an error naming the failing probe.
func (a *Agent) AwaitReady(ctx context.Context) error {
	for _, p := range a.cfg.Probes {
		checker, err := checkerFor(p)
		if err != nil {
			return err
		}

		if p.InitialDelay > 0 {
			if err := sleepOrDone(ctx, p.InitialDelay); err != nil {
				return err
			}
		}

		attempts := p.FailureThreshold
		if attempts <= 0 {
			attempts = 1
		}

		var last health.Result
		ready := false
		for i := 0; i < attempts; i++ {
			last = checker.Check(ctx)
			if last.Healthy {
				ready = true
				break
			}
			if i < attempts-1 && p.Period > 0 {
				if err := sleepOrDone(ctx, p.Period); err != nil {
					return err
				}
			}
		}

		if !ready {
			return fmt.Errorf("probe %s(%s) never became healthy: %s", p.Type, p.Endpoint, last.Message)
		}
		a.logger.Info().Str("probe_type", p.Type).Str("endpoint", p.Endpoint).Msg("readiness probe passed")
	}
	return nil
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
