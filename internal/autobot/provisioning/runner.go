package provisioning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Op selects the direction of a provisioning run.
type Op string

const (
	OpOnboard  Op = "onboard"
	OpOffboard Op = "offboard"
)

// StepResult is the outcome of one vendor call.
type StepResult struct {
	Step   string
	OK     bool
	Detail string
}

// Report aggregates a full provisioning run. Succeeded and FailedSteps
// partition the attempted vendors: every vendor lands in exactly one list.
type Report struct {
	OK           bool
	Succeeded    []string
	FailedSteps  []string
	ErrorDetails []string
}

// Summary renders the final operator-facing line for a run.
func (r *Report) Summary(op Op, u User) string {
	total := len(r.Succeeded) + len(r.FailedSteps)
	if r.OK {
		return fmt.Sprintf("All done! %s of %s completed across all %d services.", op, u.Email, total)
	}
	return fmt.Sprintf("%s of %s finished with errors: %d of %d services succeeded. Failed: %s. See the step messages above for details.",
		titleWord(string(op)), u.Email, len(r.Succeeded), total, strings.Join(r.FailedSteps, ", "))
}

// Poster delivers per-step progress lines to the operator.
type Poster func(message string)

// Runner executes a provisioning run across a fixed vendor order.
type Runner struct {
	services []Service
	// stepDelay spaces out vendor calls to stay under their rate limits.
	stepDelay time.Duration
}

// NewRunner creates a Runner over the given services. The slice order is the
// execution order.
func NewRunner(services []Service) *Runner {
	return &Runner{services: services, stepDelay: time.Second}
}

// Run calls op on every service in order, continuing past failures, and
// returns the aggregated report. post receives one line per step; the caller
// posts the summary itself.
func (r *Runner) Run(ctx context.Context, op Op, u User, post Poster) *Report {
	report := &Report{OK: true}

	for i, svc := range r.services {
		if i > 0 && r.stepDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.stepDelay):
			}
		}

		res := r.runStep(ctx, op, svc, u)
		if res.OK {
			report.Succeeded = append(report.Succeeded, res.Step)
			post(fmt.Sprintf("%s: %s", res.Step, res.Detail))
		} else {
			report.OK = false
			report.FailedSteps = append(report.FailedSteps, res.Step)
			report.ErrorDetails = append(report.ErrorDetails, res.Detail)
			post(fmt.Sprintf("%s: %s", res.Step, res.Detail))
		}
	}
	return report
}

func (r *Runner) runStep(ctx context.Context, op Op, svc Service, u User) StepResult {
	var detail string
	var err error
	switch op {
	case OpOnboard:
		detail, err = svc.Onboard(ctx, u)
	case OpOffboard:
		detail, err = svc.Offboard(ctx, u)
	default:
		err = fmt.Errorf("unknown operation %q", op)
	}

	if err != nil {
		slog.Error("provisioning step failed", "service", svc.Name(), "op", op, "email", u.Email, "err", err)
		return StepResult{Step: svc.Name(), OK: false, Detail: err.Error()}
	}
	slog.Info("provisioning step done", "service", svc.Name(), "op", op, "email", u.Email)
	return StepResult{Step: svc.Name(), OK: true, Detail: detail}
}
