package traffic

type Status string

const (
	StatusHealthy    Status = "healthy"
	StatusDegraded   Status = "degraded"
	StatusOverloaded Status = "overloaded"
)

// HealthPolicy turns tracker counts into a status.
type HealthPolicy struct {
	// DegradedErrorPct marks the service degraded when failed flow runs reach
	// this share of completed runs. 0 disables the check.
	DegradedErrorPct int
	// MinSamples is the number of completed runs needed before the error rate counts.
	MinSamples int
	// OverloadThresholdPct marks the service overloaded when denials exceed this
	// share of the rate limiter's capacity over the window. 0 disables the check.
	OverloadThresholdPct int
	// RateLimitRPS is the limiter's sustained rate; 0 means no limiter.
	RateLimitRPS int
}

// Evaluate returns the status and a short reason; overload wins over degraded.
func (p HealthPolicy) Evaluate(t *Tracker) (Status, string) {
	if p.RateLimitRPS > 0 && p.OverloadThresholdPct > 0 {
		capacity := float64(p.RateLimitRPS) * t.Window().Seconds()
		if float64(t.DenialCount()) > capacity*float64(p.OverloadThresholdPct)/100 {
			return StatusOverloaded, "overload_threshold"
		}
	}
	if p.DegradedErrorPct > 0 {
		errs, total := t.ErrorRate()
		if total > 0 && total >= p.MinSamples && errs*100 >= p.DegradedErrorPct*total {
			return StatusDegraded, "error_rate_breach"
		}
	}
	return StatusHealthy, ""
}
