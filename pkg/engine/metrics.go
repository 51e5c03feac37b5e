package engine

import (
	"time"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/observability"
)

func observeRateLimited(principalID string) {
	observability.RateLimitRejectedTotal.WithLabelValues(principalID).Inc()
}

func observeScreenerRejection(lang api.Language, risk api.RiskLevel) {
	observability.ScreenerRejectionsTotal.WithLabelValues(string(lang), string(risk)).Inc()
}

func observeExecution(lang api.Language, status api.ExecutionStatus, d time.Duration) {
	observability.ExecutionsTotal.WithLabelValues(string(lang), string(status)).Inc()
	observability.ExecutionDuration.WithLabelValues(string(lang)).Observe(d.Seconds())
}
