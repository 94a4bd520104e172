package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	MagicLinksIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dpp_magic_links_issued_total",
			Help: "Magic link requests by purpose and outcome.",
		},
		[]string{"purpose", "result"},
	)

	MagicLinkVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dpp_magic_link_verifications_total",
			Help: "Magic link verification attempts by outcome.",
		},
		[]string{"purpose", "result"},
	)

	PassportOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dpp_passport_operations_total",
			Help: "Passport store writes by operation and outcome.",
		},
		[]string{"operation", "result"},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dpp_rate_limited_total",
			Help: "Requests rejected by a rate limiter, by limiter scope.",
		},
		[]string{"scope"},
	)

	SustainabilityReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dpp_sustainability_reads_total",
			Help: "Sustainability data reads by decoded state.",
		},
		[]string{"state"},
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		MagicLinksIssuedTotal,
		MagicLinkVerificationsTotal,
		PassportOperationsTotal,
		RateLimitedTotal,
		SustainabilityReadsTotal,
	)
}
