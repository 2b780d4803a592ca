package metrics

import "github.com/prometheus/client_golang/prometheus"

var HttpRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests received",
	},
	[]string{"endpoint", "status", "method"},
)

var HttpRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"endpoint", "method"},
)

var HttpErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_errors_total",
		Help: "Total number of failed HTTP requests (4xx/5xx)",
	},
	[]string{"endpoint", "status", "method"},
)

var HttpRateLimitRejectionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "http_rate_limit_rejections_total",
		Help: "Total number of HTTP requests rejected due to rate limiting",
	},
)

var AdoptionsSubmittedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "adoptions_submitted_total",
		Help: "Adoption submissions by gateway outcome",
	},
	[]string{"status"},
)

var NotificationStoreSize = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "notification_store_size",
		Help: "Number of entries currently held in the notification feed",
	},
)

var PipelineResetsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_resets_total",
		Help: "Administrative pipeline resets",
	},
	[]string{"status"},
)

var ValidationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "validations_total",
		Help: "Adoption validations by policy and outcome",
	},
	[]string{"policy", "outcome"},
)

var ValidationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "validation_duration_seconds",
		Help:    "Time spent evaluating and publishing one request",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"policy"},
)

var AdoptionLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "adoption_end_to_end_seconds",
		Help:    "Time from submission to published result",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	},
)

var ResultsRenderedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "results_rendered_total",
		Help: "Validation results rendered by the result consumer",
	},
	[]string{"outcome"},
)

var NotificationsRenderedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_rendered_total",
		Help: "Notifications rendered by the result consumer",
	},
	[]string{"category"},
)

var BrokerPublishSuccessTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "broker_publish_success_total",
		Help: "Total number of confirmed publishes",
	},
	[]string{"queue"},
)

var BrokerPublishFailureTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "broker_publish_failure_total",
		Help: "Total number of failed publishes",
	},
	[]string{"queue"},
)

var BrokerConsumeFailureTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "broker_consume_failure_total",
		Help: "Total number of failed fetches from the broker",
	},
	[]string{"queue"},
)

var HandlerFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "handler_failures_total",
		Help: "Deliveries left unacknowledged by their handler",
	},
	[]string{"queue"},
)

var MessageRedeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "message_redeliveries_total",
		Help: "Deliveries that were redeliveries of an unacknowledged message",
	},
	[]string{"queue"},
)

var DuplicateDeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "duplicate_deliveries_total",
		Help: "Deliveries skipped because their dedup key was already processed",
	},
	[]string{"queue"},
)

var MessagesDeadLetteredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "messages_dead_lettered_total",
		Help: "Total number of messages routed to a dead-letter queue",
	},
	[]string{"queue", "reason"},
)

var KafkaConsumerLag = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "kafka_consumer_lag",
		Help: "Lag of Kafka consumer group per topic",
	},
	[]string{"group", "topic"},
)

func InitHTTPMetrics() {
	prometheus.MustRegister(HttpRequestsTotal)
	prometheus.MustRegister(HttpRequestDuration)
	prometheus.MustRegister(HttpErrorsTotal)
}

func InitAPIMetrics() {
	InitHTTPMetrics()
	prometheus.MustRegister(HttpRateLimitRejectionsTotal)
	prometheus.MustRegister(AdoptionsSubmittedTotal)
	prometheus.MustRegister(NotificationStoreSize)
	prometheus.MustRegister(PipelineResetsTotal)
}

func InitWorkerMetrics() {
	prometheus.MustRegister(ValidationsTotal)
	prometheus.MustRegister(ValidationDuration)
	prometheus.MustRegister(AdoptionLatency)
}

func InitConsumerMetrics() {
	prometheus.MustRegister(ResultsRenderedTotal)
	prometheus.MustRegister(NotificationsRenderedTotal)
}

func InitBrokerMetrics() {
	prometheus.MustRegister(BrokerPublishSuccessTotal)
	prometheus.MustRegister(BrokerPublishFailureTotal)
	prometheus.MustRegister(BrokerConsumeFailureTotal)
	prometheus.MustRegister(HandlerFailuresTotal)
	prometheus.MustRegister(MessageRedeliveriesTotal)
	prometheus.MustRegister(DuplicateDeliveriesTotal)
	prometheus.MustRegister(MessagesDeadLetteredTotal)
	prometheus.MustRegister(KafkaConsumerLag)
}
