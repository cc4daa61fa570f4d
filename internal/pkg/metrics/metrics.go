package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestTotal 按方法与状态码统计 HTTP 请求数。
	HTTPRequestTotal *prometheus.CounterVec

	// HTTPRequestDuration HTTP 请求耗时分布。
	HTTPRequestDuration prometheus.Histogram

	// LoginFailureTotal 登录失败次数。
	LoginFailureTotal prometheus.Counter

	// EmailSentTotal 按类型统计已发送邮件数。
	EmailSentTotal *prometheus.CounterVec

	// EmailFailedTotal 按类型统计发送失败邮件数。
	EmailFailedTotal *prometheus.CounterVec

	// RateLimitRejectedTotal 被限流拒绝的请求数。
	RateLimitRejectedTotal prometheus.Counter

	// MailQueueRetryTotal 邮件队列消息重试次数。
	MailQueueRetryTotal prometheus.Counter

	// MailQueueDLQTotal 进入死信队列的邮件消息数。
	MailQueueDLQTotal prometheus.Counter
)

var initOnce sync.Once

// InitMetrics 注册全部 Prometheus 指标，可重复调用。
func InitMetrics() {
	initOnce.Do(func() {
		HTTPRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmaster_http_requests_total",
			Help: "Total HTTP requests by method and status code.",
		}, []string{"method", "status"})

		HTTPRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskmaster_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		})

		LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmaster_login_failures_total",
			Help: "Total failed login attempts.",
		})

		EmailSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmaster_emails_sent_total",
			Help: "Total emails sent by kind.",
		}, []string{"kind"})

		EmailFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmaster_emails_failed_total",
			Help: "Total email send failures by kind.",
		}, []string{"kind"})

		RateLimitRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmaster_ratelimit_rejected_total",
			Help: "Total requests rejected by the per-IP rate limiter.",
		})

		MailQueueRetryTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmaster_mailqueue_retry_total",
			Help: "Total mail queue messages re-published for retry.",
		})

		MailQueueDLQTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmaster_mailqueue_dlq_total",
			Help: "Total mail queue messages moved to the dead letter stream.",
		})

		prometheus.MustRegister(
			HTTPRequestTotal,
			HTTPRequestDuration,
			LoginFailureTotal,
			EmailSentTotal,
			EmailFailedTotal,
			RateLimitRejectedTotal,
			MailQueueRetryTotal,
			MailQueueDLQTotal,
		)
	})
}
