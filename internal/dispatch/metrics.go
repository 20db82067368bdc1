package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics は配信処理のPrometheusメトリクス。
type Metrics struct {
	// sends は経路別・結果別の送信件数。
	sends *prometheus.CounterVec
	// exchanges はアクセストークン発行の結果別件数。
	exchanges *prometheus.CounterVec
	// duration は1回の配信にかかった時間（秒）。
	duration prometheus.Histogram
}

// NewMetrics はメトリクスを生成してregに登録する。regがnilなら登録しない。
// 同じregに2回登録するとパニックになるため、プロセスにつき1回だけ呼ぶ。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fanout_channel_sends_total",
				Help: "Total number of notification sends by channel and status",
			},
			[]string{"channel", "status"},
		),
		exchanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fanout_token_exchanges_total",
				Help: "Total number of access token exchanges by status",
			},
			[]string{"status"}, // success, error, invalid_credential
		),
		duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fanout_dispatch_duration_seconds",
				Help:    "Duration of one dispatch including directory lookups",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
			},
		),
	}
}

func (m *Metrics) recordSend(ch Channel, status Status) {
	m.sends.WithLabelValues(string(ch), string(status)).Inc()
}

func (m *Metrics) recordExchange(status string) {
	m.exchanges.WithLabelValues(status).Inc()
}

func (m *Metrics) observeDuration(d time.Duration) {
	m.duration.Observe(d.Seconds())
}
