// Package metrics 브로커 Prometheus 메트릭
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
)

var (
	TransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_order_transitions_total",
		Help: "Counter for order state transitions.",
	}, []string{"from", "to"})
	PersistFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_failed_order_persists",
		Help: "Counter for order updates that could not be written to the order store.",
	})
	OutboxPublishedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_successful_outbox_publishes",
		Help: "Counter for outbox events published to Kafka.",
	})
	OutboxFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_failed_outbox_publishes",
		Help: "Counter for outbox events that could not be published to Kafka.",
	})
	RemoteEventsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_remote_events_total",
		Help: "Counter for consumed remote order events by result.",
	}, []string{"result"})

	registerOnce sync.Once
)

// BucketCounter 상태별 주문 수 제공자
type BucketCounter interface {
	Counts() map[domain.OrderState]int
}

type orderCollector struct {
	repo BucketCounter
	desc *prometheus.Desc
}

// NewOrderCollector 스크랩 시점에 버킷 크기를 읽는 컬렉터
func NewOrderCollector(repo BucketCounter) prometheus.Collector {
	return &orderCollector{
		repo: repo,
		desc: prometheus.NewDesc(
			"broker_orders",
			"Number of orders per state bucket.",
			[]string{"state"}, nil,
		),
	}
}

func (c *orderCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *orderCollector) Collect(ch chan<- prometheus.Metric) {
	for state, count := range c.repo.Counts() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(count), state.String())
	}
}

// Register 기본 레지스트리에 등록 (한 번만)
func Register(repo BucketCounter) {
	registerOnce.Do(func() {
		prometheus.MustRegister(TransitionCounter)
		prometheus.MustRegister(PersistFailedCounter)
		prometheus.MustRegister(OutboxPublishedCounter)
		prometheus.MustRegister(OutboxFailedCounter)
		prometheus.MustRegister(RemoteEventsCounter)
		prometheus.MustRegister(NewOrderCollector(repo))
	})
}
