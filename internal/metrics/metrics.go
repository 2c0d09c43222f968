// Package metrics содержит счётчики Prometheus, которые отдаются на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheRequests - обращения к кэшу по уровням (memory, durable) и результату (hit, miss, expired).
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shop",
		Name:      "cache_requests_total",
		Help:      "Обращения к кэшу по уровню и результату.",
	}, []string{"tier", "result"})

	// CacheEvictions - записи, вытесненные из памяти при переполнении.
	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shop",
		Name:      "cache_evictions_total",
		Help:      "Записи, вытесненные из кэша в памяти.",
	})

	LockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shop",
		Name:      "lock_timeouts_total",
		Help:      "Неудачные попытки взять блокировку по таймауту.",
	})

	LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shop",
		Name:      "lock_wait_seconds",
		Help:      "Время ожидания блокировки.",
		Buckets:   []float64{.001, .005, .025, .1, .5, 1, 3},
	})

	// Operations - операции координатора: purchase, deposit, withdrawal и их исход.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shop",
		Name:      "operations_total",
		Help:      "Операции координатора транзакций по виду и результату.",
	}, []string{"op", "result"})

	BalanceUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shop",
		Name:      "balance_updates_total",
		Help:      "Успешные изменения баланса по виду транзакции.",
	}, []string{"kind"})

	Compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shop",
		Name:      "purchase_compensations_total",
		Help:      "Откаты склада после неудачного списания, по результату отката.",
	}, []string{"result"})

	// HTTPRequests - запросы к HTTP API по шаблону маршрута и коду ответа.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shop",
		Name:      "http_requests_total",
		Help:      "Запросы к HTTP API.",
	}, []string{"route", "status"})
)

// Result переводит ошибку в метку результата.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
