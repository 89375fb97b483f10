package migrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of migration runs. One Metrics can
// be shared by the migrators of several databases.
type Metrics struct {
	Migrations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Pending    *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "migrator",
			Name:      "migrations_total",
			Help:      "Total number of migrations executed, by direction and status",
		}, []string{"database", "direction", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "migrator",
			Name:      "migration_duration_seconds",
			Help:      "Duration of migration transactions in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "direction"}),
		Pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "migrator",
			Name:      "pending_migrations",
			Help:      "Number of catalog migrations not applied to the database",
		}, []string{"database"}),
	}

	reg.MustRegister(m.Migrations, m.Duration, m.Pending)
	return m
}

func (m *Metrics) observe(database string, dir Direction, err error, elapsed time.Duration) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "failure"
	}
	m.Migrations.WithLabelValues(database, string(dir), status).Inc()
	m.Duration.WithLabelValues(database, string(dir)).Observe(elapsed.Seconds())
}

// SetPending records the number of pending migrations of database.
func (m *Metrics) SetPending(database string, n int) {
	if m == nil {
		return
	}
	m.Pending.WithLabelValues(database).Set(float64(n))
}
