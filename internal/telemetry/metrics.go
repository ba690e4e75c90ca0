// Package telemetry exposes training progress as Prometheus metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

const namespace = "researchmind"

// Metrics holds the collectors on a private registry so several coordinators
// in one process, or in one test binary, never collide.
type Metrics struct {
	reg *prometheus.Registry

	episodes   *prometheus.CounterVec
	actions    *prometheus.CounterVec
	resolution *prometheus.CounterVec
	reward     prometheus.Histogram
	relevance  prometheus.Histogram
	attempts   prometheus.Histogram
	lastReward prometheus.Gauge

	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		episodes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episodes_total",
			Help:      "Episodes logged, by allocation, status and fallback tier.",
		}, []string{"chosen_by", "status", "tier"}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Executed actions by strategy and source.",
		}, []string{"strategy", "source"}),
		resolution: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "How executed actions were resolved.",
		}, []string{"resolution"}),
		reward: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "episode_reward",
			Help:      "Shared reward per episode.",
			Buckets:   prometheus.LinearBuckets(-0.2, 0.1, 13),
		}),
		relevance: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "episode_relevance",
			Help:      "Observed relevance per episode.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		attempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "episode_attempts",
			Help:      "Environment calls per episode.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
		}),
		lastReward: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reward",
			Help:      "Reward of the most recent episode.",
		}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Training runs by result.",
		}, []string{"result"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of training runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
}

// ObserveEpisode records one logged episode
func (m *Metrics) ObserveEpisode(rec types.EpisodeRecord) {
	m.episodes.WithLabelValues(string(rec.ChosenBy), string(rec.Status), string(rec.Tier)).Inc()
	m.actions.WithLabelValues(rec.Action.Strategy.String(), rec.Action.Source.String()).Inc()
	m.resolution.WithLabelValues(string(rec.Resolution)).Inc()
	m.reward.Observe(rec.Reward)
	m.relevance.Observe(rec.Relevance)
	m.attempts.Observe(float64(rec.Attempts))
	m.lastReward.Set(rec.Reward)
}

// ObserveRun records a finished run. err is the run's error, if any.
func (m *Metrics) ObserveRun(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.Observe(d.Seconds())
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
