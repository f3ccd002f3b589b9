// Package metrics exposes evaluation results as Prometheus gauges and pushes
// them to a Pushgateway after each run.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"evaltrack/internal/scores"
)

const namespace = "evaltrack"

// Report is the outcome of one pipeline run.
type Report struct {
	Experiment string
	RunID      string
	Record     scores.Record
	Samples    int
	Duration   time.Duration
	FinishedAt time.Time
}

// Recorder holds the evaluation gauges in a private registry. The experiment
// is not a label: it is the Pushgateway grouping key.
type Recorder struct {
	registry    *prometheus.Registry
	loss        prometheus.Gauge
	accuracy    prometheus.Gauge
	samples     prometheus.Gauge
	duration    prometheus.Gauge
	lastSuccess prometheus.Gauge
	evaluations prometheus.Counter
}

// NewRecorder registers the evaluation collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		loss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "evaluation_loss",
			Help:      "Mean categorical cross-entropy of the latest evaluation",
		}),
		accuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "evaluation_accuracy",
			Help:      "Accuracy of the latest evaluation",
		}),
		samples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "evaluation_samples",
			Help:      "Validation samples scored by the latest evaluation",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Wall time of the latest evaluation pipeline",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "evaluation_last_success_timestamp_seconds",
			Help:      "Unix time the latest evaluation finished",
		}),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Evaluations recorded by this process",
		}),
	}
	r.registry.MustRegister(r.loss, r.accuracy, r.samples, r.duration, r.lastSuccess, r.evaluations)
	return r
}

// Registry returns the registry holding the collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe records a report.
func (r *Recorder) Observe(rep Report) {
	r.loss.Set(rep.Record.Loss)
	r.accuracy.Set(rep.Record.Accuracy)
	r.samples.Set(float64(rep.Samples))
	r.duration.Set(rep.Duration.Seconds())
	finished := rep.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	r.lastSuccess.Set(float64(finished.Unix()))
	r.evaluations.Inc()
}

// Pusher sends recorded metrics to a Pushgateway.
type Pusher struct {
	url      string
	job      string
	recorder *Recorder
}

// NewPusher returns a Pusher for the gateway at url.
func NewPusher(url, job string, recorder *Recorder) *Pusher {
	if recorder == nil {
		recorder = NewRecorder()
	}
	return &Pusher{url: url, job: job, recorder: recorder}
}

// Push observes rep and replaces the experiment's group on the gateway.
func (p *Pusher) Push(ctx context.Context, rep Report) error {
	p.recorder.Observe(rep)
	err := push.New(p.url, p.job).
		Gatherer(p.recorder.Registry()).
		Grouping("experiment", rep.Experiment).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", p.url, err)
	}
	return nil
}
