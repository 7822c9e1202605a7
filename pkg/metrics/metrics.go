package metrics

import (
	"net/http"

	"github.com/HKUDS/surveybot-go/pkg/survey"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes survey lifecycle counters. It implements survey.Observer.
type Collector struct {
	registry        *prometheus.Registry
	surveysStarted  prometheus.Counter
	surveysFinished prometheus.Counter
	activeSurveys   prometheus.Gauge
	messages        *prometheus.CounterVec
	sendFailures    *prometheus.CounterVec
}

// NewCollector creates a collector registered on its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		surveysStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "surveybot",
			Name:      "surveys_started_total",
			Help:      "Surveys started.",
		}),
		surveysFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "surveybot",
			Name:      "surveys_finished_total",
			Help:      "Surveys finished.",
		}),
		activeSurveys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "surveybot",
			Name:      "surveys_active",
			Help:      "Surveys currently tracked.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "surveybot",
			Name:      "messages_tracked_total",
			Help:      "Messages recorded on a survey, by direction.",
		}, []string{"direction"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "surveybot",
			Name:      "send_failures_total",
			Help:      "Outbound messages a channel failed to deliver.",
		}, []string{"channel"}),
	}

	c.registry.MustRegister(
		c.surveysStarted,
		c.surveysFinished,
		c.activeSurveys,
		c.messages,
		c.sendFailures,
	)
	return c
}

func (c *Collector) SurveyStarted(*survey.Survey) {
	c.surveysStarted.Inc()
	c.activeSurveys.Inc()
}

func (c *Collector) SurveyFinished(*survey.Survey) {
	c.surveysFinished.Inc()
}

func (c *Collector) SurveyStopped(*survey.Survey) {
	c.activeSurveys.Dec()
}

func (c *Collector) MessageTracked(_ *survey.Survey, m *survey.Message) {
	c.messages.WithLabelValues(m.Direction().String()).Inc()
}

// SendFailed counts an undelivered outbound message.
func (c *Collector) SendFailed(channel string) {
	c.sendFailures.WithLabelValues(channel).Inc()
}

// Handler serves the metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
