// Package metrics holds the Prometheus instruments of one kernel instance.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is registered against a caller-supplied registerer so that
// several kernel instances can live in one process.
type Metrics struct {
	// Process metrics
	ProcessesSpawned prometheus.Counter
	ProcessesExited  *prometheus.CounterVec
	ProcessesLive    prometheus.Gauge
	LoadFailures     prometheus.Counter

	// Message metrics
	MessagesSent     *prometheus.CounterVec
	MessagesInFlight prometheus.Gauge
	Responses        *prometheus.CounterVec

	// Registry metrics
	Registrations *prometheus.CounterVec
	Interfaces    prometheus.Gauge

	// Scheduler metrics
	Steps      *prometheus.CounterVec
	Interrupts *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ProcessesSpawned: f.NewCounter(
			prometheus.CounterOpts{
				Name: "redshirt_processes_spawned_total",
				Help: "Total number of processes created",
			},
		),
		ProcessesExited: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redshirt_processes_exited_total",
				Help: "Total number of processes destroyed, by final state",
			},
			[]string{"state"},
		),
		ProcessesLive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "redshirt_processes_live",
				Help: "Number of live processes",
			},
		),
		LoadFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "redshirt_load_failures_total",
				Help: "Total number of images refused at creation",
			},
		),
		MessagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redshirt_messages_sent_total",
				Help: "Total number of messages emitted, by result",
			},
			[]string{"result"},
		),
		MessagesInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "redshirt_messages_in_flight",
				Help: "Number of messages waiting for an answer",
			},
		),
		Responses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redshirt_responses_total",
				Help: "Total number of resolved messages, by outcome",
			},
			[]string{"outcome"},
		),
		Registrations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redshirt_registrations_total",
				Help: "Total number of registration requests, by status",
			},
			[]string{"status"},
		),
		Interfaces: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "redshirt_interfaces_registered",
				Help: "Number of interfaces with a handler",
			},
		),
		Steps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redshirt_scheduler_steps_total",
				Help: "Total number of scheduler steps, by unit serviced",
			},
			[]string{"unit"},
		),
		Interrupts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redshirt_interrupts_total",
				Help: "Total number of injected interrupts, by result",
			},
			[]string{"result"},
		),
	}
}

// Discard returns instruments registered nowhere.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
