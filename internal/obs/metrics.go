// Copyright 2025 James Ross
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PluginsByState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mcdr_plugins_by_state",
		Help: "Number of plugins currently in each lifecycle state",
	}, []string{"state"})
	PluginLoadTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcdr_plugin_load_total",
		Help: "Total plugin load attempts by outcome",
	}, []string{"outcome"})
	PluginUnloadTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcdr_plugin_unload_total",
		Help: "Total plugin unload attempts by outcome",
	}, []string{"outcome"})
	PluginReloadTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcdr_plugin_reload_total",
		Help: "Total plugin reload attempts by outcome",
	}, []string{"outcome"})
	ReactorQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcdr_reactor_queue_depth",
		Help: "Current number of tasks waiting in the reactor queue",
	})
	ReactorQueueFullTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcdr_reactor_queue_full_total",
		Help: "Total number of tasks rejected because the reactor queue was full",
	})
	ReactorDispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mcdr_reactor_dispatch_duration_seconds",
		Help:    "Histogram of time spent dispatching one event to its listeners",
		Buckets: prometheus.DefBuckets,
	})
	ReactorTasksProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcdr_reactor_tasks_processed_total",
		Help: "Total number of reactor tasks executed",
	})
	CommandsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcdr_commands_dispatched_total",
		Help: "Total command-tree dispatches by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		PluginsByState,
		PluginLoadTotal,
		PluginUnloadTotal,
		PluginReloadTotal,
		ReactorQueueDepth,
		ReactorQueueFullTotal,
		ReactorDispatchDuration,
		ReactorTasksProcessed,
		CommandsDispatched,
	)
}
