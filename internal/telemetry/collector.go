// Package telemetry exposes queue and workspace state as Prometheus
// metrics.
package telemetry

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/weft-run/weft/internal/models"
	"github.com/weft-run/weft/internal/persistence"
	"github.com/weft-run/weft/internal/workflow"
)

// Collector implements prometheus.Collector over the job store and the
// active declarations.
type Collector struct {
	startTime time.Time
	version   string
	store     persistence.Store
	holder    *workflow.Holder

	infoDesc          *prometheus.Desc
	uptimeDesc        *prometheus.Desc
	jobsRunningDesc   *prometheus.Desc
	jobsQueuedDesc    *prometheus.Desc
	jobsTotalDesc     *prometheus.Desc
	tasksTotalDesc    *prometheus.Desc
	triggersTotalDesc *prometheus.Desc
	workspaceDesc     *prometheus.Desc
}

// NewCollector creates a metrics collector. store and holder may be nil;
// their metrics are then omitted.
func NewCollector(version string, store persistence.Store, holder *workflow.Holder) *Collector {
	return &Collector{
		startTime: time.Now(),
		version:   version,
		store:     store,
		holder:    holder,

		infoDesc: prometheus.NewDesc(
			"weft_info",
			"Weft build information",
			[]string{"version", "go_version"},
			nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"weft_uptime_seconds",
			"Time since server start",
			nil,
			nil,
		),
		jobsRunningDesc: prometheus.NewDesc(
			"weft_jobs_running",
			"Number of currently running jobs",
			nil,
			nil,
		),
		jobsQueuedDesc: prometheus.NewDesc(
			"weft_jobs_queued",
			"Number of jobs waiting in the queue",
			nil,
			nil,
		),
		jobsTotalDesc: prometheus.NewDesc(
			"weft_jobs_total",
			"Total number of jobs by status",
			[]string{"status"},
			nil,
		),
		tasksTotalDesc: prometheus.NewDesc(
			"weft_tasks_total",
			"Number of declared tasks",
			nil,
			nil,
		),
		triggersTotalDesc: prometheus.NewDesc(
			"weft_triggers_total",
			"Number of declared triggers",
			nil,
			nil,
		),
		workspaceDesc: prometheus.NewDesc(
			"weft_workspace_info",
			"Active workspace revision",
			[]string{"revision"},
			nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.infoDesc
	ch <- c.uptimeDesc
	ch <- c.jobsRunningDesc
	ch <- c.jobsQueuedDesc
	ch <- c.jobsTotalDesc
	ch <- c.tasksTotalDesc
	ch <- c.triggersTotalDesc
	ch <- c.workspaceDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	// Bound collection so a stuck database cannot hang the scrape.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch <- prometheus.MustNewConstMetric(
		c.infoDesc,
		prometheus.GaugeValue,
		1,
		c.version,
		runtime.Version(),
	)
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc,
		prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)

	c.collectJobMetrics(ctx, ch)
	c.collectWorkspaceMetrics(ch)
}

func (c *Collector) collectJobMetrics(ctx context.Context, ch chan<- prometheus.Metric) {
	if c.store == nil {
		return
	}
	statuses := []models.Status{
		models.StatusQueued,
		models.StatusRunning,
		models.StatusCompleted,
		models.StatusFailed,
	}
	counts := make(map[models.Status]float64, len(statuses))
	for _, status := range statuses {
		_, total, err := c.store.ListJobsByStatus(ctx, status, 1, 0)
		if err != nil {
			// A failed query skips job metrics for this scrape.
			return
		}
		counts[status] = float64(total)
	}

	ch <- prometheus.MustNewConstMetric(
		c.jobsQueuedDesc,
		prometheus.GaugeValue,
		counts[models.StatusQueued],
	)
	ch <- prometheus.MustNewConstMetric(
		c.jobsRunningDesc,
		prometheus.GaugeValue,
		counts[models.StatusRunning],
	)
	for status, count := range counts {
		ch <- prometheus.MustNewConstMetric(
			c.jobsTotalDesc,
			prometheus.CounterValue,
			count,
			string(status),
		)
	}
}

func (c *Collector) collectWorkspaceMetrics(ch chan<- prometheus.Metric) {
	if c.holder == nil {
		return
	}
	if cfg := c.holder.Config(); cfg != nil {
		ch <- prometheus.MustNewConstMetric(
			c.tasksTotalDesc,
			prometheus.GaugeValue,
			float64(len(cfg.Tasks)),
		)
		ch <- prometheus.MustNewConstMetric(
			c.triggersTotalDesc,
			prometheus.GaugeValue,
			float64(len(cfg.Triggers)),
		)
	}
	if rev := c.holder.Revision(); rev != "" {
		ch <- prometheus.MustNewConstMetric(
			c.workspaceDesc,
			prometheus.GaugeValue,
			1,
			rev,
		)
	}
}

// NewRegistry creates a Prometheus registry with the weft collector and
// the standard runtime collectors.
func NewRegistry(collector *Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}
