// Package metrics exports run queue, timeline and inbox counters as
// Prometheus metrics.
//
// The collector reads snapshots on every scrape, so it adds no bookkeeping to
// the hot paths of the core packages.
package metrics

import (
	"github.com/hupe1980/eve/inbox"
	"github.com/hupe1980/eve/runqueue"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolSource is implemented by *runqueue.RunQueue.
type PoolSource interface {
	Stats() runqueue.Stats
}

// TimelineSource is implemented by *timeline.Clock.
type TimelineSource interface {
	Len() int
	Fired() uint64
}

// InboxSource lists the sequencer stats of every live agent, keyed by agent id.
type InboxSource func() map[string]inbox.Stats

// Options configures a Collector.
type Options struct {
	// Namespace prefixes every metric name. Defaults to "eve".
	Namespace string

	// Timeline is optional.
	Timeline TimelineSource

	// Inboxes is optional.
	Inboxes InboxSource
}

// Collector implements prometheus.Collector.
type Collector struct {
	pool     PoolSource
	timeline TimelineSource
	inboxes  InboxSource

	target       *prometheus.Desc
	workers      *prometheus.Desc
	pending      *prometheus.Desc
	scanInterval *prometheus.Desc
	tasks        *prometheus.Desc
	spawned      *prometheus.Desc

	triggers *prometheus.Desc
	fired    *prometheus.Desc

	queued         *prometheus.Desc
	pendingReplies *prometheus.Desc
	messages       *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector reading from pool.
func NewCollector(pool PoolSource, optFns ...func(o *Options)) *Collector {
	opts := Options{Namespace: "eve"}
	for _, fn := range optFns {
		fn(&opts)
	}

	name := func(sub, n string) string { return prometheus.BuildFQName(opts.Namespace, sub, n) }
	return &Collector{
		pool:     pool,
		timeline: opts.Timeline,
		inboxes:  opts.Inboxes,

		target:       prometheus.NewDesc(name("runqueue", "target"), "Maximum number of workers in the running set.", nil, nil),
		workers:      prometheus.NewDesc(name("runqueue", "workers"), "Workers per pool set.", []string{"set"}, nil),
		pending:      prometheus.NewDesc(name("runqueue", "pending_tasks"), "Tasks waiting for a free worker.", nil, nil),
		scanInterval: prometheus.NewDesc(name("runqueue", "scan_interval_seconds"), "Current adaptive scan interval.", nil, nil),
		tasks:        prometheus.NewDesc(name("runqueue", "tasks_total"), "Tasks by outcome.", []string{"outcome"}, nil),
		spawned:      prometheus.NewDesc(name("runqueue", "workers_spawned_total"), "Workers created since start.", nil, nil),

		triggers: prometheus.NewDesc(name("timeline", "triggers"), "Live triggers.", nil, nil),
		fired:    prometheus.NewDesc(name("timeline", "fired_total"), "Triggers handed to the executor.", nil, nil),

		queued:         prometheus.NewDesc(name("inbox", "queued_messages"), "Messages waiting in an agent inbox.", []string{"agent"}, nil),
		pendingReplies: prometheus.NewDesc(name("inbox", "pending_replies"), "Synchronous calls awaiting a reply.", []string{"agent"}, nil),
		messages:       prometheus.NewDesc(name("inbox", "messages_total"), "Inbox messages by path.", []string{"agent", "path"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.target
	ch <- c.workers
	ch <- c.pending
	ch <- c.scanInterval
	ch <- c.tasks
	ch <- c.spawned
	if c.timeline != nil {
		ch <- c.triggers
		ch <- c.fired
	}
	if c.inboxes != nil {
		ch <- c.queued
		ch <- c.pendingReplies
		ch <- c.messages
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stats()
	ch <- prometheus.MustNewConstMetric(c.target, prometheus.GaugeValue, float64(s.Target))
	ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(s.Running), "running")
	ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(s.Waiting), "waiting")
	ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(s.Reserve), "reserve")
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(s.Pending))
	ch <- prometheus.MustNewConstMetric(c.scanInterval, prometheus.GaugeValue, s.ScanInterval.Seconds())
	ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.CounterValue, float64(s.Executed), "executed")
	ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.CounterValue, float64(s.Dropped), "dropped")
	ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.CounterValue, float64(s.Failed), "failed")
	ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.CounterValue, float64(s.Recovered), "recovered")
	ch <- prometheus.MustNewConstMetric(c.spawned, prometheus.CounterValue, float64(s.Spawned))

	if c.timeline != nil {
		ch <- prometheus.MustNewConstMetric(c.triggers, prometheus.GaugeValue, float64(c.timeline.Len()))
		ch <- prometheus.MustNewConstMetric(c.fired, prometheus.CounterValue, float64(c.timeline.Fired()))
	}

	if c.inboxes != nil {
		for agent, st := range c.inboxes() {
			ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(st.Queued), agent)
			ch <- prometheus.MustNewConstMetric(c.pendingReplies, prometheus.GaugeValue, float64(st.PendingReplies), agent)
			ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(st.Processed), agent, "processed")
			ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(st.Bypassed), agent, "bypassed")
			ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(st.ForcedReleases), agent, "forced")
		}
	}
}
