// Package metrics exposes channel/queue registry occupancy as Prometheus
// gauges, grounded on the teacher's stats package habit of wrapping
// counters behind client_golang collectors (stats/common_statsd.go,
// stats/prommetrics.go) rather than hand-rolling an export format.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NVIDIA/interpchannels/channel"
	"github.com/NVIDIA/interpchannels/queue"
)

// Collector implements prometheus.Collector by reading channel.Registry
// and queue.Registry on every scrape - cheap enough (a mutex-protected
// map walk) that caching between scrapes isn't worth the complexity.
type Collector struct {
	channels *channel.Registry
	queues   *queue.Registry

	channelCount *prometheus.Desc
	channelItems *prometheus.Desc
	queueCount   *prometheus.Desc
	queueItems   *prometheus.Desc
	queueWaiters *prometheus.Desc
}

func NewCollector(chReg *channel.Registry, qReg *queue.Registry) *Collector {
	return &Collector{
		channels: chReg,
		queues:   qReg,
		channelCount: prometheus.NewDesc(
			"interpchannels_channels_live", "Number of live channels.", nil, nil),
		channelItems: prometheus.NewDesc(
			"interpchannels_channel_items", "Queued items per channel.", []string{"channel_id"}, nil),
		queueCount: prometheus.NewDesc(
			"interpchannels_queues_live", "Number of live queues.", nil, nil),
		queueItems: prometheus.NewDesc(
			"interpchannels_queue_items", "Queued items per queue.", []string{"queue_id"}, nil),
		queueWaiters: prometheus.NewDesc(
			"interpchannels_queue_waiters", "In-flight Put/Get/GetWait calls per queue.", []string{"queue_id"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.channelCount
	ch <- c.channelItems
	ch <- c.queueCount
	ch <- c.queueItems
	ch <- c.queueWaiters
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	chEntries := c.channels.ListAll()
	ch <- prometheus.MustNewConstMetric(c.channelCount, prometheus.GaugeValue, float64(len(chEntries)))
	for _, e := range chEntries {
		chn, err := c.channels.Get(e.Id)
		if err != nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.channelItems, prometheus.GaugeValue,
			float64(chn.Count()), strconv.FormatInt(int64(e.Id), 10))
	}

	qEntries := c.queues.ListAll()
	ch <- prometheus.MustNewConstMetric(c.queueCount, prometheus.GaugeValue, float64(len(qEntries)))
	for _, e := range qEntries {
		q, err := c.queues.Get(e.Id)
		if err != nil {
			continue
		}
		info := q.Info()
		idStr := strconv.FormatInt(int64(e.Id), 10)
		ch <- prometheus.MustNewConstMetric(c.queueItems, prometheus.GaugeValue, float64(info.Count), idStr)
		ch <- prometheus.MustNewConstMetric(c.queueWaiters, prometheus.GaugeValue, float64(info.NumWaiters), idStr)
	}
}
