// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package monitoring

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intelliscale/scalesim/pkg/docker"
	"github.com/intelliscale/scalesim/pkg/model"
)

const bytesPerMB = 1 << 20

var gaugeLabels = []string{"container_id", "container_name", "user_id"}

// Metrics exports per-container gauges on a private registry so the
// process exposes exactly these series and nothing else.
type Metrics struct {
	registry *prometheus.Registry

	cpu      *prometheus.GaugeVec
	memUsage *prometheus.GaugeVec
	memLimit *prometheus.GaugeVec
	netRx    *prometheus.GaugeVec
	netTx    *prometheus.GaugeVec
}

// NewMetrics returns a Metrics with all collectors registered.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cpu: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "container_cpu_usage_percent",
			Help: "Container CPU usage as a percentage of one core.",
		}, gaugeLabels),
		memUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "container_memory_usage_bytes",
			Help: "Container memory usage in bytes.",
		}, gaugeLabels),
		memLimit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "container_memory_limit_bytes",
			Help: "Container memory limit in bytes.",
		}, gaugeLabels),
		netRx: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "container_network_rx_bytes",
			Help: "Container cumulative network bytes received.",
		}, gaugeLabels),
		netTx: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "container_network_tx_bytes",
			Help: "Container cumulative network bytes transmitted.",
		}, gaugeLabels),
	}
	m.registry.MustRegister(m.cpu, m.memUsage, m.memLimit, m.netRx, m.netTx)
	return m
}

// Observe records one stats sample for a container.
func (m *Metrics) Observe(c *model.Container, sample docker.StatsSample) {
	labels := prometheus.Labels{
		"container_id":   strconv.FormatInt(c.ID, 10),
		"container_name": c.Name,
		"user_id":        strconv.FormatInt(c.UserID, 10),
	}
	m.cpu.With(labels).Set(sample.CPUPercent)
	m.memUsage.With(labels).Set(sample.MemoryUsageMB * bytesPerMB)
	m.memLimit.With(labels).Set(sample.MemoryLimitMB * bytesPerMB)
	m.netRx.With(labels).Set(float64(sample.NetworkRxBytes))
	m.netTx.With(labels).Set(float64(sample.NetworkTxBytes))
}

// Forget drops a retired container's series.
func (m *Metrics) Forget(c *model.Container) {
	labels := prometheus.Labels{
		"container_id":   strconv.FormatInt(c.ID, 10),
		"container_name": c.Name,
		"user_id":        strconv.FormatInt(c.UserID, 10),
	}
	m.cpu.Delete(labels)
	m.memUsage.Delete(labels)
	m.memLimit.Delete(labels)
	m.netRx.Delete(labels)
	m.netTx.Delete(labels)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
