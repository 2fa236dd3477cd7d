// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/FirelightWorks/emberfs/pkg/debug"
)

var (
	// BackendOpsTotal tracks master key backend operations by result
	BackendOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emberfs",
		Subsystem: "encryption",
		Name:      "backend_ops_total",
		Help:      "Total number of master key backend operations",
	}, []string{"operation", "result"}) // result: "ok", "error"

	// BackendOpDuration tracks master key backend operation latency
	BackendOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "emberfs",
		Subsystem: "encryption",
		Name:      "backend_op_duration_seconds",
		Help:      "Time spent in master key backend operations",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"operation"})

	// DataKeyRotations counts data key rotations across all keyspaces
	DataKeyRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "emberfs",
		Subsystem: "encryption",
		Name:      "data_key_rotations_total",
		Help:      "Total number of data key rotations",
	})

	// ProvisionFailures counts failed provisioning attempts by stage
	ProvisionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emberfs",
		Subsystem: "encryption",
		Name:      "provision_failures_total",
		Help:      "Total number of key manager provisioning failures",
	}, []string{"stage"}) // stage: "master_key", "mkdir", "manager"

	// KeyspaceManagers tracks the number of provisioned keyspace managers
	KeyspaceManagers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "emberfs",
		Subsystem: "encryption",
		Name:      "keyspace_managers",
		Help:      "Number of data key managers in the keyspace registry",
	})
)

func init() {
	debug.Registry().MustRegister(
		BackendOpsTotal,
		BackendOpDuration,
		DataKeyRotations,
		ProvisionFailures,
		KeyspaceManagers,
	)
}

// observeBackendOp records one cloud backend call outcome.
func observeBackendOp(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	BackendOpsTotal.WithLabelValues(op, result).Inc()
	BackendOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
