// Package metrics defines the Recorder the core packages report to. Ingress,
// emission, command and gateway counters all flow through it; infra/metrics
// backs it with Prometheus collectors and NopRecorder keeps tests quiet.
package metrics
