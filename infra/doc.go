// Package infra contains technical adapters: the MQTT client and embedded
// broker, Prometheus metrics, InfluxDB history, the Redis snapshot cache and
// the Postgres command journal. These packages depend only on the types and
// interfaces defined in the core packages.
package infra
