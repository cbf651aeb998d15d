// Package api serves the admin HTTP interface: health and status
// reporting, Prometheus metrics, and rate-limited injection of detection
// events into the pipeline.
package api
