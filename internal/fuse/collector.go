package fuse

import "github.com/bridgefs/bridgefs/internal/metrics"

// collector instruments the bridges created by provider builders. Set once
// at startup, before any mount.
var collector *metrics.Collector

// SetCollector wires a metrics collector into subsequently built mounts.
func SetCollector(c *metrics.Collector) {
	collector = c
}
