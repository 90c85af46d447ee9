package config

import (
	"net/url"
)

// Global holds the settings which can only be passed on the command line.
type Global struct {
	// InternalMonitoringListenerAddress is where the monitor gRPC server listens,
	// eg: unix:///tmp/dora-exporter-monitor.sock or tcp://127.0.0.1:8082
	InternalMonitoringListenerAddress *url.URL
}
