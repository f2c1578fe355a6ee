package app

import (
	"github.com/nesthaus/riskengine/internal/domain"
	"github.com/nesthaus/riskengine/internal/infra"
	"github.com/nesthaus/riskengine/internal/metrics"
	"github.com/nesthaus/riskengine/internal/monitor"
)

// Stream event names.
const (
	StreamSecurityEvent = "security_event"
	StreamSecurityAlert = "security_alert"
)

// ConnectFeeds subscribes metrics, the live stream and, when non-nil, the
// broker shipper to the monitor. The returned func unsubscribes them.
func ConnectFeeds(mon *monitor.Monitor, hub *infra.WSHub, shipper *infra.EventShipper) func() {
	unsubEvents := mon.Subscribe(func(ev domain.SecurityEvent) {
		metrics.ObserveEvent(ev)
		hub.Publish(infra.RoomEvents, StreamSecurityEvent, ev)
		if shipper != nil {
			shipper.ShipEvent(ev)
		}
	})
	unsubAlerts := mon.SubscribeAlerts(func(a domain.SecurityAlert) {
		metrics.ObserveAlert(a)
		hub.Publish(infra.RoomAlerts, StreamSecurityAlert, a)
		if shipper != nil {
			shipper.ShipAlert(a)
		}
	})
	return func() {
		unsubEvents()
		unsubAlerts()
	}
}
