package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultHandled     = "handled"
	resultDuplicate   = "duplicate"
	resultIgnored     = "ignored"
	resultUndecodable = "undecodable"
	resultFailed      = "failed"
)

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "notification_events_total",
	Help: "Broker events seen by the notification service, by type and result.",
}, []string{"event_type", "result"})
