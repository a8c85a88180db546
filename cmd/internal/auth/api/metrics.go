package authapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// authEventsTotal counts auth events by action, mirroring the audit log
// so dashboards work without querying Postgres.
var authEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "readmemo",
	Subsystem: "auth",
	Name:      "events_total",
	Help:      "Auth events by action.",
}, []string{"action"})
