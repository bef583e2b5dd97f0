package login

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pendingConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "playpg",
		Subsystem: "login",
		Name:      "pending_connections",
		Help:      "Connections that have not finished the login or map server handshake.",
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "playpg",
		Subsystem: "login",
		Name:      "active_sessions",
		Help:      "Authenticated player sessions.",
	})

	registeredMapServers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "playpg",
		Subsystem: "login",
		Name:      "registered_map_servers",
		Help:      "Map servers currently registered.",
	})

	loginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playpg",
		Subsystem: "login",
		Name:      "attempts_total",
		Help:      "Login attempts by result.",
	}, []string{"result"})
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultLocked  = "locked"
	resultError   = "error"
)
