package mapserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hostedMaps = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "playpg",
		Subsystem: "map",
		Name:      "hosted_maps",
		Help:      "Maps the login server has assigned to this map server.",
	})

	connectedPlayers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "playpg",
		Subsystem: "map",
		Name:      "connected_players",
		Help:      "Player connections held by this map server.",
	})
)
