package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "twokeys_rooms_active",
		Help: "Number of live room sessions.",
	})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twokeys_commands_total",
		Help: "Commands applied per type.",
	}, []string{"type"})

	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twokeys_rejections_total",
		Help: "Rejected commands per error code.",
	}, []string{"code"})

	GamesWonTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twokeys_games_won_total",
		Help: "Sessions that cleared the final level.",
	})

	GamesAbandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twokeys_games_abandoned_total",
		Help: "Sessions ended early by a double exit request.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
