// Package metrics provides Prometheus instrumentation for the matchmaking
// server: gauges for the live population and counters for engine activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OnlineUsers tracks the current number of live connections.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lingomatch_online_users",
		Help: "Current number of live websocket connections",
	})

	// ActiveRooms tracks the current number of active 1:1 rooms.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lingomatch_active_rooms",
		Help: "Current number of active rooms",
	})

	// QueueDepth tracks waiting entries per compatibility key.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lingomatch_queue_depth",
		Help: "Current number of waiting entries per compatibility key",
	}, []string{"key"})

	// ConnectionsTotal counts transport connects and disconnects.
	ConnectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lingomatch_connections_total",
		Help: "Total connection lifecycle events",
	}, []string{"event"}) // event = "connect", "disconnect"

	// MatchesTotal counts successful pairings.
	MatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lingomatch_matches_total",
		Help: "Total number of successful pairings",
	})

	// MessagesTotal counts chat messages, labeled by outcome.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lingomatch_messages_total",
		Help: "Total chat messages processed",
	}, []string{"outcome"}) // outcome = "relayed", "rejected"

	// ReportsTotal counts partner reports.
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lingomatch_reports_total",
		Help: "Total partner reports filed",
	})

	// MutesTotal counts mutes applied (auto and admin).
	MutesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lingomatch_mutes_total",
		Help: "Total mutes applied",
	}, []string{"source"}) // source = "auto", "admin"

	// BansTotal counts bans applied, labeled by subject kind.
	BansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lingomatch_bans_total",
		Help: "Total bans applied",
	}, []string{"kind"}) // kind = "client", "origin"

	// VoiceRelaysTotal counts relayed voice-signaling payloads by kind.
	VoiceRelaysTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lingomatch_voice_relays_total",
		Help: "Total relayed voice signaling events",
	}, []string{"kind"}) // kind = "offer", "answer", "ice"

	// IcebreakerNavsTotal counts icebreaker cursor movements.
	IcebreakerNavsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lingomatch_icebreaker_navs_total",
		Help: "Total icebreaker cursor navigations",
	})
)

func init() {
	prometheus.MustRegister(
		OnlineUsers,
		ActiveRooms,
		QueueDepth,
		ConnectionsTotal,
		MatchesTotal,
		MessagesTotal,
		ReportsTotal,
		MutesTotal,
		BansTotal,
		VoiceRelaysTotal,
		IcebreakerNavsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
