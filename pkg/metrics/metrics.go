package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "im_online_users",
		Help: "Users holding at least one live session.",
	})

	Sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "im_sessions",
		Help: "Live WebSocket sessions.",
	})

	MessagesPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_messages_persisted_total",
		Help: "Chat messages written to the store.",
	})

	MessagesDeduplicated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_messages_deduplicated_total",
		Help: "Submissions resolved to an already persisted cid.",
	})

	Acks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_acks_total",
		Help: "Acknowledgments sent to originating sessions.",
	}, []string{"status"})

	FanoutFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_fanout_frames_total",
		Help: "Frames enqueued to recipient sessions.",
	})

	DroppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_dropped_frames_total",
		Help: "Frames dropped because a session queue was full or closed.",
	})

	RejectedFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_rejected_frames_total",
		Help: "Inbound frames rejected before dispatch.",
	}, []string{"reason"})

	Signals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_signals_total",
		Help: "Call signals handled by the relay.",
	}, []string{"type", "outcome"})

	SyncPages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_sync_pages_total",
		Help: "Pull-sync pages served.",
	})

	SyncMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_sync_messages_total",
		Help: "Messages returned by pull-sync.",
	})
)

func init() {
	prometheus.MustRegister(
		OnlineUsers,
		Sessions,
		MessagesPersisted,
		MessagesDeduplicated,
		Acks,
		FanoutFrames,
		DroppedFrames,
		RejectedFrames,
		Signals,
		SyncPages,
		SyncMessages,
	)
}

// Handler 暴露 /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
