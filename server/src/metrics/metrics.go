// Package metrics exposes the server's Prometheus collectors. Everything is
// registered on the default registry and served from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beraber_rooms_active",
		Help: "Number of rooms currently alive.",
	})

	UsersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beraber_users_connected",
		Help: "Number of users currently connected across all rooms.",
	})

	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beraber_messages_received_total",
		Help: "Inbound websocket messages by type.",
	}, []string{"type"})

	BroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beraber_broadcast_failures_total",
		Help: "Sends that failed or timed out during a room broadcast.",
	})

	HardSyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beraber_hard_syncs_total",
		Help: "Force-seek corrections issued by the drift controller.",
	})

	SoftSyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beraber_soft_syncs_total",
		Help: "Playback rate corrections issued by the drift controller.",
	})

	SeekBarriersStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beraber_seek_barriers_started_total",
		Help: "Seek synchronization barriers started.",
	})

	SeekBarrierTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beraber_seek_barrier_timeouts_total",
		Help: "Seek barriers that completed by timeout instead of full acks.",
	})

	BufferPauses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beraber_buffer_pauses_total",
		Help: "Room pauses applied on behalf of a buffering user.",
	})

	ExtractorCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beraber_extractor_cache_hits_total",
		Help: "Video resolutions served from the extractor cache.",
	})

	ExtractorCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beraber_extractor_cache_misses_total",
		Help: "Video resolutions that required an upstream extractor call.",
	})

	ProxyCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beraber_proxy_cache_hits_total",
		Help: "Media proxy requests served from the segment cache.",
	})

	ProxyCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beraber_proxy_cache_misses_total",
		Help: "Media proxy requests fetched from the upstream origin.",
	})
)
