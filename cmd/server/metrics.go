package main

import (
	"fmt"
	"net/http"

	"voxelwire.io/internal/persistence/indexdb"
	"voxelwire.io/internal/persistence/s3mirror"
	"voxelwire.io/internal/session"
	"voxelwire.io/internal/sim/world"
)

func metricsHandler(sessions *session.Server, chunks *world.ChunkStore, idx *indexdb.SQLiteIndex, mirror *s3mirror.Mirror) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		st := sessions.Stats()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP voxelwire_sessions Live sessions.\n")
		fmt.Fprintf(rw, "# TYPE voxelwire_sessions gauge\n")
		fmt.Fprintf(rw, "voxelwire_sessions %d\n", st.Active)

		fmt.Fprintf(rw, "# HELP voxelwire_sessions_total Sessions accepted since start.\n")
		fmt.Fprintf(rw, "# TYPE voxelwire_sessions_total counter\n")
		fmt.Fprintf(rw, "voxelwire_sessions_total %d\n", st.Total)

		fmt.Fprintf(rw, "# HELP voxelwire_subscribed_chunks Chunk subscriptions across all sessions.\n")
		fmt.Fprintf(rw, "# TYPE voxelwire_subscribed_chunks gauge\n")
		fmt.Fprintf(rw, "voxelwire_subscribed_chunks %d\n", st.SubscribedChunks)

		fmt.Fprintf(rw, "# HELP voxelwire_actions_rejected_total ActionRejected messages sent.\n")
		fmt.Fprintf(rw, "# TYPE voxelwire_actions_rejected_total counter\n")
		fmt.Fprintf(rw, "voxelwire_actions_rejected_total %d\n", st.Rejected)

		fmt.Fprintf(rw, "# HELP voxelwire_protocol_errors_total Sessions closed by a protocol error.\n")
		fmt.Fprintf(rw, "# TYPE voxelwire_protocol_errors_total counter\n")
		fmt.Fprintf(rw, "voxelwire_protocol_errors_total %d\n", st.ProtocolErrors)

		fmt.Fprintf(rw, "# HELP voxelwire_loaded_chunks Chunks resident in the chunk store.\n")
		fmt.Fprintf(rw, "# TYPE voxelwire_loaded_chunks gauge\n")
		fmt.Fprintf(rw, "voxelwire_loaded_chunks %d\n", chunks.LoadedChunks())

		hub := chunks.Hub()
		fmt.Fprintf(rw, "# HELP voxelwire_hub_subscribers Block change mailboxes.\n")
		fmt.Fprintf(rw, "# TYPE voxelwire_hub_subscribers gauge\n")
		fmt.Fprintf(rw, "voxelwire_hub_subscribers %d\n", hub.Subscribers())

		fmt.Fprintf(rw, "# HELP voxelwire_hub_dropped_total Block changes dropped on full mailboxes (each forces a resync).\n")
		fmt.Fprintf(rw, "# TYPE voxelwire_hub_dropped_total counter\n")
		fmt.Fprintf(rw, "voxelwire_hub_dropped_total %d\n", hub.Dropped())

		is := idx.Stats()
		fmt.Fprintf(rw, "# HELP voxelwire_index_queue_depth Session index write queue depth.\n")
		fmt.Fprintf(rw, "# TYPE voxelwire_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "voxelwire_index_queue_depth %d\n", is.QueueDepth)

		fmt.Fprintf(rw, "# HELP voxelwire_index_queue_capacity Session index write queue capacity.\n")
		fmt.Fprintf(rw, "# TYPE voxelwire_index_queue_capacity gauge\n")
		fmt.Fprintf(rw, "voxelwire_index_queue_capacity %d\n", is.QueueCapacity)

		fmt.Fprintf(rw, "# HELP voxelwire_index_dropped_total Session events dropped because the queue was full.\n")
		fmt.Fprintf(rw, "# TYPE voxelwire_index_dropped_total counter\n")
		fmt.Fprintf(rw, "voxelwire_index_dropped_total %d\n", is.DropTotal)

		if mirror == nil {
			return
		}
		ms := mirror.Stats()
		fmt.Fprintf(rw, "# HELP voxelwire_mirror_queue_depth Snapshot uploads waiting.\n")
		fmt.Fprintf(rw, "# TYPE voxelwire_mirror_queue_depth gauge\n")
		fmt.Fprintf(rw, "voxelwire_mirror_queue_depth %d\n", ms.QueueDepth)

		fmt.Fprintf(rw, "# HELP voxelwire_mirror_uploads_total Snapshot uploads by result.\n")
		fmt.Fprintf(rw, "# TYPE voxelwire_mirror_uploads_total counter\n")
		fmt.Fprintf(rw, "voxelwire_mirror_uploads_total{result=\"ok\"} %d\n", ms.Uploaded)
		fmt.Fprintf(rw, "voxelwire_mirror_uploads_total{result=\"failed\"} %d\n", ms.Failed)
		fmt.Fprintf(rw, "voxelwire_mirror_uploads_total{result=\"dropped\"} %d\n", ms.Dropped)
	}
}
