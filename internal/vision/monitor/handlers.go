package monitor

import (
	"net/http"
	"strconv"

	"github.com/banshee-data/loiter.report/internal/httputil"
	"github.com/banshee-data/loiter.report/internal/vision/pipeline"
)

// HistoryView is the ring buffer of one stream with the deltas that feed
// the average.
type HistoryView struct {
	SourceID     string    `json:"source_id"`
	Capacity     int       `json:"capacity"`
	WriteIndex   int       `json:"write_index"`
	Recorded     uint64    `json:"recorded"`
	LastPosition float64   `json:"last_position"`
	Slots        []float64 `json:"slots"`
	Deltas       []float64 `json:"deltas"`
	AverageDelta float64   `json:"average_delta"`
	Decision     string    `json:"decision"`
}

// NewHistoryView presents a snapshot's ring. The deltas are the ones the
// classifier averages, so the wrap from the last slot to slot 0 is absent.
func NewHistoryView(snap pipeline.StreamSnapshot) HistoryView {
	return HistoryView{
		SourceID:     snap.SourceID,
		Capacity:     snap.Capacity,
		WriteIndex:   snap.WriteIndex,
		Recorded:     snap.Recorded,
		LastPosition: snap.LastPosition,
		Slots:        snap.History,
		Deltas:       snap.Deltas,
		AverageDelta: snap.State.LastAverageDelta,
		Decision:     snap.Decision,
	}
}

// streamParam resolves ?stream_id=, falling back to the only stream when
// exactly one exists.
func (ws *WebServer) streamParam(w http.ResponseWriter, r *http.Request) (pipeline.StreamSnapshot, bool) {
	id := r.URL.Query().Get("stream_id")
	if id == "" {
		ids := ws.streams.StreamIDs()
		if len(ids) != 1 {
			httputil.BadRequest(w, "missing 'stream_id' parameter")
			return pipeline.StreamSnapshot{}, false
		}
		id = ids[0]
	}
	snap, ok := ws.streams.Snapshot(id)
	if !ok {
		httputil.NotFound(w, "unknown stream "+strconv.Quote(id))
		return pipeline.StreamSnapshot{}, false
	}
	return snap, true
}

func (ws *WebServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"streams": ws.streams.Snapshots()})
}

func (ws *WebServer) handleStreamHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap, ok := ws.streamParam(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, NewHistoryView(snap))
}

func (ws *WebServer) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.episodes == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}
	id := r.URL.Query().Get("stream_id")
	if id == "" {
		httputil.BadRequest(w, "missing 'stream_id' parameter")
		return
	}
	episodes, err := ws.episodes.ListBySource(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"stream_id": id, "episodes": episodes})
}

func (ws *WebServer) handleEvaluations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.evaluations == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}
	id := r.URL.Query().Get("stream_id")
	if id == "" {
		httputil.BadRequest(w, "missing 'stream_id' parameter")
		return
	}
	limit, err := httputil.ParseLimit(r, 50, 1000)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	evals, err := ws.evaluations.ListBySource(r.Context(), id, limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"stream_id": id, "evaluations": evals})
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	out := map[string]any{}
	for _, s := range ws.streams.Snapshots() {
		out["stream."+s.SourceID] = s.Stats
	}
	if ws.stats != nil {
		for k, v := range ws.stats() {
			out[k] = v
		}
	}
	httputil.WriteJSONOK(w, out)
}
