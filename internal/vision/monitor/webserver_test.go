package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/loiter.report/internal/db"
	"github.com/banshee-data/loiter.report/internal/httputil"
	"github.com/banshee-data/loiter.report/internal/testutil"
	"github.com/banshee-data/loiter.report/internal/vision/l1meta"
	"github.com/banshee-data/loiter.report/internal/vision/l2history"
	"github.com/banshee-data/loiter.report/internal/vision/l3loiter"
	"github.com/banshee-data/loiter.report/internal/vision/pipeline"
	"github.com/banshee-data/loiter.report/internal/vision/storage/sqlite"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func loadedRegistry(t *testing.T) *pipeline.Registry {
	t.Helper()
	cfg := pipeline.DefaultProcessorConfig()
	cfg.Classifier.Capacity = 4
	cfg.Classifier.Cadence = 4
	reg, err := pipeline.NewRegistry(cfg)
	require.NoError(t, err)
	// Positions 10, 12, 9, 9 in slots 0..3, then frame 4 overwrites slot 0.
	_, err = reg.ProcessBatch(testutil.PersonTrack("gate", 0, 10, 12, 9, 9, 10))
	require.NoError(t, err)
	return reg
}

func serve(ws *WebServer, method, target string) *httptest.ResponseRecorder {
	req := testutil.NewTestRequest(method, target)
	rec := testutil.NewTestRecorder()
	ws.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewHistoryView(t *testing.T) {
	snap, ok := loadedRegistry(t).Snapshot("gate")
	require.True(t, ok)

	v := NewHistoryView(snap)
	assert.Equal(t, []float64{10, 12, 9, 9}, v.Slots)
	assert.Equal(t, []float64{2, 3, 0}, v.Deltas)
	assert.InDelta(t, 5.0/3, v.AverageDelta, 1e-12)
	assert.Equal(t, uint64(5), v.Recorded)
	assert.Equal(t, 0, v.WriteIndex)
	assert.Equal(t, 10.0, v.LastPosition)
	assert.Equal(t, "loitering", v.Decision)

	// The view carries the classifier's deltas rather than its own.
	h, err := l2history.NewMovementHistory(4)
	require.NoError(t, err)
	for i, p := range v.Slots {
		h.Record(uint64(i), p)
	}
	assert.Equal(t, h.Deltas(nil), v.Deltas)
	assert.InDelta(t, h.DeltaAverage(), v.AverageDelta, 1e-12)

	empty := NewHistoryView(pipeline.StreamSnapshot{History: []float64{1}})
	assert.Nil(t, empty.Deltas)
}

func TestWebServer_Streams(t *testing.T) {
	ws := NewWebServer(WebServerConfig{Streams: loadedRegistry(t)})

	rec := serve(ws, http.MethodGet, "/api/streams")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var out struct {
		Streams []pipeline.StreamSnapshot `json:"streams"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Streams, 1)
	assert.Equal(t, "gate", out.Streams[0].SourceID)
	assert.Equal(t, uint64(5), out.Streams[0].Stats.Frames)

	rec = serve(ws, http.MethodPost, "/api/streams")
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestWebServer_StreamHistory(t *testing.T) {
	ws := NewWebServer(WebServerConfig{Streams: loadedRegistry(t)})

	rec := serve(ws, http.MethodGet, "/api/streams/history?stream_id=gate")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var v HistoryView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, []float64{10, 12, 9, 9}, v.Slots)
	assert.Equal(t, 0, v.WriteIndex)
	assert.InDelta(t, 5.0/3, v.AverageDelta, 1e-9)
	assert.Equal(t, "loitering", v.Decision)

	// A single stream is the default.
	rec = serve(ws, http.MethodGet, "/api/streams/history")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	rec = serve(ws, http.MethodGet, "/api/streams/history?stream_id=nope")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	empty, err := pipeline.NewRegistry(pipeline.DefaultProcessorConfig())
	require.NoError(t, err)
	ws = NewWebServer(WebServerConfig{Streams: empty})
	rec = serve(ws, http.MethodGet, "/api/streams/history")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestWebServer_Charts(t *testing.T) {
	ws := NewWebServer(WebServerConfig{Streams: loadedRegistry(t), ThresholdPixels: 5})

	rec := serve(ws, http.MethodGet, "/debug/charts/history?stream_id=gate")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Movement history: gate")

	rec = serve(ws, http.MethodGet, "/debug/plots/history.png?stream_id=gate")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), pngMagic), "body is a PNG")
}

func TestWebServer_HealthAndStats(t *testing.T) {
	ws := NewWebServer(WebServerConfig{
		Streams: loadedRegistry(t),
		Stats:   func() map[string]any { return map[string]any{"ingest": map[string]int{"packets": 7}} },
	})

	rec := serve(ws, http.MethodGet, "/health")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"streams":1`)
	assert.Contains(t, rec.Body.String(), `"git_sha":`)

	rec = serve(ws, http.MethodGet, "/api/stats")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Contains(t, out, "stream.gate")
	assert.JSONEq(t, `{"packets":7}`, string(out["ingest"]))
}

func TestWebServer_PersistedRoutes(t *testing.T) {
	database, err := db.NewDB(filepath.Join(t.TempDir(), "loiter.db"))
	require.NoError(t, err)
	defer database.Close()

	ctx := context.Background()
	rec := sqlite.NewRecorder(database.DB, "")
	for n, avg := range []float64{1, 2, 40} {
		decision := l3loiter.Loitering
		if avg > 5 {
			decision = l3loiter.NotLoitering
		}
		require.NoError(t, rec.WriteEvaluation(ctx, pipeline.EvaluationEvent{
			SourceID:   "gate",
			Evaluation: l3loiter.Evaluation{FrameNum: uint64(64 * (n + 1)), AverageDelta: avg, Decision: decision},
			RecordedAt: time.Unix(int64(n), 0),
		}))
	}

	ws := NewWebServer(WebServerConfig{
		Streams:     loadedRegistry(t),
		Episodes:    rec.Episodes,
		Evaluations: rec.Evaluations,
		Admin:       []RouteAttacher{database},
	})

	r := serve(ws, http.MethodGet, "/api/episodes?stream_id=gate")
	testutil.AssertStatusCode(t, r.Code, http.StatusOK)
	var eps struct {
		Episodes []sqlite.Episode `json:"episodes"`
	}
	require.NoError(t, json.Unmarshal(r.Body.Bytes(), &eps))
	require.Len(t, eps.Episodes, 1)
	assert.Equal(t, uint64(64), eps.Episodes[0].StartFrame)

	r = serve(ws, http.MethodGet, "/api/evaluations?stream_id=gate&limit=2")
	testutil.AssertStatusCode(t, r.Code, http.StatusOK)
	var evals struct {
		Evaluations []sqlite.Evaluation `json:"evaluations"`
	}
	require.NoError(t, json.Unmarshal(r.Body.Bytes(), &evals))
	assert.Len(t, evals.Evaluations, 2)

	testutil.AssertStatusCode(t, serve(ws, http.MethodGet, "/api/evaluations?stream_id=gate&limit=0").Code, http.StatusBadRequest)
	testutil.AssertStatusCode(t, serve(ws, http.MethodGet, "/api/episodes").Code, http.StatusBadRequest)
	testutil.AssertStatusCode(t, serve(ws, http.MethodGet, "/debug/db-stats").Code, http.StatusOK)
}

func TestWebServer_PersistenceDisabled(t *testing.T) {
	ws := NewWebServer(WebServerConfig{Streams: loadedRegistry(t)})
	testutil.AssertStatusCode(t, serve(ws, http.MethodGet, "/api/episodes?stream_id=gate").Code, http.StatusServiceUnavailable)
	testutil.AssertStatusCode(t, serve(ws, http.MethodGet, "/api/evaluations?stream_id=gate").Code, http.StatusServiceUnavailable)
}

func TestWebServer_ServeAndShutdown(t *testing.T) {
	ws := NewWebServer(WebServerConfig{Streams: loadedRegistry(t)})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Serve(ctx, lis) }()

	client := NewClient("http://"+lis.Addr().String()+"/", nil)
	require.Eventually(t, func() bool {
		_, err := client.Streams(context.Background())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	streams, err := client.Streams(context.Background())
	require.NoError(t, err)
	require.Len(t, streams, 1)

	h, err := client.History(context.Background(), "gate")
	require.NoError(t, err)
	assert.Equal(t, 4, h.Capacity)

	_, err = client.History(context.Background(), "nope")
	assert.ErrorContains(t, err, "unknown stream")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestClient_TransportError(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddErrorResponse(errors.New("connection refused"))
	_, err := NewClient("http://monitor", mock).Streams(context.Background())
	assert.ErrorContains(t, err, "connection refused")
	require.Equal(t, 1, mock.RequestCount())
	assert.Equal(t, "http://monitor/api/streams", mock.Requests[0].URL.String())
}

func TestTimeline(t *testing.T) {
	cfg := pipeline.DefaultProcessorConfig()
	cfg.Classifier.Capacity = 4
	cfg.Classifier.Cadence = 4
	p, err := pipeline.NewFrameProcessor(cfg)
	require.NoError(t, err)

	tl := &Timeline{SourceID: "gate", Threshold: 5}
	for n := uint64(0); n <= 8; n++ {
		left := 3.0
		if n > 4 && n%2 == 1 {
			left = 60
		}
		frame := testutil.PersonFrame("gate", n, left)
		tl.Add(p.ProcessFrame(&frame))
	}
	tl.Add(p.ProcessFrame(&l1meta.FrameMeta{SourceID: "gate", FrameNum: 9}))

	assert.Len(t, tl.Positions, 9)
	assert.Len(t, tl.Averages, 2)
	assert.Len(t, tl.Loitering, 1)
	assert.Equal(t, 2, tl.Transitions)

	var buf bytes.Buffer
	require.NoError(t, tl.WritePNG(&buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
	assert.False(t, strings.Contains(buf.String(), "error"))
}
