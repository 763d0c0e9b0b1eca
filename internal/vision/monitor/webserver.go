package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/banshee-data/loiter.report/internal/httputil"
	"github.com/banshee-data/loiter.report/internal/version"
	"github.com/banshee-data/loiter.report/internal/vision/pipeline"
	"github.com/banshee-data/loiter.report/internal/vision/storage/sqlite"
)

// StreamSource exposes stream snapshots. *pipeline.Registry implements it.
type StreamSource interface {
	StreamIDs() []string
	Snapshot(sourceID string) (pipeline.StreamSnapshot, bool)
	Snapshots() []pipeline.StreamSnapshot
}

// EpisodeLister lists persisted loitering episodes.
type EpisodeLister interface {
	ListBySource(ctx context.Context, sourceID string) ([]*sqlite.Episode, error)
}

// EvaluationLister lists persisted evaluations, newest first.
type EvaluationLister interface {
	ListBySource(ctx context.Context, sourceID string, limit int) ([]*sqlite.Evaluation, error)
}

// RouteAttacher mounts extra routes, such as the database and serial
// debug pages.
type RouteAttacher interface {
	AttachAdminRoutes(mux *http.ServeMux)
}

// WebServer is the HTTP monitoring surface.
type WebServer struct {
	address     string
	streams     StreamSource
	episodes    EpisodeLister
	evaluations EvaluationLister
	stats       func() map[string]any
	threshold   float64
	admin       []RouteAttacher
	server      *http.Server
	startedAt   time.Time
}

// WebServerConfig configures a WebServer. Only Streams is required.
type WebServerConfig struct {
	Address     string
	Streams     StreamSource
	Episodes    EpisodeLister
	Evaluations EvaluationLister
	// Stats returns component counters merged into /api/stats.
	Stats func() map[string]any
	// ThresholdPixels is drawn on the history charts.
	ThresholdPixels float64
	Admin           []RouteAttacher
}

// NewWebServer builds the server and its routes.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:     config.Address,
		streams:     config.Streams,
		episodes:    config.Episodes,
		evaluations: config.Evaluations,
		stats:       config.Stats,
		threshold:   config.ThresholdPixels,
		admin:       config.Admin,
		startedAt:   time.Now(),
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.setupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// Handler returns the route multiplexer.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", ws.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ws.address, err)
	}
	return ws.Serve(ctx, lis)
}

// Serve is Start on an existing listener.
func (ws *WebServer) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", lis.Addr())
		if err := ws.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
	return nil
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/streams", ws.handleStreams)
	mux.HandleFunc("/api/streams/history", ws.handleStreamHistory)
	mux.HandleFunc("/api/episodes", ws.handleEpisodes)
	mux.HandleFunc("/api/evaluations", ws.handleEvaluations)
	mux.HandleFunc("/debug/charts/history", ws.handleHistoryChart)
	mux.HandleFunc("/debug/plots/history.png", ws.handleHistoryPlot)

	for _, a := range ws.admin {
		if a != nil {
			a.AttachAdminRoutes(mux)
		}
	}
	return mux
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]any{
		"status":     "ok",
		"build":      version.Get(),
		"uptime_sec": int64(time.Since(ws.startedAt).Seconds()),
		"streams":    len(ws.streams.StreamIDs()),
	})
}
