package visualiser

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/loiter.report/internal/timeutil"
	"github.com/banshee-data/loiter.report/internal/vision/l4overlay"
	"github.com/banshee-data/loiter.report/internal/vision/pipeline"
)

// Config holds configuration for the overlay gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g. "localhost:50061").
	ListenAddr string

	// MaxClients caps concurrent streaming clients. Zero means no cap.
	MaxClients int

	// QueueSize is the publish queue depth. Frames are dropped when full.
	QueueSize int

	// ClientBuffer is the per-client queue depth.
	ClientBuffer int

	// Clock stamps published frames. Defaults to timeutil.RealClock.
	Clock timeutil.Clock
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		MaxClients:   8,
		QueueSize:    100,
		ClientBuffer: 10,
	}
}

// maxMsgSize bounds gRPC messages; overlays are small.
const maxMsgSize = 1 * 1024 * 1024

// ErrTooManyClients is returned to a stream beyond Config.MaxClients.
var ErrTooManyClients = errors.New("too many streaming clients")

// Publisher fans overlay frames out to streaming gRPC clients. It
// implements pipeline.OverlaySink.
type Publisher struct {
	config   Config
	clock    timeutil.Clock
	server   *grpc.Server
	listener net.Listener

	frameChan chan *OverlayFrame
	clients   map[string]*clientStream
	clientsMu sync.RWMutex
	nextID    atomic.Uint64
	seq       atomic.Uint64

	frameCount     atomic.Uint64
	clientCount    atomic.Int32
	droppedFrames  atomic.Uint64
	lastStatsTime  time.Time
	lastFrameCount uint64
	lastStatsMu    sync.Mutex

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

var _ pipeline.OverlaySink = (*Publisher)(nil)

// clientStream is one connected viewer. An empty sourceID receives every
// stream.
type clientStream struct {
	id       string
	sourceID string
	frameCh  chan *OverlayFrame
}

// NewPublisher creates a Publisher. Start or Serve begins serving.
func NewPublisher(cfg Config) *Publisher {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Publisher{
		config:    cfg,
		clock:     clock,
		frameChan: make(chan *OverlayFrame, cfg.QueueSize),
		clients:   make(map[string]*clientStream),
		stopCh:    make(chan struct{}),
	}
}

// Start listens on Config.ListenAddr and serves the overlay service.
func (p *Publisher) Start(states StateProvider) error {
	if p.running.Load() {
		return fmt.Errorf("publisher already running")
	}
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis, states)
}

// Serve serves the overlay service on lis in the background. states may
// be nil, in which case GetStream reports Unavailable.
func (p *Publisher) Serve(lis net.Listener, states StateProvider) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterOverlayServiceServer(p.server, NewServer(p, states))

	p.wg.Add(1)
	go p.broadcastLoop()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Printf("[Visualiser] gRPC overlay server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			log.Printf("[Visualiser] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully stops the gRPC server and the broadcast loop.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	if p.server != nil {
		p.server.GracefulStop()
	}
	if p.listener != nil {
		p.listener.Close()
	}
	p.wg.Wait()
	log.Printf("[Visualiser] gRPC server stopped")
}

// SubmitOverlay queues rec for every interested client. It never blocks.
func (p *Publisher) SubmitOverlay(sourceID string, frameNum uint64, rec *l4overlay.AnnotationRecord) {
	if !p.running.Load() || rec == nil {
		return
	}
	frame := &OverlayFrame{
		Seq:         p.seq.Add(1),
		SourceID:    sourceID,
		FrameNum:    frameNum,
		TimestampMs: p.clock.Now().UnixMilli(),
		Annotation:  *rec,
	}

	select {
	case p.frameChan <- frame:
		p.logPeriodicStats(p.frameCount.Add(1))
	default:
		dropped := p.droppedFrames.Add(1)
		log.Printf("[Visualiser] DROPPED overlay %s/%d (total dropped: %d), channel full",
			sourceID, frameNum, dropped)
	}
}

// logPeriodicStats logs throughput every 5 seconds.
func (p *Publisher) logPeriodicStats(frameCount uint64) {
	p.lastStatsMu.Lock()
	defer p.lastStatsMu.Unlock()

	now := p.clock.Now()
	if p.lastStatsTime.IsZero() {
		p.lastStatsTime = now
		p.lastFrameCount = frameCount
		return
	}
	elapsed := now.Sub(p.lastStatsTime)
	if elapsed >= 5*time.Second {
		framesInInterval := frameCount - p.lastFrameCount
		log.Printf("[Visualiser] Stats: fps=%.1f frames=%d dropped=%d clients=%d queue=%d/%d",
			float64(framesInInterval)/elapsed.Seconds(), framesInInterval,
			p.droppedFrames.Load(), p.clientCount.Load(), len(p.frameChan), cap(p.frameChan))
		p.lastStatsTime = now
		p.lastFrameCount = frameCount
	}
}

// broadcastLoop distributes frames to all connected clients.
func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case frame := <-p.frameChan:
			p.clientsMu.RLock()
			for _, client := range p.clients {
				if client.sourceID != "" && client.sourceID != frame.SourceID {
					continue
				}
				select {
				case client.frameCh <- frame:
				default:
					// Slow client: drop for this client only.
					p.droppedFrames.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

// addClient registers a streaming client.
func (p *Publisher) addClient(sourceID string) (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		return nil, ErrTooManyClients
	}
	client := &clientStream{
		id:       fmt.Sprintf("grpc-%d", p.nextID.Add(1)),
		sourceID: sourceID,
		frameCh:  make(chan *OverlayFrame, p.config.ClientBuffer),
	}
	p.clients[client.id] = client
	n := p.clientCount.Add(1)
	log.Printf("[Visualiser] Client connected: %s source=%q (total: %d)", client.id, sourceID, n)
	return client, nil
}

// removeClient unregisters a streaming client.
func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; ok {
		delete(p.clients, id)
		n := p.clientCount.Add(-1)
		log.Printf("[Visualiser] Client disconnected: %s (remaining: %d)", id, n)
	}
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		FrameCount:    p.frameCount.Load(),
		DroppedFrames: p.droppedFrames.Load(),
		ClientCount:   p.clientCount.Load(),
		Running:       p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	FrameCount    uint64 `json:"frame_count"`
	DroppedFrames uint64 `json:"dropped_frames"`
	ClientCount   int32  `json:"client_count"`
	Running       bool   `json:"running"`
}

// GRPCServer returns the underlying gRPC server, nil before Serve.
func (p *Publisher) GRPCServer() *grpc.Server {
	return p.server
}
