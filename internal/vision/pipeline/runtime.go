package pipeline

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/loiter.report/internal/vision/l1meta"
	"github.com/banshee-data/loiter.report/internal/vision/l3loiter"
	"github.com/banshee-data/loiter.report/internal/vision/l4overlay"
)

// DefaultSourceID names the stream of frames that carry no source id.
const DefaultSourceID = "default"

// StreamRuntime bundles the per-stream detector state that was previously
// process-wide. Calls are serialised so that monitors can snapshot a
// stream while ingest is writing to it.
type StreamRuntime struct {
	SourceID string

	mu        sync.Mutex
	processor *FrameProcessor
	pool      *l4overlay.BoundedPool // nil unless the registry bounds display records
	createdAt time.Time
	updatedAt time.Time
}

// StreamSnapshot is a point-in-time copy of one stream's detector state.
type StreamSnapshot struct {
	SourceID   string         `json:"source_id"`
	State      l3loiter.State `json:"state"`
	Decision   string         `json:"decision"`
	Capacity   int            `json:"capacity"`
	WriteIndex int            `json:"write_index"`
	// Recorded counts Person positions written to the ring.
	Recorded uint64 `json:"recorded"`
	// LastPosition is the slot at WriteIndex; zero until Recorded > 0.
	LastPosition float64        `json:"last_position"`
	History      []float64      `json:"history"`
	Deltas       []float64      `json:"deltas"`
	Stats        ProcessorStats `json:"stats"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Process runs one frame through the stream's processor.
func (r *StreamRuntime) Process(frame *l1meta.FrameMeta) FrameResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.processor.ProcessFrame(frame)
	r.updatedAt = r.processor.Now()
	return res
}

// endBatch returns any bounded display records to the pool once the
// renderer has taken the whole batch.
func (r *StreamRuntime) endBatch() {
	if r.pool != nil {
		r.pool.Reset()
	}
}

// Snapshot copies the stream state.
func (r *StreamRuntime) Snapshot() StreamSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.processor.History()
	st := r.processor.State()
	return StreamSnapshot{
		SourceID:     r.SourceID,
		State:        st,
		Decision:     st.Decision.String(),
		Capacity:     h.Capacity(),
		WriteIndex:   h.WriteIndex(),
		Recorded:     h.Recorded(),
		LastPosition: h.At(h.WriteIndex()),
		History:      h.Snapshot(),
		Deltas:       h.Deltas(make([]float64, 0, h.Capacity()-1)),
		Stats:        r.processor.Stats(),
		CreatedAt:    r.createdAt,
		UpdatedAt:    r.updatedAt,
	}
}

// Registry owns one StreamRuntime per source id. Streams never share
// state; each is created on the first frame that names it.
type Registry struct {
	cfg ProcessorConfig

	mu      sync.RWMutex
	streams map[string]*StreamRuntime
}

// NewRegistry validates cfg once for every stream it will create.
func NewRegistry(cfg ProcessorConfig) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Registry{cfg: cfg, streams: make(map[string]*StreamRuntime)}, nil
}

// Runtime returns the stream for sourceID, creating it if needed.
func (r *Registry) Runtime(sourceID string) (*StreamRuntime, error) {
	if sourceID == "" {
		sourceID = DefaultSourceID
	}
	r.mu.RLock()
	rt, ok := r.streams[sourceID]
	r.mu.RUnlock()
	if ok {
		return rt, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok := r.streams[sourceID]; ok {
		return rt, nil
	}

	cfg := r.cfg
	cfg.SourceID = sourceID
	var pool *l4overlay.BoundedPool
	if cfg.DisplayPool == nil && cfg.DisplayPoolSize > 0 {
		pool = l4overlay.NewBoundedPool(cfg.DisplayPoolSize)
		cfg.DisplayPool = pool
	}
	p, err := NewFrameProcessor(cfg)
	if err != nil {
		return nil, fmt.Errorf("create stream %q: %w", sourceID, err)
	}
	now := p.Now()
	rt = &StreamRuntime{SourceID: sourceID, processor: p, pool: pool, createdAt: now, updatedAt: now}
	r.streams[sourceID] = rt
	diagf("[%s] stream created (capacity=%d threshold=%.2f)", sourceID, cfg.Classifier.Capacity, cfg.Classifier.ThresholdPixels)
	return rt, nil
}

// ProcessBatch routes every frame of b to its stream in order and returns
// one result per frame. Bounded display pools of the streams it touched are
// reset even when a stream cannot be created.
func (r *Registry) ProcessBatch(b *l1meta.Batch) ([]FrameResult, error) {
	if b == nil {
		return nil, nil
	}
	results := make([]FrameResult, 0, len(b.Frames))
	touched := make(map[*StreamRuntime]struct{})
	defer func() {
		for rt := range touched {
			rt.endBatch()
		}
	}()
	for i := range b.Frames {
		rt, err := r.Runtime(b.Frames[i].SourceID)
		if err != nil {
			return results, err
		}
		results = append(results, rt.Process(&b.Frames[i]))
		touched[rt] = struct{}{}
	}
	return results, nil
}

// StreamIDs returns the known source ids in sorted order.
func (r *Registry) StreamIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.streams))
	for id := range r.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns the state of one stream.
func (r *Registry) Snapshot(sourceID string) (StreamSnapshot, bool) {
	r.mu.RLock()
	rt, ok := r.streams[sourceID]
	r.mu.RUnlock()
	if !ok {
		return StreamSnapshot{}, false
	}
	return rt.Snapshot(), true
}

// Snapshots returns the state of every stream, sorted by source id.
func (r *Registry) Snapshots() []StreamSnapshot {
	ids := r.StreamIDs()
	out := make([]StreamSnapshot, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.Snapshot(id); ok {
			out = append(out, s)
		}
	}
	return out
}
