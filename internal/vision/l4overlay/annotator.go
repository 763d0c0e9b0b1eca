package l4overlay

import (
	"fmt"
	"strconv"

	"github.com/banshee-data/loiter.report/internal/vision/l1meta"
	"github.com/banshee-data/loiter.report/internal/vision/l3loiter"
)

// Config controls the fixed placement and style of the overlay.
type Config struct {
	XOffset    int
	YOffset    int
	Font       Font
	Foreground l1meta.RGBA
	Background l1meta.RGBA
}

// DefaultConfig places white Serif 10 text on an opaque black background
// near the top-left corner.
func DefaultConfig() Config {
	return Config{
		XOffset:    10,
		YOffset:    12,
		Font:       Font{Name: "Serif", Size: 10},
		Foreground: l1meta.White,
		Background: l1meta.Black,
	}
}

// Annotator builds the per-frame overlay from classifier state.
type Annotator struct {
	cfg  Config
	pool DisplayPool
	buf  []byte
}

// NewAnnotator creates an annotator drawing records from pool. A nil pool
// uses HeapPool.
func NewAnnotator(cfg Config, pool DisplayPool) *Annotator {
	if pool == nil {
		pool = HeapPool{}
	}
	return &Annotator{cfg: cfg, pool: pool, buf: make([]byte, 0, MaxDisplayLen)}
}

// Build returns the annotation for state. The text shows the last
// movement average as "left" and the most recent Person left edge as
// "top", the labels the on-screen display has always used.
func (a *Annotator) Build(state l3loiter.State) (*AnnotationRecord, error) {
	rec, err := a.pool.Acquire()
	if err != nil {
		return nil, fmt.Errorf("build annotation: %w", err)
	}

	rec.Text = a.format(state.LastAverageDelta, state.MostRecentPersonLeft)
	rec.X = a.cfg.XOffset
	rec.Y = a.cfg.YOffset
	rec.Font = a.cfg.Font
	rec.Foreground = a.cfg.Foreground
	rec.Background = a.cfg.Background
	rec.HasBackground = true
	return rec, nil
}

func (a *Annotator) format(avg, left float64) string {
	b := a.buf[:0]
	b = append(b, "left = "...)
	b = strconv.AppendFloat(b, avg, 'f', 6, 64)
	b = append(b, " top = "...)
	b = strconv.AppendFloat(b, left, 'f', 6, 64)
	b = append(b, ' ')
	if len(b) > MaxDisplayLen-1 {
		b = b[:MaxDisplayLen-1]
	}
	a.buf = b
	return string(b)
}
