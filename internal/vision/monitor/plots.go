package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/loiter.report/internal/httputil"
	"github.com/banshee-data/loiter.report/internal/vision/l3loiter"
	"github.com/banshee-data/loiter.report/internal/vision/pipeline"
)

var (
	positionColor  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	deltaColor     = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	thresholdColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

func addLine(p *plot.Plot, name string, pts plotter.XYs, c color.Color) error {
	if len(pts) == 0 {
		return nil
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("%s line: %w", name, err)
	}
	l.Color = c
	l.Width = vg.Points(1)
	p.Add(l)
	p.Legend.Add(name, l)
	return nil
}

func thresholdLine(p *plot.Plot, threshold float64) {
	if threshold <= 0 {
		return
	}
	f := plotter.NewFunction(func(float64) float64 { return threshold })
	f.Color = thresholdColor
	f.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(f)
	p.Legend.Add("threshold", f)
}

func writePNG(p *plot.Plot, w io.Writer) error {
	wt, err := p.WriterTo(12*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render png: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// WriteHistoryPNG plots the ring slots and their deltas.
func WriteHistoryPNG(w io.Writer, v HistoryView, threshold float64) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s: %s (avg %.3f)", v.SourceID, v.Decision, v.AverageDelta)
	p.X.Label.Text = "Slot"
	p.Y.Label.Text = "Pixels"
	p.Add(plotter.NewGrid())

	pos := make(plotter.XYs, len(v.Slots))
	for i, s := range v.Slots {
		pos[i] = plotter.XY{X: float64(i), Y: s}
	}
	deltas := make(plotter.XYs, len(v.Deltas))
	for i, d := range v.Deltas {
		deltas[i] = plotter.XY{X: float64(i + 1), Y: d}
	}
	if err := addLine(p, "left edge", pos, positionColor); err != nil {
		return err
	}
	if err := addLine(p, "|delta|", deltas, deltaColor); err != nil {
		return err
	}
	thresholdLine(p, threshold)
	return writePNG(p, w)
}

// Timeline accumulates per-frame positions and evaluation averages of one
// stream for offline plotting.
type Timeline struct {
	SourceID    string
	Threshold   float64
	Positions   plotter.XYs
	Averages    plotter.XYs
	Loitering   plotter.XYs
	Transitions int
}

// Add records one frame result. Frames without a Person leave no
// position point.
func (tl *Timeline) Add(res pipeline.FrameResult) {
	x := float64(res.FrameNum)
	if res.Tally.Persons() > 0 {
		tl.Positions = append(tl.Positions, plotter.XY{X: x, Y: res.State.MostRecentPersonLeft})
	}
	if ev := res.Evaluation; ev != nil {
		tl.Averages = append(tl.Averages, plotter.XY{X: x, Y: ev.AverageDelta})
		if ev.Decision == l3loiter.Loitering {
			tl.Loitering = append(tl.Loitering, plotter.XY{X: x, Y: ev.AverageDelta})
		}
		if ev.Changed() {
			tl.Transitions++
		}
	}
}

// WritePNG plots the timeline.
func (tl *Timeline) WritePNG(w io.Writer) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s: %d evaluations, %d transitions", tl.SourceID, len(tl.Averages), tl.Transitions)
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Pixels"
	p.Add(plotter.NewGrid())

	if err := addLine(p, "person left edge", tl.Positions, positionColor); err != nil {
		return err
	}
	if err := addLine(p, "average |delta|", tl.Averages, deltaColor); err != nil {
		return err
	}
	if len(tl.Loitering) > 0 {
		s, err := plotter.NewScatter(tl.Loitering)
		if err != nil {
			return fmt.Errorf("loitering marks: %w", err)
		}
		s.Color = thresholdColor
		p.Add(s)
		p.Legend.Add("loitering", s)
	}
	thresholdLine(p, tl.Threshold)
	return writePNG(p, w)
}

func (ws *WebServer) handleHistoryPlot(w http.ResponseWriter, r *http.Request) {
	snap, ok := ws.streamParam(w, r)
	if !ok {
		return
	}
	threshold := snap.State.ThresholdPixels
	if threshold == 0 {
		threshold = ws.threshold
	}
	var buf bytes.Buffer
	if err := WriteHistoryPNG(&buf, NewHistoryView(snap), threshold); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
