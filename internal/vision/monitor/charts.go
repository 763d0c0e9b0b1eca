package monitor

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/loiter.report/internal/httputil"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// RenderHistoryChart writes an HTML page charting the ring slots and
// their deltas against the threshold.
func RenderHistoryChart(w io.Writer, v HistoryView, threshold float64) error {
	slots := make([]string, len(v.Slots))
	positions := make([]opts.LineData, len(v.Slots))
	for i, p := range v.Slots {
		slots[i] = strconv.Itoa(i)
		positions[i] = opts.LineData{Value: p}
	}
	deltas := make([]opts.LineData, len(v.Slots))
	limit := make([]opts.LineData, len(v.Slots))
	deltas[0] = opts.LineData{Value: nil}
	for i, d := range v.Deltas {
		deltas[i+1] = opts.LineData{Value: d}
	}
	for i := range limit {
		limit[i] = opts.LineData{Value: threshold}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Movement history " + v.SourceID, Theme: "dark", Width: "1100px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Movement history: " + v.SourceID,
			Subtitle: fmt.Sprintf("decision=%s avg=%.3f write_index=%d", v.Decision, v.AverageDelta, v.WriteIndex),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "slot"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "pixels"}),
	)
	line.SetXAxis(slots).
		AddSeries("left edge", positions).
		AddSeries("|delta|", deltas).
		AddSeries("threshold", limit)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(line)
	return page.Render(w)
}

func (ws *WebServer) handleHistoryChart(w http.ResponseWriter, r *http.Request) {
	snap, ok := ws.streamParam(w, r)
	if !ok {
		return
	}
	v := NewHistoryView(snap)
	if len(v.Slots) == 0 {
		httputil.NotFound(w, "stream has no history")
		return
	}
	threshold := snap.State.ThresholdPixels
	if threshold == 0 {
		threshold = ws.threshold
	}

	var buf bytes.Buffer
	if err := RenderHistoryChart(&buf, v, threshold); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
