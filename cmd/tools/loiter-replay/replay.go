package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/banshee-data/loiter.report/internal/config"
	"github.com/banshee-data/loiter.report/internal/security"
	"github.com/banshee-data/loiter.report/internal/vision/l1meta"
	"github.com/banshee-data/loiter.report/internal/vision/monitor"
	"github.com/banshee-data/loiter.report/internal/vision/network"
	"github.com/banshee-data/loiter.report/internal/vision/pipeline"
)

// Input formats.
const (
	FormatLines = "jsonl"
	FormatPCAP  = "pcap"
)

// Config holds configuration for one replay.
type Config struct {
	Input      string
	Format     string // FormatLines or FormatPCAP; empty picks by extension
	UDPPort    int
	ConfigPath string
	PlotOut    string // PNG timeline per stream; empty disables
	SummaryOut string // JSON summary file; empty writes to the caller's writer
}

// StreamSummary describes the final state of one replayed stream.
type StreamSummary struct {
	SourceID     string  `json:"source_id"`
	Frames       uint64  `json:"frames"`
	Evaluations  uint64  `json:"evaluations"`
	Transitions  uint64  `json:"transitions"`
	Decision     string  `json:"decision"`
	AverageDelta float64 `json:"average_delta"`
	Plot         string  `json:"plot,omitempty"`
}

// ReplayResult is the replay summary.
type ReplayResult struct {
	Input    string               `json:"input"`
	Format   string               `json:"format"`
	Rejected int                  `json:"rejected,omitempty"`
	Ingest   network.IngestStats  `json:"ingest"`
	Streams  []StreamSummary      `json:"streams"`
	Tuning   *config.TuningConfig `json:"tuning"`
}

// timelineProcessor feeds every frame result into a per-stream timeline.
type timelineProcessor struct {
	registry  *pipeline.Registry
	threshold float64

	mu        sync.Mutex
	timelines map[string]*monitor.Timeline
}

func (tp *timelineProcessor) ProcessBatch(b *l1meta.Batch) ([]pipeline.FrameResult, error) {
	results, err := tp.registry.ProcessBatch(b)
	if err != nil {
		return nil, err
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()
	for _, res := range results {
		tl, ok := tp.timelines[res.SourceID]
		if !ok {
			tl = &monitor.Timeline{SourceID: res.SourceID, Threshold: tp.threshold}
			tp.timelines[res.SourceID] = tl
		}
		tl.Add(res)
	}
	return results, nil
}

func detectFormat(cfg Config) (string, error) {
	if cfg.Format != "" {
		switch cfg.Format {
		case FormatLines, FormatPCAP:
			return cfg.Format, nil
		}
		return "", fmt.Errorf("unknown format %q (want %s or %s)", cfg.Format, FormatLines, FormatPCAP)
	}
	switch strings.ToLower(filepath.Ext(cfg.Input)) {
	case ".pcap", ".pcapng":
		return FormatPCAP, nil
	}
	return FormatLines, nil
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// plotPath returns where the timeline of sourceID is written. With more
// than one stream the sanitised source id is appended to the base name.
func plotPath(base, sourceID string, streams int) string {
	if streams <= 1 {
		return base
	}
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "-" + security.SanitizeFilename(sourceID) + ext
}

func writePlot(path string, tl *monitor.Timeline) error {
	if err := security.ValidateExportPath(path); err != nil {
		return fmt.Errorf("invalid plot path: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create plot: %w", err)
	}
	if err := tl.WritePNG(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write plot: %w", err)
	}
	return f.Close()
}

// Replay runs cfg.Input through a fresh registry and returns the summary.
func Replay(ctx context.Context, cfg Config) (*ReplayResult, error) {
	format, err := detectFormat(cfg)
	if err != nil {
		return nil, err
	}
	tuning, err := loadTuning(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	reg, err := pipeline.NewRegistry(pipeline.ProcessorConfigFromTuning(tuning))
	if err != nil {
		return nil, err
	}
	tp := &timelineProcessor{
		registry:  reg,
		threshold: tuning.GetLoiterThresholdPx(),
		timelines: make(map[string]*monitor.Timeline),
	}
	ing := network.NewIngestor(tp, nil, nil)

	result := &ReplayResult{Input: cfg.Input, Format: format, Tuning: tuning}
	switch format {
	case FormatPCAP:
		if err := network.ReadPCAPFile(ctx, cfg.Input, cfg.UDPPort, ing); err != nil {
			return nil, err
		}
	default:
		f, err := os.Open(cfg.Input)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		summary, err := network.ReadLines(ctx, f, ing)
		f.Close()
		if err != nil {
			return nil, err
		}
		result.Rejected = summary.Rejected
	}
	result.Ingest = ing.Stats()

	for _, snap := range reg.Snapshots() {
		result.Streams = append(result.Streams, StreamSummary{
			SourceID:     snap.SourceID,
			Frames:       snap.Stats.Frames,
			Evaluations:  snap.Stats.Evaluations,
			Transitions:  snap.Stats.Transitions,
			Decision:     snap.Decision,
			AverageDelta: snap.State.LastAverageDelta,
		})
	}
	sort.Slice(result.Streams, func(i, j int) bool {
		return result.Streams[i].SourceID < result.Streams[j].SourceID
	})

	if cfg.PlotOut != "" {
		for i := range result.Streams {
			s := &result.Streams[i]
			path := plotPath(cfg.PlotOut, s.SourceID, len(result.Streams))
			if err := writePlot(path, tp.timelines[s.SourceID]); err != nil {
				return nil, err
			}
			s.Plot = path
		}
	}
	return result, nil
}

// writeSummary encodes result to cfg.SummaryOut, or to w when unset.
func writeSummary(cfg Config, result *ReplayResult, w io.Writer) error {
	if cfg.SummaryOut != "" {
		if err := security.ValidateExportPath(cfg.SummaryOut); err != nil {
			return fmt.Errorf("invalid summary path: %w", err)
		}
		f, err := os.Create(cfg.SummaryOut)
		if err != nil {
			return fmt.Errorf("failed to create summary: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
