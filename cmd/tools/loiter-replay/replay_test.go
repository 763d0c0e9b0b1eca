package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/loiter.report/internal/testutil"
	"github.com/banshee-data/loiter.report/internal/vision/l1meta"
	"github.com/banshee-data/loiter.report/internal/vision/network"
)

// writeRecording writes one frame per line: frames 0..63 walk one pixel
// per frame, frames 64..128 jump 40 pixels every frame.
func writeRecording(t *testing.T, dir string) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("# recorded on the gate camera\n")
	for n := uint64(0); n <= 128; n++ {
		left := float64(n)
		if n >= 64 {
			left = 0
			if n%2 == 1 {
				left = 40
			}
		}
		line, err := json.Marshal(testutil.PersonFrame("gate", n, left))
		require.NoError(t, err)
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteString("not json\n")
	path := filepath.Join(dir, "gate.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestReplayLines(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Input:   writeRecording(t, dir),
		PlotOut: filepath.Join(dir, "timeline.png"),
	}

	result, err := Replay(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, FormatLines, result.Format)
	assert.Equal(t, 1, result.Rejected)
	assert.Equal(t, uint64(129), result.Ingest.Frames)
	assert.Equal(t, uint64(1), result.Ingest.DecodeErrors)
	require.Len(t, result.Streams, 1)

	s := result.Streams[0]
	assert.Equal(t, "gate", s.SourceID)
	assert.Equal(t, uint64(129), s.Frames)
	assert.Equal(t, uint64(2), s.Evaluations)
	assert.Equal(t, uint64(2), s.Transitions)
	assert.Equal(t, "not_loitering", s.Decision)
	assert.Equal(t, 40.0, s.AverageDelta)
	assert.Equal(t, cfg.PlotOut, s.Plot)

	png, err := os.ReadFile(cfg.PlotOut)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")), "plot is not a PNG")
}

func TestReplayMultipleStreamsPlotNames(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	for _, b := range []*l1meta.Batch{
		testutil.PersonTrack("cam/a", 0, 1, 2, 3),
		testutil.PersonTrack("cam b", 0, 5, 5),
	} {
		line, err := json.Marshal(b)
		require.NoError(t, err)
		buf.Write(line)
		buf.WriteByte('\n')
	}
	input := filepath.Join(dir, "two.jsonl")
	require.NoError(t, os.WriteFile(input, buf.Bytes(), 0o644))

	result, err := Replay(context.Background(), Config{Input: input, PlotOut: filepath.Join(dir, "out.png")})
	require.NoError(t, err)
	require.Len(t, result.Streams, 2)

	assert.Equal(t, "cam b", result.Streams[0].SourceID)
	assert.Equal(t, "not_evaluated", result.Streams[0].Decision)
	for _, s := range result.Streams {
		assert.True(t, strings.HasPrefix(filepath.Base(s.Plot), "out-cam"), "plot %q", s.Plot)
		_, err := os.Stat(s.Plot)
		assert.NoError(t, err)
	}
}

func TestReplayRejectsPlotOutsideAllowedDirs(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Input: writeRecording(t, dir), PlotOut: "/etc/loiter-timeline.png"}

	_, err := Replay(context.Background(), cfg)
	assert.ErrorContains(t, err, "invalid plot path")
}

func TestReplayErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Replay(context.Background(), Config{Input: filepath.Join(dir, "absent.jsonl")})
	assert.ErrorContains(t, err, "failed to open input")

	_, err = Replay(context.Background(), Config{Input: "x", Format: "csv"})
	assert.ErrorContains(t, err, "unknown format")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"history_capacity": 0}`), 0o644))
	_, err = Replay(context.Background(), Config{Input: writeRecording(t, dir), ConfigPath: bad})
	assert.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"lines by default", Config{Input: "capture.jsonl"}, FormatLines},
		{"pcap extension", Config{Input: "capture.pcap"}, FormatPCAP},
		{"pcapng extension", Config{Input: "CAPTURE.PCAPNG"}, FormatPCAP},
		{"explicit overrides extension", Config{Input: "capture.pcap", Format: FormatLines}, FormatLines},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := detectFormat(tt.cfg)
			if err != nil {
				t.Fatalf("detectFormat: %v", err)
			}
			if got != tt.want {
				t.Errorf("detectFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPlotPath(t *testing.T) {
	if got := plotPath("/tmp/out.png", "cam/a", 1); got != "/tmp/out.png" {
		t.Errorf("single stream path = %q", got)
	}
	if got := plotPath("/tmp/out.png", "cam/a", 2); got != "/tmp/out-cam_a.png" {
		t.Errorf("multi stream path = %q", got)
	}
}

func TestWriteSummary(t *testing.T) {
	result := &ReplayResult{Input: "in.jsonl", Format: FormatLines, Streams: []StreamSummary{{SourceID: "gate", Decision: "loitering"}}}

	var buf bytes.Buffer
	require.NoError(t, writeSummary(Config{}, result, &buf))
	assert.Contains(t, buf.String(), `"source_id": "gate"`)

	out := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, writeSummary(Config{SummaryOut: out}, result, &buf))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var decoded ReplayResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "loitering", decoded.Streams[0].Decision)
}

func TestReplayPCAPWithoutTag(t *testing.T) {
	_, err := Replay(context.Background(), Config{Input: "capture.pcap"})
	if err == nil {
		t.Skip("built with pcap support")
	}
	if !errors.Is(err, network.ErrPCAPDisabled) && !strings.Contains(err.Error(), "capture.pcap") {
		t.Errorf("unexpected error: %v", err)
	}
}
