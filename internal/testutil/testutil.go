// Package testutil holds shared test helpers and metadata fixtures.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/loiter.report/internal/vision/l1meta"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// NewTestRequest creates a request from a loopback address so tsweb debug
// routes accept it.
func NewTestRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// Person returns a Person detection with the given left edge.
func Person(left float64) l1meta.DetectionRecord {
	return l1meta.DetectionRecord{
		ClassID:     l1meta.ClassPerson,
		Box:         l1meta.BoundingBox{Left: left, Top: 0, Width: 40, Height: 120},
		BorderColor: l1meta.RGBA{Red: 1, Alpha: 1},
	}
}

// PersonFrame returns a frame holding one Person at left.
func PersonFrame(sourceID string, frameNum uint64, left float64) l1meta.FrameMeta {
	return l1meta.FrameMeta{
		SourceID: sourceID,
		FrameNum: frameNum,
		Objects:  []l1meta.DetectionRecord{Person(left)},
	}
}

// PersonTrack returns one single-Person frame per position, numbered from
// first.
func PersonTrack(sourceID string, first uint64, lefts ...float64) *l1meta.Batch {
	b := &l1meta.Batch{Frames: make([]l1meta.FrameMeta, len(lefts))}
	for i, left := range lefts {
		b.Frames[i] = PersonFrame(sourceID, first+uint64(i), left)
	}
	return b
}
