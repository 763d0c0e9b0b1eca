package l1meta

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClassID_String(t *testing.T) {
	tests := []struct {
		class ClassID
		want  string
	}{
		{ClassVehicle, "Vehicle"},
		{ClassTwoWheeler, "TwoWheeler"},
		{ClassPerson, "Person"},
		{ClassRoadSign, "RoadSign"},
		{ClassID(9), "class(9)"},
		{ClassID(-1), "class(-1)"},
	}
	for _, tt := range tests {
		if got := tt.class.String(); got != tt.want {
			t.Errorf("ClassID(%d).String() = %q, want %q", int(tt.class), got, tt.want)
		}
	}
}

func TestLabelFor(t *testing.T) {
	tests := []struct {
		name       string
		classifier int
		result     int
		want       string
		wantOK     bool
	}{
		{"colour first", ClassifierVehicleColour, 0, "black", true},
		{"colour last", ClassifierVehicleColour, 11, "yellow", true},
		{"make", ClassifierVehicleMake, 18, "Toyota", true},
		{"type", ClassifierVehicleType, 3, "suv", true},
		{"index out of range", ClassifierVehicleType, 6, "", false},
		{"negative index", ClassifierVehicleMake, -1, "", false},
		{"unknown classifier", 1, 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LabelFor(tt.classifier, tt.result)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("LabelFor(%d, %d) = (%q, %v), want (%q, %v)",
					tt.classifier, tt.result, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDecodeBatch(t *testing.T) {
	payload := `{"frames":[{"source_id":"cam-0","frame_num":64,"objects":[
		{"class_id":2,"box":{"left":120.5,"top":40,"width":30,"height":90},"tracking_id":7},
		{"class_id":0,"box":{"left":400,"top":300,"width":200,"height":120},"tracking_id":9,
		 "border_color":{"red":0,"green":1,"blue":0,"alpha":1},
		 "labels":[{"classifier_id":2,"result_class_id":8},{"classifier_id":4,"result_class_id":2,"label":"custom"}]}
	]},{"source_id":"cam-0","frame_num":65}]}`

	batch, err := DecodeBatch([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}

	want := &Batch{Frames: []FrameMeta{
		{
			SourceID: "cam-0",
			FrameNum: 64,
			Objects: []DetectionRecord{
				{
					ClassID:     ClassPerson,
					Box:         BoundingBox{Left: 120.5, Top: 40, Width: 30, Height: 90},
					TrackingID:  7,
					BorderColor: defaultBorderColor,
				},
				{
					ClassID:     ClassVehicle,
					Box:         BoundingBox{Left: 400, Top: 300, Width: 200, Height: 120},
					TrackingID:  9,
					BorderColor: RGBA{Green: 1, Alpha: 1},
					Labels: []ClassifierLabel{
						{ClassifierID: 2, ResultClassID: 8, Label: "red"},
						{ClassifierID: 4, ResultClassID: 2, Label: "custom"},
					},
				},
			},
		},
		{SourceID: "cam-0", FrameNum: 65},
	}}
	if diff := cmp.Diff(want, batch); diff != "" {
		t.Errorf("DecodeBatch mismatch (-want +got):\n%s", diff)
	}

	if NewFrameRecordView(&batch.Frames[1]).HasMetadata() {
		t.Error("frame without objects key should report no metadata")
	}
}

func TestDecodeBatch_SingleFrame(t *testing.T) {
	batch, err := DecodeBatch([]byte(`{"source_id":"cam-1","frame_num":3,"objects":[]}`))
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if len(batch.Frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(batch.Frames))
	}
	v := NewFrameRecordView(&batch.Frames[0])
	if !v.HasMetadata() || v.Len() != 0 {
		t.Errorf("expected empty frame with metadata, got HasMetadata=%v Len=%d", v.HasMetadata(), v.Len())
	}
	if v.SourceID() != "cam-1" || v.FrameNum() != 3 {
		t.Errorf("unexpected identity %q/%d", v.SourceID(), v.FrameNum())
	}
}

func TestDecodeBatch_Errors(t *testing.T) {
	if _, err := DecodeBatch([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed JSON")
	}

	big := `{"frames":[],"pad":"` + strings.Repeat("x", MaxBatchBytes) + `"}`
	_, err := DecodeBatch([]byte(big))
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("expected ErrBatchTooLarge, got %v", err)
	}

	batch, err := DecodeBatch([]byte(`{}`))
	if err != nil {
		t.Fatalf("empty object should decode: %v", err)
	}
	if len(batch.Frames) != 0 {
		t.Errorf("expected no frames, got %d", len(batch.Frames))
	}
}

func TestFrameRecordView(t *testing.T) {
	var nilView FrameRecordView
	if nilView.Len() != 0 || nilView.HasMetadata() || nilView.FrameNum() != 0 {
		t.Error("zero view should behave as an empty frame")
	}

	frame := &FrameMeta{
		SourceID: "cam-0",
		FrameNum: 10,
		Objects: []DetectionRecord{
			{ClassID: ClassPerson, Box: BoundingBox{Left: 5}, TrackingID: 1},
		},
	}
	v := NewFrameRecordView(frame)
	if v.Len() != 1 || v.ClassID(0) != ClassPerson || v.Box(0).Left != 5 || v.TrackingID(0) != 1 {
		t.Fatalf("unexpected view contents")
	}

	v.SetBorderColor(0, RGBA{Blue: 1, Alpha: 1})
	if frame.Objects[0].BorderColor.Blue != 1 {
		t.Error("SetBorderColor should write through to the record")
	}
	if v.BorderColor(0) != (RGBA{Blue: 1, Alpha: 1}) {
		t.Errorf("BorderColor = %+v", v.BorderColor(0))
	}
}
