package l1meta

import "fmt"

// ClassID is the primary detector class of a detection record.
type ClassID int

const (
	ClassVehicle    ClassID = 0
	ClassTwoWheeler ClassID = 1
	ClassPerson     ClassID = 2
	ClassRoadSign   ClassID = 3
)

// NumClasses is the number of primary detector classes.
const NumClasses = 4

// Valid reports whether c is one of the known primary classes.
func (c ClassID) Valid() bool {
	return c >= ClassVehicle && c <= ClassRoadSign
}

// String returns the detector label for the class.
func (c ClassID) String() string {
	if !c.Valid() {
		return fmt.Sprintf("class(%d)", int(c))
	}
	return primaryClassLabels[c]
}

// BoundingBox is an axis-aligned box in display coordinates.
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RGBA is a display colour with components in [0, 1].
type RGBA struct {
	Red   float64 `json:"red"`
	Green float64 `json:"green"`
	Blue  float64 `json:"blue"`
	Alpha float64 `json:"alpha"`
}

// Common display colours.
var (
	White = RGBA{Red: 1, Green: 1, Blue: 1, Alpha: 1}
	Black = RGBA{Alpha: 1}
)

// ClassifierLabel is one secondary classifier result attached to a record.
type ClassifierLabel struct {
	// ClassifierID is the unique id of the secondary classifier stage.
	ClassifierID int `json:"classifier_id"`
	// ResultClassID indexes into that classifier's label table.
	ResultClassID int `json:"result_class_id"`
	// Label is resolved from the tables in labels.go when empty on the wire.
	Label string `json:"label,omitempty"`
}

// DetectionRecord is one object's class, position and tracking identity
// for one frame. The core reads it and only writes BorderColor.
type DetectionRecord struct {
	ClassID     ClassID           `json:"class_id"`
	Box         BoundingBox       `json:"box"`
	TrackingID  uint64            `json:"tracking_id"`
	BorderColor RGBA              `json:"border_color"`
	Labels      []ClassifierLabel `json:"labels,omitempty"`
}

// FrameMeta is the metadata for one frame of one source.
//
// A nil Objects slice means the upstream stage supplied no batch metadata
// for the buffer; the frame is processed as having zero records.
type FrameMeta struct {
	SourceID string            `json:"source_id"`
	FrameNum uint64            `json:"frame_num"`
	Objects  []DetectionRecord `json:"objects"`
}

// Batch is the set of frames delivered together by the upstream muxer.
type Batch struct {
	Frames []FrameMeta `json:"frames"`
}
