package l1meta

// FrameRecordView is a read-only adapter over one frame's detection
// records. The only permitted write is the border colour display hint.
type FrameRecordView struct {
	frame *FrameMeta
}

// NewFrameRecordView wraps frame. A nil frame behaves as an empty frame.
func NewFrameRecordView(frame *FrameMeta) FrameRecordView {
	return FrameRecordView{frame: frame}
}

// FrameNum returns the frame sequence number, or 0 for a nil frame.
func (v FrameRecordView) FrameNum() uint64 {
	if v.frame == nil {
		return 0
	}
	return v.frame.FrameNum
}

// SourceID returns the stream identity of the frame.
func (v FrameRecordView) SourceID() string {
	if v.frame == nil {
		return ""
	}
	return v.frame.SourceID
}

// HasMetadata reports whether the upstream stage attached any batch
// metadata to the frame.
func (v FrameRecordView) HasMetadata() bool {
	return v.frame != nil && v.frame.Objects != nil
}

// Len returns the number of records in the frame.
func (v FrameRecordView) Len() int {
	if v.frame == nil {
		return 0
	}
	return len(v.frame.Objects)
}

// ClassID returns the class of record i.
func (v FrameRecordView) ClassID(i int) ClassID {
	return v.frame.Objects[i].ClassID
}

// Box returns the bounding box of record i.
func (v FrameRecordView) Box(i int) BoundingBox {
	return v.frame.Objects[i].Box
}

// TrackingID returns the upstream tracker identity of record i.
func (v FrameRecordView) TrackingID(i int) uint64 {
	return v.frame.Objects[i].TrackingID
}

// Labels returns the secondary classifier labels of record i. The slice
// is shared with the record and must not be modified.
func (v FrameRecordView) Labels(i int) []ClassifierLabel {
	return v.frame.Objects[i].Labels
}

// BorderColor returns the current border display colour of record i.
func (v FrameRecordView) BorderColor(i int) RGBA {
	return v.frame.Objects[i].BorderColor
}

// SetBorderColor overwrites the border display colour of record i.
func (v FrameRecordView) SetBorderColor(i int, c RGBA) {
	v.frame.Objects[i].BorderColor = c
}
