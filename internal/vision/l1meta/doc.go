// Package l1meta owns Layer 1 (Metadata) of the vision data model.
//
// Responsibilities: the per-frame detection records supplied by the
// upstream inference and tracking stages, their class and label tables,
// and decoding of the JSON batch wire form used by the ingest listeners.
// Key types: DetectionRecord, FrameMeta, Batch, FrameRecordView.
//
// Dependency rule: L1 depends on nothing else in internal/vision.
package l1meta
