// Package pipeline provides orchestration for the loitering detector.
//
// It wires the per-frame stages of L1-L4 (record view, movement history,
// loitering classifier, overlay annotator) into a FrameProcessor, and owns
// one StreamRuntime per video source through the Registry. Adapter sinks
// (overlay publish, evaluation persistence) are injected as interfaces so
// that transport and storage packages never leak into the layer packages.
//
// The per-frame path is synchronous and non-blocking. Sinks that perform
// I/O must hand work off to their own goroutines (see AsyncEvaluationSink).
package pipeline
