package l1meta

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxBatchBytes bounds a single encoded batch (one datagram or one line).
const MaxBatchBytes = 64 * 1024

// ErrBatchTooLarge is returned for payloads over MaxBatchBytes.
var ErrBatchTooLarge = errors.New("batch payload too large")

// DecodeBatch parses one JSON-encoded batch and resolves secondary
// classifier labels that were sent as ids only.
//
// A payload that is a single frame object (no "frames" key but a
// "frame_num") is accepted as a one-frame batch.
func DecodeBatch(payload []byte) (*Batch, error) {
	if len(payload) > MaxBatchBytes {
		return nil, fmt.Errorf("decode batch: %w (%d bytes)", ErrBatchTooLarge, len(payload))
	}

	var shape map[string]json.RawMessage
	if err := json.Unmarshal(payload, &shape); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}

	batch := &Batch{}
	if _, ok := shape["frames"]; ok {
		if err := json.Unmarshal(payload, batch); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
	} else if _, ok := shape["frame_num"]; ok {
		var frame FrameMeta
		if err := json.Unmarshal(payload, &frame); err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		batch.Frames = []FrameMeta{frame}
	}

	for fi := range batch.Frames {
		objs := batch.Frames[fi].Objects
		for oi := range objs {
			if objs[oi].BorderColor == (RGBA{}) {
				objs[oi].BorderColor = defaultBorderColor
			}
			labels := objs[oi].Labels
			for li := range labels {
				if labels[li].Label != "" {
					continue
				}
				if name, ok := LabelFor(labels[li].ClassifierID, labels[li].ResultClassID); ok {
					labels[li].Label = name
				}
			}
		}
	}
	return batch, nil
}

// defaultBorderColor is the on-screen detector box colour when the wire
// form does not carry one.
var defaultBorderColor = RGBA{Red: 1, Alpha: 1}
