package types

import "time"

// Header is carried by every message published by the daemon. A frame and
// its calibration record emitted in the same capture cycle share the same
// header values.
type Header struct {
	Seq     uint32    `json:"seq"`
	Stamp   time.Time `json:"stamp"`
	FrameID string    `json:"frame_id"`
}

// Dimensions is the size of a captured frame in pixels.
type Dimensions struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}
