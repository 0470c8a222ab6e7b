package calibration

import (
	"time"

	"github.com/bflycam/bfly/pkg/types"
)

// Build projects m into the calibration record published next to a frame of
// the given size. It has no side effects and never fails; binning and region
// of interest are always zero.
func Build(m Matrices, dims types.Dimensions, seq uint32, ts time.Time, frameID string) types.CameraInfo {
	info := types.CameraInfo{
		Header: types.Header{
			Seq:     seq,
			Stamp:   ts,
			FrameID: frameID,
		},
		Height:          dims.Height,
		Width:           dims.Width,
		DistortionModel: types.DistortionModelPlumbBob,
	}
	rowMajor(info.D[:], m.D)
	rowMajor(info.K[:], m.K)
	rowMajor(info.P[:], m.P)
	return info
}
