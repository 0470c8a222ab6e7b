package types

// DistortionModelPlumbBob is the only distortion model the daemon publishes.
const DistortionModelPlumbBob = "plumb_bob"

// RegionOfInterest is always zero. Sub-window capture is not supported.
type RegionOfInterest struct {
	XOffset   uint32 `json:"x_offset"`
	YOffset   uint32 `json:"y_offset"`
	Height    uint32 `json:"height"`
	Width     uint32 `json:"width"`
	DoRectify bool   `json:"do_rectify"`
}

// CameraInfo is the calibration record published next to every frame.
// D, K and P hold the distortion, intrinsic and projection matrices in
// row-major order.
type CameraInfo struct {
	Header          Header           `json:"header"`
	Height          uint32           `json:"height"`
	Width           uint32           `json:"width"`
	DistortionModel string           `json:"distortion_model"`
	D               [5]float64       `json:"D"`
	K               [9]float64       `json:"K"`
	P               [12]float64      `json:"P"`
	BinningX        uint32           `json:"binning_x"`
	BinningY        uint32           `json:"binning_y"`
	ROI             RegionOfInterest `json:"roi"`
}

// Emission is the unit produced by one capture cycle. Image and Info always
// carry identical Seq and Stamp.
type Emission struct {
	Image Image      `json:"image"`
	Info  CameraInfo `json:"info"`
}
