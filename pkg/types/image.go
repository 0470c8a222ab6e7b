package types

// Image encodings understood by subscribers.
const (
	EncodingMono8 = "mono8"
	EncodingRGB8  = "rgb8"
)

// Image is one captured frame as published on the image channel.
type Image struct {
	Header   Header `json:"header"`
	Height   uint32 `json:"height"`
	Width    uint32 `json:"width"`
	Encoding string `json:"encoding"`
	Step     uint32 `json:"step"` // row length in bytes
	Data     []byte `json:"data"`
}

// Dimensions returns the frame size.
func (i Image) Dimensions() Dimensions {
	return Dimensions{Width: i.Width, Height: i.Height}
}
