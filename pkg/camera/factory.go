package camera

import "fmt"

// Device kinds accepted by New.
const (
	KindSimulated = "simulated"
	KindV4L2      = "v4l2"
)

// New returns the device of the given kind wrapped with trace logging. path
// is ignored for simulated devices.
func New(kind, path string) (Device, error) {
	switch kind {
	case KindSimulated:
		return NewLogged(NewSimulated()), nil
	case KindV4L2:
		return NewLogged(NewV4L2(path)), nil
	default:
		return nil, fmt.Errorf("unknown camera device kind %q", kind)
	}
}
