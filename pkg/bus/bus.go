// Package bus carries capture cycle output to subscribers. Every Emission
// goes out on two channels, image_raw and camera_info, and the two messages
// of one Emission always share sequence number and timestamp.
package bus

import (
	"errors"

	"github.com/bflycam/bfly/pkg/types"
)

// Channel names.
const (
	TopicImage      = "image_raw"
	TopicCameraInfo = "camera_info"
)

// Publisher emits the frame and calibration record of one capture cycle as a
// unit. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(e types.Emission) error
	Close() error
}

// Multi publishes to every publisher in order. A failing publisher does not
// stop the others; all errors are joined.
type Multi []Publisher

func (m Multi) Publish(e types.Emission) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
