package camera

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bflycam/bfly/pkg/types"
)

func TestEncoding(t *testing.T) {
	tests := []struct {
		format PixelFormat
		want   string
	}{
		{PixelFormatMono8, types.EncodingMono8},
		{PixelFormatRGB8, types.EncodingRGB8},
		{PixelFormatMono16, types.EncodingMono8},
		{PixelFormat(42), types.EncodingMono8},
		{PixelFormat(-1), types.EncodingMono8},
	}
	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Encoding(tt.format))
		})
	}
}

func TestVideoModeResolution(t *testing.T) {
	r, err := VideoModeHalf.Resolution()
	require.NoError(t, err)
	assert.Equal(t, Resolution{Width: 640, Height: 480}, r)

	_, err = VideoMode(9).Resolution()
	assert.Error(t, err)
	assert.Equal(t, "VideoMode(9)", VideoMode(9).String())
}

func TestSetupSteps(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name     string
		fault    Op
		wantStep SetupStep
	}{
		{"open fails", OpOpen, StepOpen},
		{"configure fails", OpConfigure, StepConfigure},
		{"start fails", OpStart, StepStart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewSimulated()
			d.InjectFault(tt.fault, boom)

			err := Setup(d, VideoModeQuarter, PixelFormatMono8)
			var se *SetupError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.wantStep, se.Step)
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestSetupUnknownVideoMode(t *testing.T) {
	err := Setup(NewSimulated(), VideoMode(7), PixelFormatMono8)
	var se *SetupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StepConfigure, se.Step)
}

func TestSimulatedImages(t *testing.T) {
	tests := []struct {
		format   PixelFormat
		wantStep int
	}{
		{PixelFormatMono8, 320},
		{PixelFormatRGB8, 960},
		{PixelFormatMono16, 640},
	}
	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			d := NewSimulated()
			require.NoError(t, Setup(d, VideoModeQuarter, tt.format))

			img, err := d.CurrentImage()
			require.NoError(t, err)
			assert.Equal(t, 320, img.Width)
			assert.Equal(t, 240, img.Height)
			assert.Equal(t, tt.wantStep, img.Step)
			assert.Len(t, img.Data, tt.wantStep*240)
			assert.Equal(t, tt.format, d.PixelFormat())

			// The pattern moves between frames.
			next, err := d.CurrentImage()
			require.NoError(t, err)
			assert.NotEqual(t, img.Data[0], next.Data[0])
		})
	}
}

func TestSimulatedNotAcquiring(t *testing.T) {
	d := NewSimulated()
	_, err := d.CurrentImage()
	assert.ErrorIs(t, err, ErrNotAcquiring)

	require.NoError(t, Setup(d, VideoModeQuarter, PixelFormatMono8))
	require.NoError(t, d.Close())
	_, err = d.CurrentImage()
	assert.ErrorIs(t, err, ErrNotAcquiring)
	assert.Equal(t, 2, d.Calls(OpCapture))
}

func TestSimulatedFaultCleared(t *testing.T) {
	d := NewSimulated()
	require.NoError(t, Setup(d, VideoModeQuarter, PixelFormatMono8))

	boom := errors.New("frame lost")
	d.InjectFault(OpCapture, boom)
	_, err := d.CurrentImage()
	assert.ErrorIs(t, err, boom)

	d.InjectFault(OpCapture, nil)
	_, err = d.CurrentImage()
	assert.NoError(t, err)
}

func TestNew(t *testing.T) {
	d, err := New(KindSimulated, "")
	require.NoError(t, err)
	require.NoError(t, Setup(d, VideoModeHalf, PixelFormatRGB8))
	assert.Equal(t, PixelFormatRGB8, d.PixelFormat())

	desc, ok := d.(Describer)
	require.True(t, ok)
	assert.Equal(t, "simulated", desc.Describe()["model"])

	_, err = New("firewire", "")
	assert.Error(t, err)
}
