package bus

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bflycam/bfly/pkg/types"
)

type recorder struct {
	got    []types.Emission
	err    error
	closed bool
}

func (r *recorder) Publish(e types.Emission) error {
	r.got = append(r.got, e)
	return r.err
}

func (r *recorder) Close() error {
	r.closed = true
	return r.err
}

func emission(seq uint32) types.Emission {
	ts := time.Unix(1700000000, 123456789)
	h := types.Header{Seq: seq, Stamp: ts, FrameID: "camera"}
	return types.Emission{
		Image: types.Image{Header: h, Width: 2, Height: 1, Encoding: types.EncodingMono8, Step: 2, Data: []byte{1, 2}},
		Info:  types.CameraInfo{Header: h, Width: 2, Height: 1, DistortionModel: types.DistortionModelPlumbBob},
	}
}

func TestMultiPublishesToAll(t *testing.T) {
	errA := errors.New("a failed")
	a := &recorder{err: errA}
	b := &recorder{}

	err := Multi{a, b}.Publish(emission(1))
	require.ErrorIs(t, err, errA)
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1, "a failing publisher must not stop the next one")

	require.ErrorIs(t, Multi{a, b}.Close(), errA)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestMultiEmpty(t *testing.T) {
	assert.NoError(t, Multi{}.Publish(emission(1)))
	assert.NoError(t, Multi(nil).Close())
}

func TestHubFanOut(t *testing.T) {
	h := NewHub()
	s1 := h.Subscribe()
	s2 := h.Subscribe()
	assert.Equal(t, 2, h.Subscribers())

	require.NoError(t, h.Publish(emission(7)))

	for _, ch := range []chan types.Emission{s1, s2} {
		e := <-ch
		assert.Equal(t, uint32(7), e.Image.Header.Seq)
		assert.Equal(t, e.Image.Header, e.Info.Header)
	}

	h.Unsubscribe(s1)
	_, ok := <-s1
	assert.False(t, ok)
	assert.Equal(t, 1, h.Subscribers())

	// Unsubscribing twice is harmless.
	h.Unsubscribe(s1)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, h.Publish(emission(uint32(i+1))))
	}
	assert.Len(t, ch, subscriberBuffer)
	assert.Equal(t, uint32(1), (<-ch).Image.Header.Seq)
}

func TestHubClose(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	require.NoError(t, h.Close())
	_, ok := <-ch
	assert.False(t, ok)

	late := h.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed hub yields a closed channel")
	assert.NoError(t, h.Publish(emission(1)))
}

func TestNilHub(t *testing.T) {
	var h *Hub
	assert.NoError(t, h.Publish(emission(1)))
}

func TestZMQRoundTrip(t *testing.T) {
	endpoint := fmt.Sprintf("inproc://bfly-test-%d", time.Now().UnixNano())
	pub, err := NewZMQPublisher(endpoint)
	require.NoError(t, err)
	defer pub.Close()

	sub, err := NewZMQSubscriber(endpoint, 100*time.Millisecond)
	require.NoError(t, err)
	defer sub.Close()

	want := emission(42)
	want.Info.K = [9]float64{500, 0, 320, 0, 500, 240, 0, 0, 1}

	// PUB drops messages until the subscription has propagated.
	var first Message
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, pub.Publish(want))
		first, err = sub.Recv()
		if err == nil {
			break
		}
		require.True(t, time.Now().Before(deadline), "no message received: %v", err)
	}

	require.Equal(t, TopicImage, first.Topic)
	require.NotNil(t, first.Image)
	assert.Equal(t, want.Image.Data, first.Image.Data)
	assert.Equal(t, want.Image.Header.Seq, first.Image.Header.Seq)
	assert.True(t, want.Image.Header.Stamp.Equal(first.Image.Header.Stamp))

	second, err := sub.Recv()
	require.NoError(t, err)
	require.Equal(t, TopicCameraInfo, second.Topic)
	require.NotNil(t, second.Info)
	assert.Equal(t, want.Info.K, second.Info.K)
	assert.Equal(t, first.Image.Header.Seq, second.Info.Header.Seq)
	assert.True(t, first.Image.Header.Stamp.Equal(second.Info.Header.Stamp))
}

func TestZMQPublishAfterClose(t *testing.T) {
	pub, err := NewZMQPublisher(fmt.Sprintf("inproc://bfly-closed-%d", time.Now().UnixNano()))
	require.NoError(t, err)
	require.NoError(t, pub.Close())
	assert.Error(t, pub.Publish(emission(1)))
	assert.NoError(t, pub.Close())
}
