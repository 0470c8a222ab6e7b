package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bflycam/bfly/pkg/types"
)

// Timestamps keep nanoseconds on the wire.
var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// ZMQPublisher publishes each emission as two multipart messages,
// [topic, cbor payload], on a ZeroMQ PUB socket.
type ZMQPublisher struct {
	mu       sync.Mutex
	sock     *zmq4.Socket
	endpoint string
}

// NewZMQPublisher binds a PUB socket to endpoint, e.g. tcp://*:5556.
func NewZMQPublisher(endpoint string) (*ZMQPublisher, error) {
	sock, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create zmq socket")
	}
	if err := sock.SetLinger(0); err != nil {
		_ = sock.Close()
		return nil, pkgerrors.Wrap(err, "failed to set zmq linger")
	}
	if err := sock.Bind(endpoint); err != nil {
		_ = sock.Close()
		return nil, pkgerrors.Wrapf(err, "failed to bind zmq socket to %s", endpoint)
	}
	logrus.WithField("endpoint", endpoint).Info("zmq publisher bound")
	return &ZMQPublisher{sock: sock, endpoint: endpoint}, nil
}

func (p *ZMQPublisher) Publish(e types.Emission) error {
	img, err := encMode.Marshal(e.Image)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to encode image")
	}
	info, err := encMode.Marshal(e.Info)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to encode camera info")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sock == nil {
		return fmt.Errorf("zmq publisher on %s is closed", p.endpoint)
	}
	if _, err := p.sock.SendMessage(TopicImage, img); err != nil {
		return pkgerrors.Wrapf(err, "failed to send %s", TopicImage)
	}
	if _, err := p.sock.SendMessage(TopicCameraInfo, info); err != nil {
		return pkgerrors.Wrapf(err, "failed to send %s", TopicCameraInfo)
	}
	return nil
}

func (p *ZMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sock == nil {
		return nil
	}
	err := p.sock.Close()
	p.sock = nil
	return err
}

// Message is one message on a channel. Exactly one of Image and Info is set.
type Message struct {
	Topic string            `json:"topic"`
	Image *types.Image      `json:"image,omitempty"`
	Info  *types.CameraInfo `json:"info,omitempty"`
}

// ZMQSubscriber receives messages from a ZMQPublisher.
type ZMQSubscriber struct {
	sock *zmq4.Socket
}

// NewZMQSubscriber connects a SUB socket to endpoint and subscribes to the
// given topics, or to every topic if none are given.
func NewZMQSubscriber(endpoint string, timeout time.Duration, topics ...string) (*ZMQSubscriber, error) {
	sock, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create zmq socket")
	}
	if timeout > 0 {
		if err := sock.SetRcvtimeo(timeout); err != nil {
			_ = sock.Close()
			return nil, pkgerrors.Wrap(err, "failed to set zmq receive timeout")
		}
	}
	if len(topics) == 0 {
		topics = []string{""}
	}
	for _, t := range topics {
		if err := sock.SetSubscribe(t); err != nil {
			_ = sock.Close()
			return nil, pkgerrors.Wrapf(err, "failed to subscribe to %q", t)
		}
	}
	if err := sock.Connect(endpoint); err != nil {
		_ = sock.Close()
		return nil, pkgerrors.Wrapf(err, "failed to connect zmq socket to %s", endpoint)
	}
	return &ZMQSubscriber{sock: sock}, nil
}

// Recv blocks until the next message arrives or the receive timeout expires.
func (s *ZMQSubscriber) Recv() (Message, error) {
	parts, err := s.sock.RecvMessageBytes(0)
	if err != nil {
		return Message{}, err
	}
	if len(parts) != 2 {
		return Message{}, fmt.Errorf("expected 2 message parts, got %d", len(parts))
	}

	msg := Message{Topic: string(parts[0])}
	switch msg.Topic {
	case TopicImage:
		var img types.Image
		if err := cbor.Unmarshal(parts[1], &img); err != nil {
			return Message{}, pkgerrors.Wrap(err, "failed to decode image")
		}
		msg.Image = &img
	case TopicCameraInfo:
		var info types.CameraInfo
		if err := cbor.Unmarshal(parts[1], &info); err != nil {
			return Message{}, pkgerrors.Wrap(err, "failed to decode camera info")
		}
		msg.Info = &info
	default:
		return Message{}, fmt.Errorf("unknown topic %q", msg.Topic)
	}
	return msg, nil
}

func (s *ZMQSubscriber) Close() error {
	return s.sock.Close()
}
