// Package watermillsink mirrors coordinator events onto any watermill
// publisher (gochannel in-process, or a broker transport).
package watermillsink

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/unkn0wn-root/storecache/coordinator"
)

// DefaultPrefix is prepended to the event kind to form the topic.
const DefaultPrefix = "storefront.coordinator"

const (
	MetadataEventType     = "event_type"
	MetadataTimestamp     = "timestamp"
	MetadataSchemaVersion = "schema_version"
)

var ErrNoPublisher = errors.New("watermillsink: publisher is required")

type Sink struct {
	pub    message.Publisher
	prefix string
}

var _ coordinator.Sink = (*Sink)(nil)

// New publishes to "<prefix>.<kind>". An empty prefix uses DefaultPrefix.
func New(pub message.Publisher, prefix string) (*Sink, error) {
	if pub == nil {
		return nil, ErrNoPublisher
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Sink{pub: pub, prefix: prefix}, nil
}

// Topic returns the topic events of kind k are published to.
func (s *Sink) Topic(k coordinator.Kind) string {
	return s.prefix + "." + string(k)
}

func (s *Sink) Publish(evt coordinator.Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	msg := message.NewMessage(evt.ID, payload)
	msg.Metadata.Set(MetadataEventType, string(evt.Kind))
	msg.Metadata.Set(MetadataTimestamp, evt.At.UTC().Format(time.RFC3339Nano))
	msg.Metadata.Set(MetadataSchemaVersion, strconv.Itoa(evt.Version))

	return s.pub.Publish(s.Topic(evt.Kind), msg)
}

// Decode turns a published message back into an Event, rejecting other
// schema versions.
func Decode(msg *message.Message) (coordinator.Event, error) {
	var evt coordinator.Event
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return coordinator.Event{}, err
	}
	return evt, nil
}
