// Package message defines the typed envelope exchanged over the message bus.
// Inbound "file" events announce one arrived fragment; outbound "dataset"
// notifications carry a completed (or prematurely published) collection.
package message

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/adybbroe/pytroll-collectors/errors"
)

// Type identifies the kind of payload an envelope carries.
type Type string

// Envelope types understood by the gatherer.
const (
	// TypeFile announces a single arrived fragment (segment or granule).
	TypeFile Type = "file"
	// TypeDataset carries a completed collection of fragments.
	TypeDataset Type = "dataset"
	// TypeCollection carries a set of datasets (multi-fileset output).
	TypeCollection Type = "collection"
)

// Message is the bus envelope. It is immutable after creation - all fields
// are set during construction and cannot be modified afterwards.
//
// Construction uses the functional options pattern:
//
//	// Simple message (most common)
//	msg := message.New(subject, message.TypeDataset, data)
//
//	// With specific timestamp (testing/historical data)
//	msg := message.New(subject, message.TypeFile, data, message.WithTime(past))
type Message struct {
	id      string
	subject string
	msgType Type
	sender  string
	time    time.Time
	data    map[string]any
}

// Option is a functional option for configuring Message construction.
type Option func(*Message)

// WithTime sets a specific creation timestamp instead of time.Now().
func WithTime(t time.Time) Option {
	return func(m *Message) {
		m.time = t
	}
}

// WithSender overrides the default host-derived sender identity.
func WithSender(sender string) Option {
	return func(m *Message) {
		m.sender = sender
	}
}

// WithID sets an explicit envelope ID (testing/replay).
func WithID(id string) Option {
	return func(m *Message) {
		m.id = id
	}
}

// New creates a Message addressed to subject with the given type and data.
func New(subject string, msgType Type, data map[string]any, opts ...Option) *Message {
	m := &Message{
		id:      uuid.New().String(),
		subject: subject,
		msgType: msgType,
		sender:  defaultSender(),
		time:    time.Now().UTC(),
		data:    data,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func defaultSender() string {
	host, err := os.Hostname()
	if err != nil {
		return "segment-gatherer"
	}
	return "segment-gatherer@" + host
}

// ID returns the unique envelope identifier.
func (m *Message) ID() string {
	return m.id
}

// Subject returns the bus subject the message is addressed to.
func (m *Message) Subject() string {
	return m.subject
}

// Type returns the envelope type.
func (m *Message) Type() Type {
	return m.msgType
}

// Sender returns the identity of the publishing service.
func (m *Message) Sender() string {
	return m.sender
}

// Time returns the envelope creation time.
func (m *Message) Time() time.Time {
	return m.time
}

// Data returns the payload record. Callers must not mutate it.
func (m *Message) Data() map[string]any {
	return m.data
}

// Validate performs envelope validation.
func (m *Message) Validate() error {
	if m.msgType == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Message", "Validate", "type cannot be empty")
	}
	if m.data == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Message", "Validate", "data cannot be nil")
	}
	return nil
}

// wireFormat is the JSON wire representation of Message.
type wireFormat struct {
	ID      string         `json:"id"`
	Subject string         `json:"subject"`
	Type    Type           `json:"type"`
	Sender  string         `json:"sender"`
	Time    time.Time      `json:"time"`
	Data    map[string]any `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireFormat{
		ID:      m.id,
		Subject: m.subject,
		Type:    m.msgType,
		Sender:  m.sender,
		Time:    m.time,
		Data:    m.data,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire wireFormat
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.WrapInvalid(err, "Message", "UnmarshalJSON", "decode wire format")
	}

	m.id = wire.ID
	m.subject = wire.Subject
	m.msgType = wire.Type
	m.sender = wire.Sender
	m.time = wire.Time
	m.data = wire.Data

	return nil
}
