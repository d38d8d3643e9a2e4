package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var (
	simpleTopicRe    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._~+%-]{2,254}$`)
	qualifiedTopicRe = regexp.MustCompile(`^projects/[^/]+/topics/[^/]+$`)
)

// ValidTopicName accepts either a simple Pub/Sub topic ID or the
// fully-qualified projects/<p>/topics/<t> form.
func ValidTopicName(topic string) bool {
	return simpleTopicRe.MatchString(topic) || qualifiedTopicRe.MatchString(topic)
}

// Payload is the opaque task data column: everything the execution
// pipeline needs to republish the message and compute the next fire.
// It is written once at insert and never mutated afterwards.
type Payload struct {
	Topic      string             `json:"topic"`
	Data       []byte             `json:"data"` // base64 on the wire
	Attributes map[string]string  `json:"attributes,omitempty"`
	Schedule   ScheduleDescriptor `json:"schedule"`
}

// Encode serializes the payload for the task data column.
func (p *Payload) Encode() ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}

// DecodePayload parses a task data column. A failure here is permanent:
// the row predates a schema change and will never decode, so callers park
// the task instead of retrying.
func DecodePayload(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.Topic == "" || len(p.Data) == 0 {
		return nil, fmt.Errorf("decode payload: missing topic or data")
	}
	return &p, nil
}
