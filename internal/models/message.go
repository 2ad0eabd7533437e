package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrMissingParticipant = errors.New("missing participant email")
	ErrSelfAddressed      = errors.New("self-addressed message")
	ErrEmptyContent       = errors.New("empty message content")
)

// Message is one point-to-point text record as exchanged with the message
// store and the event stream. ID is assigned by the store and is empty on
// locally constructed, not-yet-sent messages.
type Message struct {
	ID             string    `json:"id,omitempty"`
	SenderEmail    string    `json:"senderEmail"`
	ReceiverEmail  string    `json:"receiverEmail"`
	MessageContent string    `json:"messageContent"`
	SentAt         Timestamp `json:"sentAt"`
}

// MessageSubmission is the outbound shape for a new message. The store or
// broker assigns id and sentAt.
type MessageSubmission struct {
	SenderEmail    string `json:"senderEmail"`
	ReceiverEmail  string `json:"receiverEmail"`
	MessageContent string `json:"messageContent"`
}

// Validate enforces the ingestion contract: both participants present,
// case-insensitively distinct, with non-empty content.
func (m *Message) Validate() error {
	sender := strings.ToLower(strings.TrimSpace(m.SenderEmail))
	receiver := strings.ToLower(strings.TrimSpace(m.ReceiverEmail))
	if sender == "" || receiver == "" {
		return ErrMissingParticipant
	}
	if sender == receiver {
		return ErrSelfAddressed
	}
	if strings.TrimSpace(m.MessageContent) == "" {
		return ErrEmptyContent
	}
	return nil
}

// ValidMessages filters out records that fail the ingestion contract.
// Malformed messages are dropped, never surfaced as errors.
func ValidMessages(messages []Message) []Message {
	valid := make([]Message, 0, len(messages))
	for _, message := range messages {
		if err := message.Validate(); err != nil {
			continue
		}
		valid = append(valid, message)
	}
	return valid
}

// Timestamp wraps time.Time with lenient decoding: an unparseable or missing
// sentAt degrades to the zero time instead of failing the whole payload.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	t.Time = time.Time{}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}
