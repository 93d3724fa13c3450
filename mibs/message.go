// Package mibs is the client for the Message in a Bottle REST API.
package mibs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/safe-zone-client/internal/errors"
	"github.com/jrsteele09/safe-zone-client/internal/utils"
)

// Message is a scheduled message with its recipients.
type Message struct {
	MessageID  *int
	UserID     string
	Message    string
	Recipients []Recipient
	SendTime   time.Time
	Sent       bool
}

type messageJSON struct {
	MessageID  *int        `json:"messageId,omitempty"`
	UserID     string      `json:"userId,omitempty"`
	Message    string      `json:"message"`
	Recipients []Recipient `json:"recipients"`
	SendTime   string      `json:"sendTime"`
	Sent       bool        `json:"sent"`
}

// ID returns the message id or 0 for unsaved messages.
func (m Message) ID() int {
	return utils.Value(m.MessageID)
}

// MarshalJSON writes sendTime as an HTTP date in UTC.
func (m Message) MarshalJSON() ([]byte, error) {
	recipients := m.Recipients
	if recipients == nil {
		recipients = []Recipient{}
	}
	return json.Marshal(messageJSON{
		MessageID:  m.MessageID,
		UserID:     m.UserID,
		Message:    m.Message,
		Recipients: recipients,
		SendTime:   m.SendTime.UTC().Format(http.TimeFormat),
		Sent:       m.Sent,
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sendTime, err := parseSendTime(raw.SendTime)
	if err != nil {
		return err
	}
	*m = Message{
		MessageID:  raw.MessageID,
		UserID:     raw.UserID,
		Message:    raw.Message,
		Recipients: raw.Recipients,
		SendTime:   sendTime,
		Sent:       raw.Sent,
	}
	return nil
}

// parseSendTime accepts HTTP dates and RFC 3339 timestamps.
func parseSendTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := http.ParseTime(s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid sendTime %q", s)
	}
	return t.UTC(), nil
}

// RecipientKind tags the variant of a Recipient.
type RecipientKind int

const (
	RecipientEmail RecipientKind = iota + 1
	RecipientSMS
	RecipientUser
)

func (k RecipientKind) String() string {
	switch k {
	case RecipientEmail:
		return "email"
	case RecipientSMS:
		return "sms"
	case RecipientUser:
		return "user"
	default:
		return "unknown"
	}
}

// Recipient is one addressee of a message: an email address, a phone number
// or another user.
type Recipient struct {
	Kind  RecipientKind
	Value string
}

func Email(address string) Recipient {
	return Recipient{Kind: RecipientEmail, Value: address}
}

func SMS(phoneNumber string) Recipient {
	return Recipient{Kind: RecipientSMS, Value: phoneNumber}
}

func User(userID string) Recipient {
	return Recipient{Kind: RecipientUser, Value: userID}
}

// ParseRecipient reads "email:a@b", "sms:+6421..." or "user:id". A bare value
// is treated as an email address.
func ParseRecipient(s string) (Recipient, error) {
	kind, value, found := strings.Cut(s, ":")
	if !found {
		r := Email(strings.TrimSpace(s))
		return r, r.Validate()
	}
	var r Recipient
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "email":
		r = Email(strings.TrimSpace(value))
	case "sms", "phone":
		r = SMS(strings.TrimSpace(value))
	case "user":
		r = User(strings.TrimSpace(value))
	default:
		return Recipient{}, apperrors.Wrapf(apperrors.ErrInvalidRecipient, "unknown recipient type %q", kind)
	}
	return r, r.Validate()
}

func (r Recipient) String() string {
	return r.Value
}

func (r Recipient) Validate() error {
	if r.Value == "" {
		return apperrors.Wrapf(apperrors.ErrInvalidRecipient, "empty %s recipient", r.Kind)
	}
	switch r.Kind {
	case RecipientEmail:
		if _, err := mail.ParseAddress(r.Value); err != nil {
			return apperrors.Wrapf(apperrors.ErrInvalidRecipient, "invalid email %q", r.Value)
		}
		return nil
	case RecipientSMS, RecipientUser:
		return nil
	default:
		return apperrors.Wrapf(apperrors.ErrInvalidRecipient, "unknown recipient kind %d", r.Kind)
	}
}

type recipientJSON struct {
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	UserID      string `json:"userId,omitempty"`
}

func (r Recipient) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case RecipientEmail:
		return json.Marshal(recipientJSON{Email: r.Value})
	case RecipientSMS:
		return json.Marshal(recipientJSON{PhoneNumber: r.Value})
	case RecipientUser:
		return json.Marshal(recipientJSON{UserID: r.Value})
	default:
		return nil, apperrors.Wrapf(apperrors.ErrInvalidRecipient, "unknown recipient kind %d", r.Kind)
	}
}

// UnmarshalJSON requires exactly one of email, phoneNumber or userId.
func (r *Recipient) UnmarshalJSON(data []byte) error {
	var raw recipientJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var found []Recipient
	if raw.Email != "" {
		found = append(found, Email(raw.Email))
	}
	if raw.PhoneNumber != "" {
		found = append(found, SMS(raw.PhoneNumber))
	}
	if raw.UserID != "" {
		found = append(found, User(raw.UserID))
	}
	if len(found) != 1 {
		return apperrors.Wrapf(apperrors.ErrInvalidRecipient, "expected exactly one of email, phoneNumber or userId in %s", data)
	}
	*r = found[0]
	return nil
}
