package chat

import (
	"encoding/json"
	"strconv"
	"time"
)

// Message is a single chat line as persisted by the store.
type Message struct {
	ID         string
	Message    string
	Username   string
	ProfilePic *string
	Image      *string
	Date       time.Time
}

// NewMessage carries the client-supplied fields of an addMessage call.
// Date is never part of the input.
type NewMessage struct {
	Message    string  `json:"message" validate:"required"`
	Username   string  `json:"username" validate:"required"`
	ProfilePic *string `json:"profilePic,omitempty"`
	Image      *string `json:"image,omitempty"`
}

// Args echoes the input back in the shape the client sent it.
func (n NewMessage) Args() map[string]any {
	args := map[string]any{
		"message":  n.Message,
		"username": n.Username,
	}
	if n.ProfilePic != nil {
		args["profilePic"] = *n.ProfilePic
	}
	if n.Image != nil {
		args["image"] = *n.Image
	}
	return args
}

// DateString renders Date as epoch milliseconds.
func (m Message) DateString() string {
	return FormatDate(m.Date)
}

// FormatDate renders t as a decimal count of milliseconds since the Unix epoch.
func FormatDate(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// ParseDate is the inverse of FormatDate.
func ParseDate(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Fields returns the wire representation shared by GraphQL and REST.
func (m Message) Fields() map[string]any {
	return map[string]any{
		"id":         m.ID,
		"message":    m.Message,
		"username":   m.Username,
		"profilePic": m.ProfilePic,
		"image":      m.Image,
		"date":       m.DateString(),
	}
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Fields())
}
