package store

import (
	"time"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

// record is the serialised form used by the key-value backend.
type record struct {
	ID         string  `json:"id"`
	Message    string  `json:"message"`
	Username   string  `json:"username"`
	ProfilePic *string `json:"profilePic,omitempty"`
	Image      *string `json:"image,omitempty"`
	Date       int64   `json:"date"`
}

func toRecord(m chat.Message) record {
	return record{
		ID:         m.ID,
		Message:    m.Message,
		Username:   m.Username,
		ProfilePic: m.ProfilePic,
		Image:      m.Image,
		Date:       m.Date.UnixNano(),
	}
}

func (r record) message() chat.Message {
	return chat.Message{
		ID:         r.ID,
		Message:    r.Message,
		Username:   r.Username,
		ProfilePic: r.ProfilePic,
		Image:      r.Image,
		Date:       time.Unix(0, r.Date).UTC(),
	}
}
