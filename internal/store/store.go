// Package store persists chat messages. The backend is chosen by the scheme of
// the configured connection string.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

var (
	// ErrUnavailable is returned by every call on a store that could not be opened.
	ErrUnavailable = errors.New("message store unavailable")
	// ErrConstraint marks records the backend refused for schema reasons.
	ErrConstraint = errors.New("message violates store constraints")
)

// Store is the persistence collaborator behind the chat service.
type Store interface {
	// Insert persists m and returns it with its store-assigned ID.
	Insert(ctx context.Context, m chat.Message) (chat.Message, error)
	// FindAll returns every record in the backend's natural order.
	FindAll(ctx context.Context) ([]chat.Message, error)
	Close() error
}

// checkRecord enforces the schema every backend shares: message, username and date are mandatory.
func checkRecord(m chat.Message) error {
	switch {
	case m.Message == "":
		return fmt.Errorf("%w: message is required", ErrConstraint)
	case m.Username == "":
		return fmt.Errorf("%w: username is required", ErrConstraint)
	case m.Date.IsZero():
		return fmt.Errorf("%w: date is required", ErrConstraint)
	}
	return nil
}

// unavailable stands in for a backend that failed to open so the server can still listen.
type unavailable struct {
	cause error
}

// Unavailable returns a Store whose every operation fails with ErrUnavailable wrapping cause.
func Unavailable(cause error) Store {
	return unavailable{cause: cause}
}

func (u unavailable) err() error {
	if u.cause == nil {
		return ErrUnavailable
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, u.cause)
}

func (u unavailable) Insert(context.Context, chat.Message) (chat.Message, error) {
	return chat.Message{}, u.err()
}

func (u unavailable) FindAll(context.Context) ([]chat.Message, error) {
	return nil, u.err()
}

func (u unavailable) Close() error { return nil }
