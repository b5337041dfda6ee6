package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/pubsub"
	"github.com/zhouzirui/z-chat/backend/internal/store"
)

// TopicMessageAdded is the bus topic every successful AddMessage publishes on.
const TopicMessageAdded = "MESSAGE_ADDED"

var validate = validator.New()

// InvalidInputError reports a rejected addMessage call together with the values the client sent.
type InvalidInputError struct {
	Reason string
	Args   map[string]any
}

func (e *InvalidInputError) Error() string {
	return e.Reason
}

// Service binds the message store and the event bus.
type Service struct {
	store store.Store
	bus   *pubsub.Bus
	now   func() time.Time
	log   zerolog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires a Service over an opened store and a running bus.
func NewService(st store.Store, bus *pubsub.Bus, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store: st,
		bus:   bus,
		now:   time.Now,
		log:   log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListMessages returns every stored message in store order.
func (s *Service) ListMessages(ctx context.Context) ([]chat.Message, error) {
	messages, err := s.store.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	return messages, nil
}

// AddMessage validates input, stamps the date, persists the record and then
// publishes it on TopicMessageAdded.
//
// Persisting and publishing are two separate steps: if the process dies in
// between, the record is kept but no subscriber hears about it.
func (s *Service) AddMessage(ctx context.Context, input chat.NewMessage) (chat.Message, error) {
	if err := validate.Struct(input); err != nil {
		return chat.Message{}, &InvalidInputError{Reason: describe(err), Args: input.Args()}
	}

	record := chat.Message{
		Message:    input.Message,
		Username:   input.Username,
		ProfilePic: lo.EmptyableToPtr(lo.FromPtr(input.ProfilePic)),
		Image:      lo.EmptyableToPtr(lo.FromPtr(input.Image)),
		Date:       s.now().UTC().Truncate(time.Millisecond),
	}

	stored, err := s.store.Insert(ctx, record)
	if err != nil {
		if errors.Is(err, store.ErrConstraint) {
			return chat.Message{}, &InvalidInputError{Reason: err.Error(), Args: input.Args()}
		}
		return chat.Message{}, fmt.Errorf("add message: %w", err)
	}

	delivered := s.bus.Publish(TopicMessageAdded, stored)
	s.log.Debug().
		Str("id", stored.ID).
		Str("username", stored.Username).
		Int("subscribers", delivered).
		Msg("message added")

	return stored, nil
}

// SubscribeMessages streams messages added after the call, until ctx is done.
// The returned channel is closed when the stream ends.
func (s *Service) SubscribeMessages(ctx context.Context) <-chan chat.Message {
	sub := s.bus.Subscribe(ctx, TopicMessageAdded)
	out := make(chan chat.Message)

	go func() {
		defer close(out)
		defer sub.Close()

		for payload := range sub.C() {
			m, ok := payload.(chat.Message)
			if !ok {
				s.log.Warn().Str("type", fmt.Sprintf("%T", payload)).Msg("unexpected payload on message topic")
				continue
			}
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// describe turns validator output into a short client-facing reason.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	reasons := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := lo.CamelCase(fe.Field())
		switch fe.Tag() {
		case "required":
			reasons = append(reasons, fmt.Sprintf("%s is required", field))
		default:
			reasons = append(reasons, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return "Message validation failed: " + strings.Join(reasons, ", ")
}
