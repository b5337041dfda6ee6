// Package graph exposes the chat service as a GraphQL schema:
//
//	type Query        { allMessages: [Message!]! }
//	type Mutation     { addMessage(message: String!, profilePic: String, username: String!, image: String): Message }
//	type Subscription { messageAdded: Message! }
package graph

import (
	"context"
	"errors"

	"github.com/graphql-go/graphql"
	"github.com/samber/lo"

	model "github.com/zhouzirui/z-chat/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/z-chat/backend/internal/service/chat"
)

// Schema is the executable chat schema.
type Schema struct {
	schema graphql.Schema
	svc    *chatservice.Service
}

// NewSchema builds the schema with resolvers bound to svc.
func NewSchema(svc *chatservice.Service) (*Schema, error) {
	s := &Schema{svc: svc}

	messageType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Message",
		Fields: graphql.Fields{
			"message":    &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"profilePic": &graphql.Field{Type: graphql.String},
			"username":   &graphql.Field{Type: graphql.String},
			"image":      &graphql.Field{Type: graphql.String},
			"date":       &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"id":         &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		},
	})

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"allMessages": &graphql.Field{
				Type:    graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(messageType))),
				Resolve: s.resolveAllMessages,
			},
		},
	})

	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"addMessage": &graphql.Field{
				Type: messageType,
				Args: graphql.FieldConfigArgument{
					"message":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"profilePic": &graphql.ArgumentConfig{Type: graphql.String},
					"username":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"image":      &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: s.resolveAddMessage,
			},
		},
	})

	subscription := graphql.NewObject(graphql.ObjectConfig{
		Name: "Subscription",
		Fields: graphql.Fields{
			"messageAdded": &graphql.Field{
				Type:      graphql.NewNonNull(messageType),
				Subscribe: s.subscribeMessageAdded,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source, nil
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query:        query,
		Mutation:     mutation,
		Subscription: subscription,
	})
	if err != nil {
		return nil, err
	}
	s.schema = schema
	return s, nil
}

func (s *Schema) resolveAllMessages(p graphql.ResolveParams) (interface{}, error) {
	messages, err := s.svc.ListMessages(p.Context)
	if err != nil {
		return nil, err
	}
	return lo.Map(messages, func(m model.Message, _ int) map[string]interface{} {
		return toGraph(m)
	}), nil
}

func (s *Schema) resolveAddMessage(p graphql.ResolveParams) (interface{}, error) {
	input := model.NewMessage{
		Message:    stringArg(p.Args, "message"),
		Username:   stringArg(p.Args, "username"),
		ProfilePic: optionalArg(p.Args, "profilePic"),
		Image:      optionalArg(p.Args, "image"),
	}

	stored, err := s.svc.AddMessage(p.Context, input)
	if err != nil {
		var invalid *chatservice.InvalidInputError
		if errors.As(err, &invalid) {
			return nil, UserInputError{Reason: invalid.Reason, InvalidArgs: invalid.Args}
		}
		return nil, err
	}
	return toGraph(stored), nil
}

// subscribeMessageAdded returns the event source graphql-go drives the
// subscription from. Each value becomes p.Source of the field resolver.
func (s *Schema) subscribeMessageAdded(p graphql.ResolveParams) (interface{}, error) {
	ctx := p.Context
	if ctx == nil {
		ctx = context.Background()
	}

	stream := s.svc.SubscribeMessages(ctx)
	events := make(chan interface{})
	go func() {
		defer close(events)
		for m := range stream {
			select {
			case events <- toGraph(m):
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func toGraph(m model.Message) map[string]interface{} {
	return map[string]interface{}{
		"id":         m.ID,
		"message":    m.Message,
		"username":   m.Username,
		"profilePic": nullable(m.ProfilePic),
		"image":      nullable(m.Image),
		"date":       m.DateString(),
	}
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func optionalArg(args map[string]interface{}, key string) *string {
	v, ok := args[key].(string)
	if !ok {
		return nil
	}
	return &v
}
