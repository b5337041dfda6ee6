package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

const (
	mongoCollection = "messages"

	// server error codes
	mongoNamespaceExists    = 48
	mongoValidationFailed   = 121
	mongoConnectTimeout     = 10 * time.Second
	mongoDisconnectDeadline = 5 * time.Second
)

type mongoDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Message    string             `bson:"message"`
	Username   string             `bson:"username"`
	ProfilePic *string            `bson:"profilePic,omitempty"`
	Image      *string            `bson:"image,omitempty"`
	Date       time.Time          `bson:"date"`
}

func (d mongoDocument) message() chat.Message {
	return chat.Message{
		ID:         d.ID.Hex(),
		Message:    d.Message,
		Username:   d.Username,
		ProfilePic: d.ProfilePic,
		Image:      d.Image,
		Date:       d.Date.UTC(),
	}
}

// MongoStore persists messages in a MongoDB collection. IDs are ObjectIDs.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    zerolog.Logger
}

// OpenMongo creates a client for uri. The driver connects lazily, so an
// unreachable server is reported asynchronously and surfaces on the first call.
func OpenMongo(ctx context.Context, uri, database string, log zerolog.Logger) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("configure mongo client: %w", err)
	}

	s := &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(mongoCollection),
		log:    log,
	}

	go s.verify(context.WithoutCancel(ctx))

	return s, nil
}

// verify pings the server and installs the collection validator.
func (s *MongoStore) verify(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		s.log.Error().Err(err).Msg("mongo connection failed")
		return
	}
	s.log.Info().Str("database", s.coll.Database().Name()).Msg("connected to MongoDB")

	if err := s.ensureCollection(ctx); err != nil {
		s.log.Warn().Err(err).Msg("mongo collection validator not installed")
	}
}

func (s *MongoStore) ensureCollection(ctx context.Context) error {
	validator := bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"message", "username", "date"},
			"properties": bson.M{
				"message":  bson.M{"bsonType": "string", "minLength": 1},
				"username": bson.M{"bsonType": "string", "minLength": 1},
				"date":     bson.M{"bsonType": "date"},
			},
		},
	}

	err := s.coll.Database().CreateCollection(ctx, mongoCollection, options.CreateCollection().SetValidator(validator))
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == mongoNamespaceExists {
		return nil
	}
	return err
}

func (s *MongoStore) Insert(ctx context.Context, m chat.Message) (chat.Message, error) {
	if err := checkRecord(m); err != nil {
		return chat.Message{}, err
	}

	doc := mongoDocument{
		Message:    m.Message,
		Username:   m.Username,
		ProfilePic: m.ProfilePic,
		Image:      m.Image,
		Date:       m.Date,
	}

	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		var we mongo.WriteException
		if errors.As(err, &we) && hasWriteCode(we, mongoValidationFailed) {
			return chat.Message{}, fmt.Errorf("%w: %v", ErrConstraint, err)
		}
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}

	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return chat.Message{}, fmt.Errorf("insert message: unexpected id type %T", res.InsertedID)
	}
	m.ID = id.Hex()

	return m, nil
}

func (s *MongoStore) FindAll(ctx context.Context) ([]chat.Message, error) {
	cur, err := s.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cur.Close(ctx)

	var docs []mongoDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	messages := make([]chat.Message, 0, len(docs))
	for _, d := range docs {
		messages = append(messages, d.message())
	}
	return messages, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectDeadline)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func hasWriteCode(we mongo.WriteException, code int) bool {
	for _, e := range we.WriteErrors {
		if e.Code == code {
			return true
		}
	}
	return false
}
