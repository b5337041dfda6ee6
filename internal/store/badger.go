package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

const (
	badgerPrefix   = "msg:"
	badgerSeqKey   = "seq:msg"
	badgerSeqLease = 128
)

// BadgerStore persists messages in an embedded BadgerDB directory.
//
// Keys are "msg:{sequence 19 digits}" so a prefix scan yields insertion order.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	log zerolog.Logger
}

// OpenBadger opens (or creates) a BadgerDB at dir.
func OpenBadger(dir string, log zerolog.Logger) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}

	seq, err := db.GetSequence([]byte(badgerSeqKey), badgerSeqLease)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("acquire message sequence: %w", err)
	}

	return &BadgerStore{db: db, seq: seq, log: log}, nil
}

func (s *BadgerStore) Insert(_ context.Context, m chat.Message) (chat.Message, error) {
	if err := checkRecord(m); err != nil {
		return chat.Message{}, err
	}

	n, err := s.seq.Next()
	if err != nil {
		return chat.Message{}, fmt.Errorf("next message sequence: %w", err)
	}

	m.ID = uuid.NewString()
	value, err := json.Marshal(toRecord(m))
	if err != nil {
		return chat.Message{}, fmt.Errorf("encode message: %w", err)
	}

	key := fmt.Sprintf("%s%019d", badgerPrefix, n)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message %s: %w", m.ID, err)
	}

	return m, nil
}

func (s *BadgerStore) FindAll(_ context.Context) ([]chat.Message, error) {
	var messages []chat.Message

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(badgerPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var r record
				if err := json.Unmarshal(value, &r); err != nil {
					return err
				}
				messages = append(messages, r.message())
				return nil
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}

	return messages, nil
}

func (s *BadgerStore) Close() error {
	s.log.Info().Msg("closing badger")
	if err := s.seq.Release(); err != nil {
		s.log.Warn().Err(err).Msg("release message sequence")
	}
	return s.db.Close()
}
