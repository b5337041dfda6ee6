package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultDatabase is used when neither the config nor the Mongo URI names a database.
const DefaultDatabase = "chat"

// ErrNoDSN is returned by Open when no connection string was configured.
var ErrNoDSN = errors.New("database connection string is not configured")

// Open selects a backend from the scheme of dsn:
//
//	mongodb://..., mongodb+srv://...  MongoDB
//	badger://<dir>                    embedded BadgerDB
//	sqlite://<file>                   SQLite
//	memory://                         in-process, lost on exit
func Open(ctx context.Context, dsn, database string, log zerolog.Logger) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrNoDSN
	}

	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return nil, fmt.Errorf("database connection string %q has no scheme", Redact(dsn))
	}

	switch strings.ToLower(scheme) {
	case "mongodb", "mongodb+srv":
		if database == "" {
			database = mongoDatabase(dsn)
		}
		return OpenMongo(ctx, dsn, database, log.With().Str("backend", "mongo").Logger())
	case "badger":
		if rest == "" {
			return nil, errors.New("badger connection string needs a directory")
		}
		return OpenBadger(rest, log.With().Str("backend", "badger").Logger())
	case "sqlite", "sqlite3":
		if rest == "" {
			return nil, errors.New("sqlite connection string needs a file path")
		}
		return OpenSQLite(rest)
	case "memory", "mem":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", scheme)
	}
}

func mongoDatabase(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return DefaultDatabase
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return DefaultDatabase
}

// Redact drops credentials so connection strings can be logged.
func Redact(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}
