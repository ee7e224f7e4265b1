// Package badgerrepo persists the session token in an embedded BadgerDB.
package badgerrepo

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/jrsteele09/go-coach-engine/credentials"
	"github.com/rs/zerolog"
)

var tokenKey = []byte("session/token")

var _ credentials.Repo = (*Repo)(nil)

// Config holds the BadgerDB settings for the credential repo.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM, for tests.
	InMemory bool

	// Logger receives BadgerDB's internal messages. Nil disables them.
	Logger *zerolog.Logger
}

// Repo is a credentials.Repo backed by BadgerDB.
type Repo struct {
	db *badger.DB
}

// Open opens (creating if needed) the credential database.
// Callers must Close the returned repo.
func Open(cfg Config) (*Repo, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("[badgerrepo Open] path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("[badgerrepo Open] create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: *cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("[badgerrepo Open] %w", err)
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Get() (string, error) {
	var token string
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tokenKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			token = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", credentials.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("[badgerrepo Get] %w", err)
	}
	return token, nil
}

func (r *Repo) Put(token string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tokenKey, []byte(token))
	})
}

func (r *Repo) Delete() error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(tokenKey)
	})
}

func (r *Repo) Close() error {
	return r.db.Close()
}

// badgerLogger adapts zerolog to BadgerDB's Logger interface.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}
