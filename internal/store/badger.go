package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const keyPrefix = "game/"

func gameKey(id string) []byte {
	return []byte(keyPrefix + id)
}

// BadgerStore keeps game records as JSON documents in BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger

	// writeMu orders commits and their notifications so subscribers never see
	// an older snapshot after a newer one.
	writeMu sync.Mutex

	subsMu sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch chan Record
}

// push replaces any snapshot the reader has not taken yet.
func (s *subscriber) push(r Record) {
	for {
		select {
		case s.ch <- r:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

// OpenBadger opens the store in dir, or in memory when dir is empty.
func OpenBadger(dir string, logger *zap.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("store")

	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = badgerLogger{logger.WithOptions(zap.IncreaseLevel(zap.WarnLevel)).Sugar()}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}
	return &BadgerStore{
		db:     db,
		logger: logger,
		subs:   make(map[string]map[*subscriber]struct{}),
	}, nil
}

func (s *BadgerStore) Create(ctx context.Context, r Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	now := time.Now().UTC()
	r = r.clone()
	r.ID = uuid.New().String()
	r.Version = 1
	r.CreatedAt, r.UpdatedAt = now, now

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.db.Update(func(txn *badger.Txn) error {
		return put(txn, r)
	}); err != nil {
		return Record{}, errors.Wrap(err, "create game")
	}
	s.logger.Debug("game created", zap.String("game_id", r.ID))
	return r, nil
}

func (s *BadgerStore) Get(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	var r Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		r, err = get(txn, id)
		return err
	})
	return r, err
}

func (s *BadgerStore) Find(ctx context.Context, f Filter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := []Record{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var r Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return errors.Wrapf(err, "decode %s", it.Item().Key())
			}
			if f.Match(r) {
				records = append(records, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func (s *BadgerStore) Update(ctx context.Context, id string, u Update) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var updated Record
	err := s.db.Update(func(txn *badger.Txn) error {
		r, err := get(txn, id)
		if err != nil {
			return err
		}
		if u.Guard != nil {
			if err := u.Guard(r); err != nil {
				return err
			}
		}
		u.apply(&r)
		r.Version++
		r.UpdatedAt = time.Now().UTC()
		updated = r
		return put(txn, r)
	})
	if err != nil {
		return Record{}, err
	}
	s.notify(updated)
	return updated, nil
}

// Subscribe delivers the current record and then every later write of it.
// The first read and the registration happen under writeMu, so no commit can
// fall between them.
func (s *BadgerStore) Subscribe(ctx context.Context, id string) (<-chan Record, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sub := &subscriber{ch: make(chan Record, 1)}

	s.subsMu.Lock()
	if s.closed {
		s.subsMu.Unlock()
		return nil, ErrClosed
	}
	if s.subs[id] == nil {
		s.subs[id] = make(map[*subscriber]struct{})
	}
	s.subs[id][sub] = struct{}{}
	sub.push(current)
	s.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if _, ok := s.subs[id][sub]; !ok {
			return
		}
		delete(s.subs[id], sub)
		if len(s.subs[id]) == 0 {
			delete(s.subs, id)
		}
		close(sub.ch)
	}()
	return sub.ch, nil
}

func (s *BadgerStore) notify(r Record) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subs[r.ID] {
		sub.push(r.clone())
	}
}

// Close ends every subscription and closes the database.
func (s *BadgerStore) Close() error {
	s.subsMu.Lock()
	s.closed = true
	for id, subs := range s.subs {
		for sub := range subs {
			close(sub.ch)
		}
		delete(s.subs, id)
	}
	s.subsMu.Unlock()

	var errs error
	if !s.db.Opts().InMemory {
		if err := s.db.Sync(); err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "sync"))
		}
	}
	if err := s.db.Close(); err != nil {
		errs = multierror.Append(errs, errors.Wrap(err, "close"))
	}
	return errs
}

func get(txn *badger.Txn, id string) (Record, error) {
	var r Record
	item, err := txn.Get(gameKey(id))
	if err == badger.ErrKeyNotFound {
		return r, errors.Wrapf(ErrNotFound, "game %s", id)
	}
	if err != nil {
		return r, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	})
	return r, errors.Wrapf(err, "decode game %s", id)
}

func put(txn *badger.Txn, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return txn.Set(gameKey(r.ID), data)
}

// badgerLogger routes badger's own logging through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}
