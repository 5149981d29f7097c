package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	conv:t:<created ms, 16 digits>:<id>  -> msgpack record
//	conv:i:<id>                          -> time key of the record
var (
	timePrefix = []byte("conv:t:")
	idPrefix   = []byte("conv:i:")
)

func timeKey(c *Conversation) []byte {
	return fmt.Appendf(nil, "%s%016d:%s", timePrefix, c.CreatedAt.Time().UnixMilli(), c.ID)
}

func idKey(id string) []byte {
	return append(append([]byte(nil), idPrefix...), id...)
}

// Badger is a Store backed by BadgerDB v4.
type Badger struct {
	db  *badger.DB
	now func() time.Time
}

// BadgerOptions configures the Badger store.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless
	// InMemory is set.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool

	// Logger receives badger warnings and errors. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewBadger opens a Badger store.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("conversation: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("conversation: open badger: %w", err)
	}
	return &Badger{db: db, now: time.Now}, nil
}

func (b *Badger) Save(_ context.Context, c *Conversation) error {
	prepare(c, b.now)
	data, err := encode(c)
	if err != nil {
		return fmt.Errorf("conversation: encode: %w", err)
	}
	tk := timeKey(c)
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(c.ID))
		switch {
		case err == nil:
			old, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Delete(old); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if err := txn.Set(tk, data); err != nil {
			return err
		}
		return txn.Set(idKey(c.ID), tk)
	})
}

func (b *Badger) List(_ context.Context) ([]Conversation, error) {
	out := []Conversation{}
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Reverse = true
		iterOpts.Prefix = timePrefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		seek := append(append([]byte(nil), timePrefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(timePrefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			c, err := decode(val)
			if err != nil {
				return fmt.Errorf("conversation: decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, *c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Badger) Get(_ context.Context, id string) (*Conversation, error) {
	var c *Conversation
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if err != nil {
			return err
		}
		tk, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(tk)
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		c, err = decode(val)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger warnings and errors to slog and drops the
// chatty info and debug output.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(f string, v ...any)   { b.l.Error("badger: " + fmt.Sprintf(f, v...)) }
func (b badgerLogger) Warningf(f string, v ...any) { b.l.Warn("badger: " + fmt.Sprintf(f, v...)) }
func (badgerLogger) Infof(string, ...any)          {}
func (badgerLogger) Debugf(string, ...any)         {}
