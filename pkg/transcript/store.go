package transcript

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kronktech/sully/pkg/jsontime"
)

var (
	// ErrEmptyID is returned by Create when the id is empty.
	ErrEmptyID = errors.New("transcript: empty id")

	// ErrDuplicateID is returned by Create when a record with the same id
	// already exists.
	ErrDuplicateID = errors.New("transcript: duplicate id")
)

// Store is the ordered, id-indexed sequence of records for one session.
//
// Records are kept in creation order. Metadata and translation updates merge
// into the record with the matching id and never reorder the sequence. The
// zero value is not usable; call NewStore.
type Store struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	records []*Record
	index   map[string]*Record
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used for merge diagnostics.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the function used to stamp CreatedAt.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		logger: slog.Default(),
		now:    time.Now,
		index:  make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create appends a new record for an utterance just observed.
func (s *Store) Create(id, text string) (Record, error) {
	if id == "" {
		return Record{}, ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; ok {
		return Record{}, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	r := &Record{
		ID:        id,
		Text:      text,
		CreatedAt: jsontime.Milli(s.now()),
	}
	s.records = append(s.records, r)
	s.index[id] = r
	return *r, nil
}

// AttachMetadata merges the classification result into the record with the
// given id and derives its role. It reports whether a record was updated; an
// unknown id leaves the store untouched and is logged.
func (s *Store) AttachMetadata(id string, code LanguageCode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.index[id]
	if !ok {
		s.logger.Warn("transcript: metadata for unknown record", "id", id, "languageCode", code)
		return false
	}
	r.LanguageCode = code
	r.Role = RoleFor(code)
	r.HasMetadata = true
	return true
}

// AttachTranslation merges the translated text into the record with the
// given id. It reports whether a record was updated; an unknown id leaves the
// store untouched and is logged.
func (s *Store) AttachTranslation(id, translation string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.index[id]
	if !ok {
		s.logger.Warn("transcript: translation for unknown record", "id", id)
		return false
	}
	r.Translation = translation
	r.HasTranslation = true
	return true
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.index[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Records returns a copy of every record in creation order, resolved or not.
func (s *Store) Records() []Record {
	return s.filter(func(Record) bool { return true })
}

// Completed returns a copy of every complete record in creation order.
// Display and summarization must read from this view only.
func (s *Store) Completed() []Record {
	return s.filter(Record.Complete)
}

func (s *Store) filter(keep func(Record) bool) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if keep(*r) {
			out = append(out, *r)
		}
	}
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Clear empties the store. It is called when a new session starts.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.index = make(map[string]*Record)
}

// Load replaces the whole sequence, e.g. with a persisted conversation.
// Records with an empty or repeated id are rejected.
func (s *Store) Load(records []Record) error {
	index := make(map[string]*Record, len(records))
	list := make([]*Record, 0, len(records))
	for i := range records {
		r := records[i]
		if r.ID == "" {
			return fmt.Errorf("load record %d: %w", i, ErrEmptyID)
		}
		if _, ok := index[r.ID]; ok {
			return fmt.Errorf("load record %d: %w: %s", i, ErrDuplicateID, r.ID)
		}
		index[r.ID] = &r
		list = append(list, &r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = list
	s.index = index
	return nil
}
