package storage

import (
	"context"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ha1tch/olu-graph/pkg/auth"
	"github.com/ha1tch/olu-graph/pkg/models"
	"github.com/ha1tch/olu-graph/pkg/query"
)

// MemoryStore keeps one statement space in process memory
type MemoryStore struct {
	mu             sync.RWMutex
	space          string
	genidNamespace string
	statements     []models.Statement
	index          map[string]int
	now            func() time.Time
}

// NewMemoryStore creates an empty in-memory space
func NewMemoryStore(space, genidNamespace string) *MemoryStore {
	if genidNamespace == "" {
		genidNamespace = models.DefaultEntitiesNamespace
	}
	return &MemoryStore{
		space:          space,
		genidNamespace: genidNamespace,
		index:          make(map[string]int),
		now:            time.Now,
	}
}

// Info returns store information
func (s *MemoryStore) Info() StoreInfo {
	return StoreInfo{Type: "memory", Space: s.space}
}

// Name returns the statement space
func (s *MemoryStore) Name() string {
	return s.space
}

// Get retrieves an entity and its one-hop neighbourhood
func (s *MemoryStore) Get(ctx context.Context, id models.IRI) (*models.Entity, error) {
	return materialize(ctx, s, id)
}

// Statements returns the statements matching pattern in insertion order
func (s *MemoryStore) Statements(ctx context.Context, pattern models.Pattern) ([]models.Statement, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "statement lookup interrupted")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Statement
	for _, st := range s.statements {
		if pattern.Matches(st) {
			out = append(out, st)
		}
	}
	return out, nil
}

// Query evaluates a select query against this space
func (s *MemoryStore) Query(ctx context.Context, q *query.SelectQuery) iter.Seq2[query.Binding, error] {
	return query.Evaluate(ctx, s, q)
}

// Construct evaluates a construct query against this space
func (s *MemoryStore) Construct(ctx context.Context, q *query.ConstructQuery) iter.Seq2[models.Statement, error] {
	return query.EvaluateConstruct(ctx, s, q)
}

// Exists checks if a resource has any statement
func (s *MemoryStore) Exists(ctx context.Context, id models.IRI) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.statements {
		if st.Subject == id {
			return true, nil
		}
	}
	return false, nil
}

// Type returns the single rdf:type of id
func (s *MemoryStore) Type(ctx context.Context, id models.IRI) (models.Value, bool, error) {
	return typeOf(ctx, s, id)
}

// Commit validates every removal before touching anything, so a failed
// commit leaves the space unchanged
func (s *MemoryStore) Commit(ctx context.Context, tx *Transaction, principal auth.Principal) (*Transaction, error) {
	if err := principal.Require(auth.Application); err != nil {
		return nil, err
	}
	if err := tx.begin(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "commit interrupted")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := tx.Removed()
	for _, st := range removed {
		if _, ok := s.index[st.Key()]; !ok {
			return nil, errors.Wrapf(models.ErrConcurrentModification, "statement %s no longer exists", st)
		}
	}

	if len(removed) > 0 {
		drop := make(map[string]bool, len(removed))
		for _, st := range removed {
			drop[st.Key()] = true
		}
		kept := s.statements[:0]
		for _, st := range s.statements {
			if !drop[st.Key()] {
				kept = append(kept, st)
			}
		}
		s.statements = kept
		s.reindex()
	}

	for _, st := range tx.Added() {
		if _, ok := s.index[st.Key()]; ok {
			continue
		}
		s.index[st.Key()] = len(s.statements)
		s.statements = append(s.statements, st)
	}

	if err := tx.finalize(principal.Subject, s.now().UTC()); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *MemoryStore) reindex() {
	s.index = make(map[string]int, len(s.statements))
	for i, st := range s.statements {
		s.index[st.Key()] = i
	}
}

// Import adds the statements read from r in one commit
func (s *MemoryStore) Import(ctx context.Context, r io.Reader, mimeType string) (int, error) {
	return importInto(ctx, s, s.genidNamespace, r, mimeType)
}

// Export writes the space as N-Triples
func (s *MemoryStore) Export(ctx context.Context, w io.Writer) (int, error) {
	return exportFrom(ctx, s, w)
}

// Reset removes every statement of the space
func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statements = nil
	s.index = make(map[string]int)
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
