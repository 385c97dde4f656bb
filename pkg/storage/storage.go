package storage

import (
	"context"
	"io"
	"iter"

	"github.com/cockroachdb/errors"

	"github.com/ha1tch/olu-graph/pkg/auth"
	"github.com/ha1tch/olu-graph/pkg/models"
	"github.com/ha1tch/olu-graph/pkg/query"
)

var (
	// ErrNotFound is returned when a resource has no statements
	ErrNotFound = errors.New("resource not found")
	// ErrTransactionFinalized is returned when a committed transaction is mutated
	ErrTransactionFinalized = errors.New("transaction already committed")
	// ErrUnknownSpace is returned for a statement space that does not exist
	ErrUnknownSpace = errors.New("unknown statement space")
)

// Statement spaces
const (
	SpaceEntities     = "entities"
	SpaceApplications = "applications"
)

// Store is one statement space. Every call acquires its own connection and
// releases it before returning, on success and on failure.
type Store interface {
	// Get returns the statements of id plus those of every resource it links
	// to. ErrNotFound when id has no statements.
	Get(ctx context.Context, id models.IRI) (*models.Entity, error)

	// Statements returns every statement matching the pattern
	Statements(ctx context.Context, pattern models.Pattern) ([]models.Statement, error)

	// Query evaluates a select query lazily
	Query(ctx context.Context, q *query.SelectQuery) iter.Seq2[query.Binding, error]

	// Construct evaluates a construct query lazily
	Construct(ctx context.Context, q *query.ConstructQuery) iter.Seq2[models.Statement, error]

	// Exists reports whether id has any statement
	Exists(ctx context.Context, id models.IRI) (bool, error)

	// Type returns the rdf:type of id. ErrDuplicateType when several exist.
	Type(ctx context.Context, id models.IRI) (models.Value, bool, error)

	// Commit applies tx atomically and finalizes it
	Commit(ctx context.Context, tx *Transaction, principal auth.Principal) (*Transaction, error)

	// Import adds every statement read from r in one commit
	Import(ctx context.Context, r io.Reader, mimeType string) (int, error)

	// Export writes every statement of the space as N-Triples
	Export(ctx context.Context, w io.Writer) (int, error)

	// Reset removes every statement of the space
	Reset(ctx context.Context) error

	// Name returns the statement space
	Name() string

	Close() error
}

// StoreInfo provides metadata about the store implementation
type StoreInfo struct {
	Type  string // "sqlite", "memory"
	Space string
}

// InfoProvider allows stores to provide metadata about their capabilities
type InfoProvider interface {
	Info() StoreInfo
}

// typeOf implements Store.Type over Statements
func typeOf(ctx context.Context, s Store, id models.IRI) (models.Value, bool, error) {
	types, err := s.Statements(ctx, models.Pattern{Subject: id, Predicate: models.RDFType})
	if err != nil {
		return models.Value{}, false, err
	}
	switch len(types) {
	case 0:
		return models.Value{}, false, nil
	case 1:
		return types[0].Object, true, nil
	default:
		return models.Value{}, false, errors.Wrapf(models.ErrDuplicateType, "<%s> has %d types", id, len(types))
	}
}

// materialize builds the entity of id from its own statements and one hop
// of linked resources
func materialize(ctx context.Context, s Store, id models.IRI) (*models.Entity, error) {
	own, err := s.Statements(ctx, models.Pattern{Subject: id})
	if err != nil {
		return nil, err
	}
	if len(own) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "<%s>", id)
	}
	entity := models.NewEntity(id).With(own...)
	for _, target := range entity.Links() {
		linked, err := s.Statements(ctx, models.Pattern{Subject: target})
		if err != nil {
			return nil, err
		}
		entity.With(linked...)
	}
	return entity, nil
}
