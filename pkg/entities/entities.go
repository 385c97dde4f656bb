// Package entities reads and writes whole entities of the entities space.
// Reads are materialized with one level of linked resources and cached
// until a committed transaction touches them.
package entities

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ha1tch/olu-graph/pkg/auth"
	"github.com/ha1tch/olu-graph/pkg/cache"
	"github.com/ha1tch/olu-graph/pkg/events"
	"github.com/ha1tch/olu-graph/pkg/models"
	"github.com/ha1tch/olu-graph/pkg/ntriples"
	"github.com/ha1tch/olu-graph/pkg/query"
	"github.com/ha1tch/olu-graph/pkg/storage"
	"github.com/ha1tch/olu-graph/pkg/validation"
)

const (
	// DefaultListLimit caps List when no limit is configured
	DefaultListLimit = 1000
	// DefaultConcurrency bounds parallel materialization in List
	DefaultConcurrency = 8
)

// Service implements entity reads, queries and bulk stores
type Service struct {
	store       storage.Store
	cache       cache.Cache
	ttl         time.Duration
	publisher   events.Publisher
	logger      zerolog.Logger
	maxList     int
	concurrency int
	genid       string

	// keeps fills of materialized entities behind invalidations
	guard cache.Guard
}

// Option configures a Service
type Option func(*Service)

// WithCache caches materialized entities for ttl (0 uses the cache default)
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.ttl = ttl
	}
}

// WithPublisher sets the event publisher for Store
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithListLimit caps the number of entities List returns
func WithListLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxList = n
		}
	}
}

// WithConcurrency bounds parallel reads in List
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithGenidNamespace sets where blank nodes of stored entities are minted
func WithGenidNamespace(ns string) Option {
	return func(s *Service) { s.genid = ns }
}

// NewService creates an entity service over the entities space
func NewService(store storage.Store, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:       store,
		publisher:   events.Discard{},
		logger:      logger,
		maxList:     DefaultListLimit,
		concurrency: DefaultConcurrency,
		genid:       models.JoinNamespace(models.DefaultEntitiesNamespace, "genid/"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cacheKey(id models.IRI) string {
	return "entity:" + string(id)
}

// Get returns the entity with its embedded linked resources
func (s *Service) Get(ctx context.Context, id models.IRI, principal auth.Principal) (*models.Entity, error) {
	if err := principal.Require(auth.Application); err != nil {
		return nil, err
	}
	if err := validation.ValidateIRI(id); err != nil {
		return nil, err
	}
	return s.get(ctx, id)
}

func (s *Service) get(ctx context.Context, id models.IRI) (*models.Entity, error) {
	if s.cache != nil {
		if cached, err := cache.GetJSON[*models.Entity](ctx, s.cache, cacheKey(id)); err == nil && cached != nil {
			return cached, nil
		}
	}

	ticket := s.guard.Ticket(cacheKey(id))
	entity, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errors.Wrapf(models.ErrEntityNotFound, "<%s>", id)
		}
		return nil, err
	}

	if s.cache != nil {
		if _, err := s.guard.FillJSON(ctx, s.cache, cacheKey(id), entity, s.ttl, ticket); err != nil {
			s.logger.Warn().Err(err).Str("entity", string(id)).Msg("Failed to cache entity")
		}
	}
	return entity, nil
}

// List returns up to limit entities typed local:Entity. A non-positive limit,
// or one above the configured cap, is clamped to the cap.
func (s *Service) List(ctx context.Context, limit int, principal auth.Principal) ([]*models.Entity, error) {
	if err := principal.Require(auth.Application); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.maxList {
		limit = s.maxList
	}

	s.logger.Debug().Int("limit", limit).Msg("Listing entities")

	n := query.Var("n")
	q := query.Select(n).Where(n.IsA(models.LocalEntity)).Limit(limit)
	bindings, err := query.Collect(s.store.Query(ctx, q))
	if err != nil {
		return nil, err
	}

	out := make([]*models.Entity, len(bindings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, b := range bindings {
		id := b.IRI("n")
		g.Go(func() error {
			entity, err := s.get(gctx, id)
			if errors.Is(err, models.ErrEntityNotFound) {
				// removed since the listing query
				return nil
			}
			if err != nil {
				return err
			}
			out[i] = entity
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entities := out[:0]
	for _, e := range out {
		if e != nil {
			entities = append(entities, e)
		}
	}
	return entities, nil
}

// QueryValues evaluates a select query against the entities space
func (s *Service) QueryValues(ctx context.Context, q *query.SelectQuery, principal auth.Principal) iter.Seq2[query.Binding, error] {
	return func(yield func(query.Binding, error) bool) {
		if err := principal.Require(auth.Application); err != nil {
			yield(nil, err)
			return
		}
		s.logger.Debug().Stringer("query", q).Msg("Querying values")
		for b, err := range s.store.Query(ctx, q) {
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

// QueryGraph evaluates a construct query and returns the resulting graph
func (s *Service) QueryGraph(ctx context.Context, q *query.ConstructQuery, principal auth.Principal) ([]models.Statement, error) {
	if err := principal.Require(auth.Application); err != nil {
		return nil, err
	}
	s.logger.Debug().Stringer("query", q).Msg("Querying graph")

	var out []models.Statement
	for st, err := range s.store.Construct(ctx, q) {
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Store writes every statement of every entity in one transaction. Blank
// nodes are minted into identifiers shared across the batch. Each entity id
// is marked affected even when it contributes no statement.
func (s *Service) Store(ctx context.Context, batch []*models.Entity, principal auth.Principal) (*storage.Transaction, error) {
	if err := principal.Require(auth.Application); err != nil {
		return nil, err
	}

	skolem := ntriples.NewSkolemizer(s.genid)
	tx := storage.NewTransaction()
	for _, entity := range batch {
		if err := validation.ValidateIRI(entity.ID); err != nil {
			return nil, err
		}
		if err := tx.MarkAffected(entity.ID); err != nil {
			return nil, err
		}
		for _, st := range entity.Statements() {
			minted, err := skolem.Statement(ntriples.Triple{Subject: models.NewLink(st.Subject), Predicate: st.Predicate, Object: st.Object})
			if err != nil {
				return nil, err
			}
			normalized, err := validation.NormalizeStatement(minted)
			if err != nil {
				return nil, errors.Wrapf(err, "entity <%s>", entity.ID)
			}
			if err := tx.AddStatement(normalized); err != nil {
				return nil, err
			}
		}
	}

	s.logger.Debug().Int("entities", len(batch)).Int("statements", len(tx.Added())).Msg("Storing entities")

	committed, err := s.store.Commit(ctx, tx, principal)
	if err != nil {
		s.logger.Warn().Err(err).Str("tx", tx.ID).Msg("Rolled back entity store")
		return nil, err
	}
	if !committed.IsEmpty() {
		s.publisher.Publish(ctx, events.Event{Kind: events.EntitiesStored, Space: s.store.Name(), Transaction: committed})
	}
	return committed, nil
}

// StoreDocument decodes an N-Triples or JSON document and stores the
// statements grouped by subject in one transaction
func (s *Service) StoreDocument(ctx context.Context, r io.Reader, mimeType string, principal auth.Principal) (*storage.Transaction, error) {
	if err := principal.Require(auth.Application); err != nil {
		return nil, err
	}
	triples, err := ntriples.Decode(r, mimeType)
	if err != nil {
		return nil, err
	}
	statements, err := ntriples.NewSkolemizer(s.genid).Statements(triples)
	if err != nil {
		return nil, err
	}

	bySubject := make(map[models.IRI]*models.Entity)
	var batch []*models.Entity
	for _, st := range statements {
		e, ok := bySubject[st.Subject]
		if !ok {
			e = models.NewEntity(st.Subject)
			bySubject[st.Subject] = e
			batch = append(batch, e)
		}
		e.With(st)
	}
	return s.Store(ctx, batch, principal)
}

// Invalidate drops cached entities touched by e. Resources that link to an
// affected one embed its statements, so they are dropped too.
func (s *Service) Invalidate(ctx context.Context, e events.Event) {
	if s.cache == nil || e.Space != s.store.Name() {
		return
	}
	if e.Transaction == nil {
		s.flush(ctx, string(e.Kind))
		return
	}

	var ids []models.IRI
	for _, id := range e.Transaction.Affected() {
		ids = append(ids, id)
		link := models.NewLink(id)
		referrers, err := s.store.Statements(ctx, models.Pattern{Object: &link})
		if err != nil {
			s.logger.Warn().Err(err).Str("entity", string(id)).Msg("Failed to find referrers, flushing entity cache")
			s.flush(ctx, string(e.Kind))
			return
		}
		for _, st := range referrers {
			ids = append(ids, st.Subject)
		}
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cacheKey(id)
	}
	_ = s.guard.Invalidate(keys, func() error {
		for _, id := range ids {
			if err := s.cache.Delete(ctx, cacheKey(id)); err != nil {
				s.logger.Warn().Err(err).Str("entity", string(id)).Msg("Failed to evict entity")
			}
		}
		return nil
	})
}

func (s *Service) flush(ctx context.Context, kind string) {
	err := s.guard.InvalidateAll(func() error {
		return s.cache.DeletePattern(ctx, "entity:*")
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("kind", kind).Msg("Failed to flush entity cache")
	}
}

// Subscribe keeps the entity cache coherent with committed transactions
func (s *Service) Subscribe(bus *events.Bus) {
	bus.Subscribe(s.Invalidate)
}
