// Package applications manages tenants and their API keys. Tenants live in
// their own statement space, apart from the entities they own.
package applications

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/ha1tch/olu-graph/pkg/auth"
	"github.com/ha1tch/olu-graph/pkg/cache"
	"github.com/ha1tch/olu-graph/pkg/events"
	"github.com/ha1tch/olu-graph/pkg/models"
	"github.com/ha1tch/olu-graph/pkg/query"
	"github.com/ha1tch/olu-graph/pkg/storage"
)

// MaxApplications caps GetApplications
const MaxApplications = 100

// RevocationMode selects what revoking a key does
type RevocationMode int

const (
	// RevocationSoft deactivates the key and records when
	RevocationSoft RevocationMode = iota
	// RevocationDelete removes the key statements entirely
	RevocationDelete
)

// Service implements the tenant store
type Service struct {
	store     storage.Store
	namespace string
	issuer    *auth.Issuer
	cache     cache.Cache
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time

	// serializes key generation and revocation
	writeMu sync.Mutex
	// keeps fills of resolved keys behind revocations
	guard cache.Guard
}

// Option configures a Service
type Option func(*Service)

// WithCache caches resolved API keys
func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithPublisher sets the event publisher
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a tenant store over the applications space
func NewService(store storage.Store, namespace string, issuer *auth.Issuer, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		namespace: namespace,
		issuer:    issuer,
		publisher: events.Discard{},
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateApplication registers a new tenant. The caller must present a grant
// for CapabilityManageTenants; a tenant-scoped principal can never obtain one.
func (s *Service) CreateApplication(ctx context.Context, label string, persistent bool, grant auth.Grant) (*Application, error) {
	if err := s.issuer.Verify(grant, auth.CapabilityManageTenants); err != nil {
		return nil, err
	}
	if label == "" {
		return nil, errors.Wrap(models.ErrInvalidRequest, "application label is required")
	}

	s.logger.Debug().Str("label", label).Bool("persistent", persistent).Msg("Creating a new application")

	key, err := models.GenerateKey(models.KeyLength)
	if err != nil {
		return nil, err
	}
	app := Application{
		IRI:        models.IdentifierFor(s.namespace, key).IRI(),
		Label:      label,
		Key:        key,
		Persistent: persistent,
	}

	tx := storage.NewTransaction()
	for _, st := range app.statements() {
		if err := tx.AddStatement(st); err != nil {
			return nil, err
		}
	}
	committed, err := s.store.Commit(ctx, tx, auth.SystemPrincipal(grant.Subject()))
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, events.Event{Kind: events.ApplicationCreated, Space: s.store.Name(), Transaction: committed})
	return &app, nil
}

// keyQuery selects every key matching keyID (when set) owned by the
// application with appKey (when set)
func keyQuery(keyID, appKey string) *query.SelectQuery {
	nodeKey, nodeApp := query.Var("n1"), query.Var("n2")
	keyNode, appKeyNode := query.Var("b"), query.Var("a")
	if keyID != "" {
		keyNode = query.String(keyID)
	}
	if appKey != "" {
		appKeyNode = query.String(appKey)
	}
	return query.Select().Where(
		nodeKey.Has(HasKey, keyNode).
			AndHas(HasLabel, query.Var("e")).
			AndHas(HasIssueDate, query.Var("c")).
			AndHas(IsActive, query.Var("d")).
			AndHas(OfApplication, nodeApp),
		nodeApp.Has(HasKey, appKeyNode).
			AndHas(IsPersistent, query.Var("f")).
			AndHas(HasLabel, query.Var("g")),
	)
}

func apiKeyFrom(b query.Binding, keyID, appKey string) ApiKey {
	if keyID == "" {
		keyID = b.String("b")
	}
	if appKey == "" {
		appKey = b.String("a")
	}
	return ApiKey{
		IRI:       b.IRI("n1"),
		Label:     b.String("e"),
		Key:       keyID,
		Active:    b.Bool("d"),
		IssueDate: parseDateTime(b.String("c")),
		Application: Application{
			IRI:        b.IRI("n2"),
			Label:      b.String("g"),
			Key:        appKey,
			Persistent: b.Bool("f"),
		},
	}
}

func cacheKey(keyID string) string {
	return "apikey:" + keyID
}

// GetKey resolves an API key. Unknown keys fail with ErrUnknownApiKey,
// deactivated ones with ErrRevokedApiKeyUsed.
func (s *Service) GetKey(ctx context.Context, keyID string, principal auth.Principal) (*ApiKey, error) {
	if err := principal.Require(auth.Application); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if key, err := cache.GetJSON[ApiKey](ctx, s.cache, cacheKey(keyID)); err == nil {
			if err := principal.RequireApplication(key.Application.Key); err != nil {
				return nil, err
			}
			return &key, nil
		}
	}

	s.logger.Debug().Str("key", keyID).Msg("Requesting application details for application key")

	ticket := s.guard.Ticket(cacheKey(keyID))
	results, err := query.Collect(s.store.Query(ctx, keyQuery(keyID, "").Limit(2)))
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, errors.Wrapf(models.ErrUnknownApiKey, "key %s", keyID)
	case 1:
	default:
		return nil, errors.AssertionFailedf("found multiple key definitions for id %s", keyID)
	}

	key := apiKeyFrom(results[0], keyID, "")
	if err := principal.RequireApplication(key.Application.Key); err != nil {
		return nil, err
	}
	if !key.Active {
		return nil, errors.Wrapf(models.ErrRevokedApiKeyUsed, "key %s", keyID)
	}

	if s.cache != nil {
		if _, err := s.guard.FillJSON(ctx, s.cache, cacheKey(keyID), key, 0, ticket); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to cache api key")
		}
	}
	return &key, nil
}

// GetKeysForApplication streams every key of the application, revoked ones
// included
func (s *Service) GetKeysForApplication(ctx context.Context, appKey string, principal auth.Principal) iter.Seq2[ApiKey, error] {
	return func(yield func(ApiKey, error) bool) {
		if err := principal.RequireApplication(appKey); err != nil {
			yield(ApiKey{}, err)
			return
		}
		s.logger.Debug().Str("application", appKey).Msg("Requesting all API Keys for application")

		for b, err := range s.store.Query(ctx, keyQuery("", appKey)) {
			if err != nil {
				yield(ApiKey{}, err)
				return
			}
			key := apiKeyFrom(b, "", appKey)
			if !key.Active {
				key.RevokedAt = s.revokedAt(ctx, key.IRI)
			}
			if !yield(key, nil) {
				return
			}
		}
	}
}

func (s *Service) revokedAt(ctx context.Context, keyIRI models.IRI) *time.Time {
	sts, err := s.store.Statements(ctx, models.Pattern{Subject: keyIRI, Predicate: HasRevocationDate})
	if err != nil || len(sts) == 0 {
		return nil
	}
	t := parseDateTime(sts[0].Object.Lexical)
	return &t
}

// GetApplications lists up to MaxApplications tenants
func (s *Service) GetApplications(ctx context.Context, principal auth.Principal) iter.Seq2[Application, error] {
	return func(yield func(Application, error) bool) {
		if err := principal.Require(auth.System); err != nil {
			yield(Application{}, err)
			return
		}
		s.logger.Debug().Msg("Requesting all applications")

		n, key, label, persistent := query.Var("n"), query.Var("a"), query.Var("b"), query.Var("c")
		q := query.Select(n, key, label, persistent).
			Where(n.IsA(TypeApplication).
				AndHas(HasKey, key).
				AndHas(HasLabel, label).
				AndHas(IsPersistent, persistent)).
			Limit(MaxApplications)

		for b, err := range s.store.Query(ctx, q) {
			if err != nil {
				yield(Application{}, err)
				return
			}
			if !yield(Application{IRI: b.IRI("n"), Key: b.String("a"), Label: b.String("b"), Persistent: b.Bool("c")}, nil) {
				return
			}
		}
	}
}

// findApplication resolves appKey to exactly one application
func (s *Service) findApplication(ctx context.Context, appKey string) (*Application, error) {
	n, label, persistent := query.Var("node"), query.Var("g"), query.Var("f")
	q := query.Select(n, label, persistent).
		Where(n.IsA(TypeApplication).
			AndHas(HasKey, query.String(appKey)).
			AndHas(HasLabel, label).
			AndHas(IsPersistent, persistent)).
		Limit(2)

	results, err := query.Collect(s.store.Query(ctx, q))
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, errors.Wrapf(models.ErrEntityNotFound, "application %s", appKey)
	case 1:
		b := results[0]
		return &Application{IRI: b.IRI("node"), Label: b.String("g"), Key: appKey, Persistent: b.Bool("f")}, nil
	default:
		s.logger.Error().Str("application", appKey).Msg("Found multiple results when expected exactly one")
		return nil, errors.Wrapf(models.ErrDuplicateRecords, "application %s", appKey)
	}
}

// GenerateApiKey mints a new active key for the application. Key strings
// are unique across the store and names are unique among active keys of
// one application.
func (s *Service) GenerateApiKey(ctx context.Context, appKey, name string, principal auth.Principal) (*ApiKey, error) {
	if err := principal.RequireApplication(appKey); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.Wrap(models.ErrInvalidRequest, "key name is required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.logger.Debug().Str("application", appKey).Str("name", name).Msg("Generating new api key")

	app, err := s.findApplication(ctx, appKey)
	if err != nil {
		return nil, err
	}

	existing, err := s.activeKeysNamed(ctx, appKey, name, principal)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, errors.Wrapf(models.ErrDuplicateRecords, "application %s already has an active key named %q", appKey, name)
	}

	id, err := models.NewGeneratedIdentifier(s.namespace)
	if err != nil {
		return nil, err
	}
	keyString, err := models.GenerateKey(models.KeyLength)
	if err != nil {
		return nil, err
	}
	lit := models.NewLiteral(keyString)
	clash, err := s.store.Statements(ctx, models.Pattern{Predicate: HasKey, Object: &lit})
	if err != nil {
		return nil, err
	}
	if len(clash) > 0 {
		return nil, errors.Wrapf(models.ErrDuplicateRecords, "key %s already exists", keyString)
	}

	key := ApiKey{
		IRI:         id.IRI(),
		Label:       name,
		Key:         keyString,
		Active:      true,
		IssueDate:   s.now().UTC(),
		Application: *app,
	}

	tx := storage.NewTransaction()
	for _, st := range key.statements() {
		if err := tx.AddStatement(st); err != nil {
			return nil, err
		}
	}
	committed, err := s.store.Commit(ctx, tx, principal)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, events.Event{Kind: events.ApiKeyGenerated, Space: s.store.Name(), Transaction: committed})
	return &key, nil
}

func (s *Service) activeKeysNamed(ctx context.Context, appKey, name string, principal auth.Principal) ([]ApiKey, error) {
	var out []ApiKey
	for key, err := range s.GetKeysForApplication(ctx, appKey, principal) {
		if err != nil {
			return nil, err
		}
		if key.Active && key.Label == name {
			out = append(out, key)
		}
	}
	return out, nil
}

// RevokeApiKey deactivates every active key of the application with the
// given name. Subsequent GetKey calls fail with ErrRevokedApiKeyUsed.
func (s *Service) RevokeApiKey(ctx context.Context, appKey, name string, principal auth.Principal) ([]ApiKey, error) {
	return s.Revoke(ctx, appKey, name, RevocationSoft, principal)
}

// Revoke revokes keys in the given mode. Only soft revocation is
// supported.
func (s *Service) Revoke(ctx context.Context, appKey, name string, mode RevocationMode, principal auth.Principal) ([]ApiKey, error) {
	if err := principal.RequireApplication(appKey); err != nil {
		return nil, err
	}
	if mode != RevocationSoft {
		return nil, errors.Wrap(models.ErrNotImplemented, "hard deletion of api keys")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.logger.Debug().Str("application", appKey).Str("name", name).Msg("Revoking api key")

	keys, err := s.activeKeysNamed(ctx, appKey, name, principal)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, errors.Wrapf(models.ErrEntityNotFound, "no active key named %q", name)
	}

	revokedAt := s.now().UTC()
	tx := storage.NewTransaction()
	for i := range keys {
		k := &keys[i]
		if err := tx.RemoveStatement(models.NewStatement(k.IRI, IsActive, models.NewBoolLiteral(true))); err != nil {
			return nil, err
		}
		if err := tx.AddStatement(models.NewStatement(k.IRI, IsActive, models.NewBoolLiteral(false))); err != nil {
			return nil, err
		}
		if err := tx.AddStatement(models.NewStatement(k.IRI, HasRevocationDate, dateTime(revokedAt))); err != nil {
			return nil, err
		}
		k.Active = false
		k.RevokedAt = &revokedAt
	}

	committed, err := s.store.Commit(ctx, tx, principal)
	if err != nil {
		return nil, err
	}

	s.evict(ctx, keys)
	s.publisher.Publish(ctx, events.Event{Kind: events.ApiKeyRevoked, Space: s.store.Name(), Transaction: committed})
	return keys, nil
}

func (s *Service) evict(ctx context.Context, keys []ApiKey) {
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = cacheKey(k.Key)
	}
	_ = s.guard.Invalidate(ids, func() error {
		if s.cache == nil {
			return nil
		}
		for _, k := range keys {
			if err := s.cache.Delete(ctx, cacheKey(k.Key)); err != nil {
				s.logger.Warn().Err(err).Str("key", k.Key).Msg("Failed to evict revoked key")
			}
		}
		return nil
	})
}

// Invalidate flushes resolved keys when the applications space changes
// outside GenerateApiKey and Revoke, as resets and imports do
func (s *Service) Invalidate(ctx context.Context, e events.Event) {
	if e.Space != s.store.Name() {
		return
	}
	switch e.Kind {
	case events.ApplicationCreated, events.ApiKeyGenerated, events.ApiKeyRevoked:
		return
	}
	err := s.guard.InvalidateAll(func() error {
		if s.cache == nil {
			return nil
		}
		return s.cache.DeletePattern(ctx, "apikey:*")
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("kind", string(e.Kind)).Msg("Failed to flush api key cache")
	}
}

// Subscribe keeps resolved keys coherent with bulk changes to the space
func (s *Service) Subscribe(bus *events.Bus) {
	bus.Subscribe(s.Invalidate)
}
