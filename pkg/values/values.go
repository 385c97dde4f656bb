// Package values reconciles single-property updates against the current
// statements of an entity and commits them atomically.
package values

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/ha1tch/olu-graph/pkg/auth"
	"github.com/ha1tch/olu-graph/pkg/events"
	"github.com/ha1tch/olu-graph/pkg/models"
	"github.com/ha1tch/olu-graph/pkg/storage"
	"github.com/ha1tch/olu-graph/pkg/validation"
)

// Rejection reasons reported through InvalidEntityUpdateError
const (
	ReasonAnonymousLink     = "link to anonymous node"
	ReasonLinkWithLiteral   = "cannot replace link with literal"
	ReasonAmbiguousLanguage = "ambiguous language tag merge"
	ReasonMissingValue      = "value to replace does not exist"
)

// Service applies value updates to one statement space
type Service struct {
	store      storage.Store
	namespaces *models.Namespaces
	publisher  events.Publisher
	locks      *entityLocks
	logger     zerolog.Logger
}

// NewService creates a value service
func NewService(store storage.Store, namespaces *models.Namespaces, publisher events.Publisher, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Service{
		store:      store,
		namespaces: namespaces,
		publisher:  publisher,
		locks:      newEntityLocks(),
		logger:     logger,
	}
}

// InsertValue adds value under predicate. A literal replaces the existing
// literal with the same language tag; a link already present is a no-op.
func (s *Service) InsertValue(ctx context.Context, id, predicate models.IRI, value models.Value, principal auth.Principal) (*storage.Transaction, error) {
	value, err := s.checkRequest(id, predicate, value, principal)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.logger.Debug().Str("entity", string(id)).Str("predicate", string(predicate)).Msg("Inserting value")

	current, err := s.load(ctx, id, predicate)
	if err != nil {
		return nil, err
	}
	if value.IsAnonymous() {
		return nil, models.NewInvalidEntityUpdate(id, ReasonAnonymousLink)
	}

	removals, noop, err := reconcile(id, current, value)
	if err != nil {
		return nil, err
	}

	tx := storage.NewTransaction()
	if !noop {
		for _, st := range removals {
			if err := tx.RemoveStatement(st); err != nil {
				return nil, err
			}
		}
		if err := tx.AddStatement(models.NewStatement(id, predicate, value)); err != nil {
			return nil, err
		}
	}
	return s.commit(ctx, tx, principal, events.ValueInserted)
}

// RemoveValue deletes value from predicate. Removing a value the entity does
// not hold writes nothing.
func (s *Service) RemoveValue(ctx context.Context, id, predicate models.IRI, value models.Value, principal auth.Principal) (*storage.Transaction, error) {
	value, err := s.checkRequest(id, predicate, value, principal)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.logger.Debug().Str("entity", string(id)).Str("predicate", string(predicate)).Msg("Removing value")

	current, err := s.load(ctx, id, predicate)
	if err != nil {
		return nil, err
	}

	tx := storage.NewTransaction()
	for _, st := range current {
		if st.Object.Equal(value) {
			if err := tx.RemoveStatement(st); err != nil {
				return nil, err
			}
		}
	}
	return s.commit(ctx, tx, principal, events.ValueRemoved)
}

// ReplaceValue swaps oldValue for newValue in a single commit
func (s *Service) ReplaceValue(ctx context.Context, id, predicate models.IRI, oldValue, newValue models.Value, principal auth.Principal) (*storage.Transaction, error) {
	newValue, err := s.checkRequest(id, predicate, newValue, principal)
	if err != nil {
		return nil, err
	}
	if oldValue, err = validation.NormalizeValue(oldValue); err != nil {
		return nil, err
	}

	unlock, err := s.locks.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.logger.Debug().Str("entity", string(id)).Str("predicate", string(predicate)).Msg("Replacing value")

	current, err := s.load(ctx, id, predicate)
	if err != nil {
		return nil, err
	}
	if newValue.IsAnonymous() {
		return nil, models.NewInvalidEntityUpdate(id, ReasonAnonymousLink)
	}

	var old *models.Statement
	remaining := current[:0:0]
	for i, st := range current {
		if old == nil && st.Object.Equal(oldValue) {
			old = &current[i]
			continue
		}
		remaining = append(remaining, st)
	}
	if old == nil {
		return nil, models.NewInvalidEntityUpdate(id, ReasonMissingValue)
	}

	tx := storage.NewTransaction()
	if !oldValue.Equal(newValue) {
		removals, noop, err := reconcile(id, remaining, newValue)
		if err != nil {
			return nil, err
		}
		if err := tx.RemoveStatement(*old); err != nil {
			return nil, err
		}
		for _, st := range removals {
			if err := tx.RemoveStatement(st); err != nil {
				return nil, err
			}
		}
		if !noop {
			if err := tx.AddStatement(models.NewStatement(id, predicate, newValue)); err != nil {
				return nil, err
			}
		}
	}
	return s.commit(ctx, tx, principal, events.ValueReplaced)
}

// InsertLiteral inserts a string literal under prefix:local
func (s *Service) InsertLiteral(ctx context.Context, id models.IRI, prefix, local, lexical, lang string, principal auth.Principal) (*storage.Transaction, error) {
	predicate, err := s.namespaces.Resolve(prefix, local)
	if err != nil {
		return nil, err
	}
	return s.InsertValue(ctx, id, predicate, models.NewLangLiteral(lexical, lang), principal)
}

// RemoveLiteral removes a string literal from prefix:local
func (s *Service) RemoveLiteral(ctx context.Context, id models.IRI, prefix, local, lexical, lang string, principal auth.Principal) (*storage.Transaction, error) {
	predicate, err := s.namespaces.Resolve(prefix, local)
	if err != nil {
		return nil, err
	}
	return s.RemoveValue(ctx, id, predicate, models.NewLangLiteral(lexical, lang), principal)
}

// ReplaceLiteral swaps two string literals on prefix:local
func (s *Service) ReplaceLiteral(ctx context.Context, id models.IRI, prefix, local string, oldValue, newValue models.Value, principal auth.Principal) (*storage.Transaction, error) {
	predicate, err := s.namespaces.Resolve(prefix, local)
	if err != nil {
		return nil, err
	}
	return s.ReplaceValue(ctx, id, predicate, oldValue, newValue, principal)
}

func (s *Service) checkRequest(id, predicate models.IRI, value models.Value, principal auth.Principal) (models.Value, error) {
	if err := principal.Require(auth.Application); err != nil {
		return value, err
	}
	if err := validation.ValidateIRI(id); err != nil {
		return value, err
	}
	if err := validation.ValidateIRI(predicate); err != nil {
		return value, err
	}
	return validation.NormalizeValue(value)
}

// load returns the statements of id on predicate. The entity itself must
// exist.
func (s *Service) load(ctx context.Context, id, predicate models.IRI) ([]models.Statement, error) {
	own, err := s.store.Statements(ctx, models.Pattern{Subject: id})
	if err != nil {
		return nil, err
	}
	if len(own) == 0 {
		return nil, errors.Wrapf(models.ErrEntityNotFound, "<%s>", id)
	}
	var out []models.Statement
	for _, st := range own {
		if st.Predicate == predicate {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Service) commit(ctx context.Context, tx *storage.Transaction, principal auth.Principal, kind events.Kind) (*storage.Transaction, error) {
	committed, err := s.store.Commit(ctx, tx, principal)
	if err != nil {
		if models.IsInfrastructureError(err) {
			s.logger.Error().Err(err).Str("tx", tx.ID).Msg("Commit failed, transaction rolled back")
		} else {
			s.logger.Warn().Err(err).Str("tx", tx.ID).Msg("Transaction rejected")
		}
		return nil, err
	}
	if !committed.IsEmpty() {
		s.publisher.Publish(ctx, events.Event{Kind: kind, Space: s.store.Name(), Transaction: committed})
	}
	return committed, nil
}

// reconcile decides which existing statements a new value displaces. noop
// is true when the value is already present.
func reconcile(id models.IRI, current []models.Statement, value models.Value) (removals []models.Statement, noop bool, err error) {
	for _, st := range current {
		if st.Object.Equal(value) {
			return nil, true, nil
		}
	}
	if !value.IsLiteral() {
		return nil, false, nil
	}

	for _, st := range current {
		existing := st.Object
		if !existing.IsLiteral() {
			return nil, false, models.NewInvalidEntityUpdate(id, ReasonLinkWithLiteral)
		}
		switch {
		case existing.HasLanguage() && value.HasLanguage():
			if existing.SameLanguage(value) {
				removals = append(removals, st)
			}
		case existing.HasLanguage() != value.HasLanguage():
			return nil, false, models.NewInvalidEntityUpdate(id, ReasonAmbiguousLanguage)
		default:
			removals = append(removals, st)
		}
	}
	return removals, false, nil
}
