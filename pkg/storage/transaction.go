package storage

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/ha1tch/olu-graph/pkg/models"
)

// Transaction accumulates the statements one logical operation adds and
// removes. Commit applies it as one unit, after which it is immutable.
type Transaction struct {
	ID          string
	Author      string
	CommittedAt time.Time

	mu        sync.Mutex
	added     []models.Statement
	removed   []models.Statement
	keys      map[string]bool
	affected  []models.IRI
	seen      map[models.IRI]bool
	committed bool
}

// NewTransaction starts an empty transaction
func NewTransaction() *Transaction {
	return &Transaction{
		ID:   uuid.NewString(),
		keys: make(map[string]bool),
		seen: make(map[models.IRI]bool),
	}
}

// AddStatement schedules st for insertion and marks its subject affected
func (t *Transaction) AddStatement(st models.Statement) error {
	return t.record(st, true)
}

// RemoveStatement schedules st for removal and marks its subject affected
func (t *Transaction) RemoveStatement(st models.Statement) error {
	return t.record(st, false)
}

func (t *Transaction) record(st models.Statement, add bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return errors.WithStack(ErrTransactionFinalized)
	}
	key := st.Key()
	if add {
		key = "+" + key
	} else {
		key = "-" + key
	}
	if !t.keys[key] {
		t.keys[key] = true
		if add {
			t.added = append(t.added, st)
		} else {
			t.removed = append(t.removed, st)
		}
	}
	t.markLocked(st.Subject)
	return nil
}

// MarkAffected records a resource touched by the transaction
func (t *Transaction) MarkAffected(id models.IRI) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return errors.WithStack(ErrTransactionFinalized)
	}
	t.markLocked(id)
	return nil
}

func (t *Transaction) markLocked(id models.IRI) {
	if !t.seen[id] {
		t.seen[id] = true
		t.affected = append(t.affected, id)
	}
}

// Added returns the statements scheduled for insertion
func (t *Transaction) Added() []models.Statement {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Statement(nil), t.added...)
}

// Removed returns the statements scheduled for removal
func (t *Transaction) Removed() []models.Statement {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Statement(nil), t.removed...)
}

// Affected returns the touched resources in first-touch order
func (t *Transaction) Affected() []models.IRI {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.IRI(nil), t.affected...)
}

// IsEmpty reports whether the transaction writes nothing
func (t *Transaction) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.added) == 0 && len(t.removed) == 0
}

// Committed reports whether the transaction was finalized
func (t *Transaction) Committed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

// finalize marks the transaction immutable. Stores call it once the write
// is durable.
func (t *Transaction) finalize(author string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return errors.WithStack(ErrTransactionFinalized)
	}
	t.committed = true
	t.Author = author
	t.CommittedAt = at
	return nil
}

// begin checks that tx can still be committed
func (t *Transaction) begin() error {
	if t.Committed() {
		return errors.WithStack(ErrTransactionFinalized)
	}
	return nil
}
