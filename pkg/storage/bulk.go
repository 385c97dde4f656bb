package storage

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/ha1tch/olu-graph/pkg/auth"
	"github.com/ha1tch/olu-graph/pkg/models"
	"github.com/ha1tch/olu-graph/pkg/ntriples"
	"github.com/ha1tch/olu-graph/pkg/validation"
)

// importPrincipal authors bulk imports
var importPrincipal = auth.SystemPrincipal("import")

// importInto decodes r, skolemizes blank nodes into genidNamespace and adds
// everything in a single transaction. Nothing is written when any statement
// is invalid.
func importInto(ctx context.Context, s Store, genidNamespace string, r io.Reader, mimeType string) (int, error) {
	triples, err := ntriples.Decode(r, mimeType)
	if err != nil {
		return 0, err
	}

	statements, err := ntriples.NewSkolemizer(genidNamespace).Statements(triples)
	if err != nil {
		return 0, err
	}

	tx := NewTransaction()
	for i, st := range statements {
		normalized, err := validation.NormalizeStatement(st)
		if err != nil {
			return 0, errors.Wrapf(err, "statement %d", i+1)
		}
		if err := tx.AddStatement(normalized); err != nil {
			return 0, err
		}
	}

	if _, err := s.Commit(ctx, tx, importPrincipal); err != nil {
		return 0, err
	}
	return len(tx.Added()), nil
}

// exportFrom writes every statement of s as N-Triples
func exportFrom(ctx context.Context, s Store, w io.Writer) (int, error) {
	statements, err := s.Statements(ctx, models.Pattern{})
	if err != nil {
		return 0, err
	}
	enc := ntriples.NewEncoder(w)
	for _, st := range statements {
		if err := enc.Encode(st); err != nil {
			return 0, errors.Wrap(err, "failed to write statement")
		}
	}
	if err := enc.Flush(); err != nil {
		return 0, errors.Wrap(err, "failed to flush export")
	}
	return len(statements), nil
}
