package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/ha1tch/olu-graph/pkg/applications"
	"github.com/ha1tch/olu-graph/pkg/auth"
	"github.com/ha1tch/olu-graph/pkg/models"
	"github.com/ha1tch/olu-graph/pkg/ntriples"
	"github.com/ha1tch/olu-graph/pkg/storage"
)

// maxValueSize bounds a single literal request body
const maxValueSize = 1 << 20

// TransactionResponse reports what a write changed
type TransactionResponse struct {
	ID       string             `json:"id"`
	Added    []models.Statement `json:"added"`
	Removed  []models.Statement `json:"removed"`
	Affected []models.IRI       `json:"affected"`
}

func transactionResponse(tx *storage.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:       tx.ID,
		Added:    tx.Added(),
		Removed:  tx.Removed(),
		Affected: tx.Affected(),
	}
	if resp.Added == nil {
		resp.Added = []models.Statement{}
	}
	if resp.Removed == nil {
		resp.Removed = []models.Statement{}
	}
	if resp.Affected == nil {
		resp.Affected = []models.IRI{}
	}
	return resp
}

// LiteralRequest is one side of a replace request
type LiteralRequest struct {
	Value string `json:"value"`
	Lang  string `json:"lang,omitempty"`
}

func (l LiteralRequest) toValue() models.Value {
	if l.Lang != "" {
		return models.NewLangLiteral(l.Value, l.Lang)
	}
	return models.NewLiteral(l.Value)
}

// ReplaceRequest is the body of a value replacement
type ReplaceRequest struct {
	Old LiteralRequest `json:"old"`
	New LiteralRequest `json:"new"`
}

// CreateApplicationRequest is the body of an application registration
type CreateApplicationRequest struct {
	Label      string `json:"label"`
	Persistent bool   `json:"persistent"`
}

// GenerateKeyRequest is the body of a key request
type GenerateKeyRequest struct {
	Name string `json:"name"`
}

func (s *Server) entityID(r *http.Request) models.IRI {
	return models.IRI(models.JoinNamespace(s.config.EntitiesNamespace, chi.URLParam(r, "id")))
}

// handleListEntities lists entities of type local:Entity
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	limit := s.config.MaxListEntities
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	list, err := s.entities.List(r.Context(), limit, auth.FromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Entity{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

// handleGetEntity returns an entity with its linked resources
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	entity, err := s.entities.Get(r.Context(), s.entityID(r), auth.FromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entity)
}

// handleStoreEntities stores an N-Triples or JSON document in one transaction
func (s *Server) handleStoreEntities(w http.ResponseWriter, r *http.Request) {
	mimeType := r.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = ntriples.MimeNTriples
	}
	body := http.MaxBytesReader(w, r.Body, s.config.MaxImportSize)

	tx, err := s.entities.StoreDocument(r.Context(), body, mimeType, auth.FromContext(r.Context()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "Document too large")
			return
		}
		s.fail(w, r, err)
		return
	}
	s.logger.Info().Int("statements", len(tx.Added())).Msg("Stored entities")
	s.writeJSON(w, http.StatusCreated, transactionResponse(tx))
}

func (s *Server) readLiteral(w http.ResponseWriter, r *http.Request) (string, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueSize))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "Value too large")
		return "", false
	}
	return string(data), true
}

// handleInsertValue sets a literal of the entity; the body is the lexical form
func (s *Server) handleInsertValue(w http.ResponseWriter, r *http.Request) {
	value, ok := s.readLiteral(w, r)
	if !ok {
		return
	}
	tx, err := s.values.InsertLiteral(r.Context(), s.entityID(r),
		chi.URLParam(r, "prefix"), chi.URLParam(r, "key"),
		value, r.URL.Query().Get("lang"), auth.FromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transactionResponse(tx))
}

// handleRemoveValue removes a literal of the entity
func (s *Server) handleRemoveValue(w http.ResponseWriter, r *http.Request) {
	value, ok := s.readLiteral(w, r)
	if !ok {
		return
	}
	tx, err := s.values.RemoveLiteral(r.Context(), s.entityID(r),
		chi.URLParam(r, "prefix"), chi.URLParam(r, "key"),
		value, r.URL.Query().Get("lang"), auth.FromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transactionResponse(tx))
}

// handleReplaceValue swaps one literal for another in one transaction
func (s *Server) handleReplaceValue(w http.ResponseWriter, r *http.Request) {
	var req ReplaceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxValueSize)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	tx, err := s.values.ReplaceLiteral(r.Context(), s.entityID(r),
		chi.URLParam(r, "prefix"), chi.URLParam(r, "key"),
		req.Old.toValue(), req.New.toValue(), auth.FromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transactionResponse(tx))
}

// handleCreateApplication registers a tenant. Only system credentials can
// obtain the grant this requires.
func (s *Server) handleCreateApplication(w http.ResponseWriter, r *http.Request) {
	var req CreateApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	grant, err := s.issuer.Grant(auth.FromContext(r.Context()), auth.CapabilityManageTenants)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	app, err := s.applications.CreateApplication(r.Context(), req.Label, req.Persistent, grant)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info().Str("application", app.Key).Str("label", app.Label).Msg("Created application")
	s.writeJSON(w, http.StatusCreated, app)
}

// handleListApplications lists tenants
func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	apps := []applications.Application{}
	for app, err := range s.applications.GetApplications(r.Context(), auth.FromContext(r.Context())) {
		if err != nil {
			s.fail(w, r, err)
			return
		}
		apps = append(apps, app)
	}
	s.writeJSON(w, http.StatusOK, apps)
}

// handleListKeys lists every key of an application, revoked ones included
func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys := []applications.ApiKey{}
	for key, err := range s.applications.GetKeysForApplication(r.Context(), chi.URLParam(r, "key"), auth.FromContext(r.Context())) {
		if err != nil {
			s.fail(w, r, err)
			return
		}
		keys = append(keys, key)
	}
	s.writeJSON(w, http.StatusOK, keys)
}

// handleGenerateKey issues a new key for an application
func (s *Server) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	var req GenerateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	key, err := s.applications.GenerateApiKey(r.Context(), chi.URLParam(r, "key"), strings.TrimSpace(req.Name), auth.FromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, key)
}

// handleRevokeKey deactivates the active keys with the given name
func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	keys, err := s.applications.RevokeApiKey(r.Context(), chi.URLParam(r, "key"), chi.URLParam(r, "name"), auth.FromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, keys)
}

// handleReset empties a statement space in the background
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	job, err := s.admin.Reset(r.URL.Query().Get("name"), auth.FromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

// handleImportEntities imports a document into the entities space in the
// background
func (s *Server) handleImportEntities(w http.ResponseWriter, r *http.Request) {
	principal := auth.FromContext(r.Context())
	if err := principal.Require(auth.System); err != nil {
		s.fail(w, r, err)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxImportSize))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "Import too large")
		return
	}
	job, err := s.admin.ImportEntities(data, r.URL.Query().Get("mimetype"), principal)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

// handleGetJob reports the state of an admin job
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if err := auth.FromContext(r.Context()).Require(auth.System); err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.admin.Job(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}
