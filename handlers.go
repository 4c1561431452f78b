package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/chinmina/crm-bridge/internal/audit"
	"github.com/chinmina/crm-bridge/internal/crm"
	"github.com/chinmina/crm-bridge/internal/queue"
	"github.com/rs/zerolog/log"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// EntityService is the CRM surface exposed over HTTP. *crm.Client implements
// it.
type EntityService interface {
	FindEntity(ctx context.Context, t crm.EntityType, filter crm.Filter) ([]crm.Entity, error)
	GetEntity(ctx context.Context, t crm.EntityType, id string) (crm.Entity, error)
	CreateEntity(ctx context.Context, t crm.EntityType, fields crm.Fields) (string, error)
	UpdateEntity(ctx context.Context, t crm.EntityType, id string, fields crm.Fields) error
	DeleteEntity(ctx context.Context, t crm.EntityType, id string) error
	SearchEntities(ctx context.Context, t crm.EntityType, opts crm.SearchOptions) ([]crm.Entity, error)
	GetFieldValue(ctx context.Context, t crm.EntityType, identifier, field string) (any, error)
	GetEntityFields(ctx context.Context, t crm.EntityType) (crm.Entity, error)
	GetUsers(ctx context.Context, filter crm.Filter) []crm.Entity
	Metrics() crm.Metrics
}

type filterRequest struct {
	Filter crm.Filter `json:"filter"`
}

type fieldsRequest struct {
	Fields crm.Fields `json:"fields"`
}

type listResponse struct {
	Items []crm.Entity `json:"items"`
}

type createResponse struct {
	ID string `json:"id"`
}

type fieldValueResponse struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

func handleFindEntities(svc EntityService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		entityType, ok := pathEntityType(w, r, "find")
		if !ok {
			return
		}

		var req filterRequest
		if !readJSON(w, r, &req) {
			return
		}

		items, err := svc.FindEntity(r.Context(), entityType, req.Filter)
		if err != nil {
			writeServiceError(w, r, "find", err)
			return
		}

		audit.Log(r.Context()).ResultCount = len(items)
		writeJSON(w, http.StatusOK, listResponse{Items: nonNil(items)})
	})
}

func handleGetEntity(svc EntityService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		entityType, ok := pathEntityType(w, r, "get")
		if !ok {
			return
		}

		entity, err := svc.GetEntity(r.Context(), entityType, r.PathValue("id"))
		if err != nil {
			writeServiceError(w, r, "get", err)
			return
		}
		if entity == nil {
			writeJSONError(w, http.StatusNotFound, "entity not found")
			return
		}

		writeJSON(w, http.StatusOK, entity)
	})
}

func handleCreateEntity(svc EntityService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		entityType, ok := pathEntityType(w, r, "create")
		if !ok {
			return
		}

		var req fieldsRequest
		if !readJSON(w, r, &req) {
			return
		}

		id, err := svc.CreateEntity(r.Context(), entityType, req.Fields)
		if err != nil {
			writeServiceError(w, r, "create", err)
			return
		}

		audit.Log(r.Context()).EntityID = id
		writeJSON(w, http.StatusCreated, createResponse{ID: id})
	})
}

func handleUpdateEntity(svc EntityService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		entityType, ok := pathEntityType(w, r, "update")
		if !ok {
			return
		}

		var req fieldsRequest
		if !readJSON(w, r, &req) {
			return
		}

		err := svc.UpdateEntity(r.Context(), entityType, r.PathValue("id"), req.Fields)
		if err != nil {
			writeServiceError(w, r, "update", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func handleDeleteEntity(svc EntityService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		entityType, ok := pathEntityType(w, r, "delete")
		if !ok {
			return
		}

		err := svc.DeleteEntity(r.Context(), entityType, r.PathValue("id"))
		if err != nil {
			writeServiceError(w, r, "delete", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func handleSearchEntities(svc EntityService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		entityType, ok := pathEntityType(w, r, "search")
		if !ok {
			return
		}

		var opts crm.SearchOptions
		if !readJSON(w, r, &opts) {
			return
		}

		items, err := svc.SearchEntities(r.Context(), entityType, opts)
		if err != nil {
			writeServiceError(w, r, "search", err)
			return
		}

		audit.Log(r.Context()).ResultCount = len(items)
		writeJSON(w, http.StatusOK, listResponse{Items: nonNil(items)})
	})
}

func handleGetEntityFields(svc EntityService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		entityType, ok := pathEntityType(w, r, "fields")
		if !ok {
			return
		}

		fields, err := svc.GetEntityFields(r.Context(), entityType)
		if err != nil {
			writeServiceError(w, r, "fields", err)
			return
		}
		if fields == nil {
			writeJSONError(w, http.StatusNotFound, "field metadata unavailable")
			return
		}

		writeJSON(w, http.StatusOK, fields)
	})
}

func handleGetFieldValue(svc EntityService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		entityType, ok := pathEntityType(w, r, "field value")
		if !ok {
			return
		}

		field := r.PathValue("field")
		value, err := svc.GetFieldValue(r.Context(), entityType, r.PathValue("id"), field)
		if err != nil {
			writeServiceError(w, r, "field value", err)
			return
		}
		if value == nil {
			writeJSONError(w, http.StatusNotFound, "entity or field not found")
			return
		}

		writeJSON(w, http.StatusOK, fieldValueResponse{Field: field, Value: value})
	})
}

func handleGetUsers(svc EntityService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		entry := audit.Log(r.Context())
		entry.Operation = "users"

		var req filterRequest
		if !readJSON(w, r, &req) {
			return
		}

		users := svc.GetUsers(r.Context(), req.Filter)
		entry.ResultCount = len(users)
		writeJSON(w, http.StatusOK, listResponse{Items: nonNil(users)})
	})
}

func handleMetrics(svc EntityService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, svc.Metrics())
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// pathEntityType parses the entity type from the route and records the
// operation in the request's audit entry.
func pathEntityType(w http.ResponseWriter, r *http.Request, operation string) (crm.EntityType, bool) {
	entry := audit.Log(r.Context())
	entry.Operation = operation
	entry.EntityID = r.PathValue("id")

	entityType, err := crm.ParseEntityType(r.PathValue("type"))
	if err != nil {
		entry.Error = err.Error()
		status, message := errorStatus(err)
		writeJSONError(w, status, message)
		return "", false
	}

	entry.EntityType = string(entityType)
	return entityType, true
}

// readJSON decodes the request body into v. An empty body leaves v
// untouched. Numbers are kept as json.Number so large CRM identifiers survive
// the round trip.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	err := dec.Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}

	log.Info().Err(err).Msg("invalid request body")
	writeJSONError(w, http.StatusBadRequest, "request body must be a JSON object")
	return false
}

func writeServiceError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status, message := errorStatus(err)
	log.Info().Err(err).Str("operation", operation).Int("status", status).Msg("CRM operation failed")

	audit.Log(r.Context()).Error = err.Error()

	if errors.Is(err, queue.ErrQueueFull) {
		w.Header().Set("Retry-After", "1")
	}
	writeJSONError(w, status, message)
}

func nonNil(items []crm.Entity) []crm.Entity {
	if items == nil {
		return []crm.Entity{}
	}
	return items
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// the status has been written, so this can only be logged
		log.Info().Err(err).Msg("failed to write JSON response")
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5MB max: after this we'll assume the client is broken or malicious
		// and close the connection
		io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}
