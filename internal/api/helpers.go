package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/domain"
	"github.com/bondsphere/backend/internal/middleware"
	"github.com/bondsphere/backend/pkg/response"
	"github.com/bondsphere/backend/pkg/validator"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxBodyBytes    = 1 << 20
)

// writeError maps domain errors onto the response envelope
func writeError(w http.ResponseWriter, logger *zap.Logger, err error, msg string) {
	var domainErr *domain.ValidationError
	var fieldErrs validator.ValidationErrors

	switch {
	case errors.As(err, &fieldErrs):
		response.ValidationFailed(w, "validation failed", fieldErrs)
	case errors.As(err, &domainErr):
		response.ValidationFailed(w, domainErr.Error(), []validator.ValidationError{{
			Field:   domainErr.Field,
			Message: domainErr.Message,
		}})
	case errors.Is(err, domain.ErrInvalidSignature):
		response.Unauthorized(w, "invalid signature")
	case errors.Is(err, domain.ErrForbidden):
		response.Forbidden(w, "access denied")
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, "not found")
	case errors.Is(err, domain.ErrNoRecipient):
		response.BadRequest(w, "recipient has no email address")
	default:
		logger.Error(msg, zap.Error(err))
		response.InternalError(w, msg)
	}
}

// decodeJSON reads a bounded body into v and runs its validate tags
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.NewValidationError("body", "invalid JSON body")
	}
	return validator.Struct(v)
}

// currentUser writes a 401 when the request carries no user
func currentUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
	}
	return userID, ok
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.BadRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// pagination reads limit and offset, or page and limit
func pagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit, _ = strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if page, err := strconv.Atoi(q.Get("page")); err == nil && page > 0 {
		return limit, (page - 1) * limit
	}
	offset, _ = strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
