package web

import (
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/resourcemap/internal/orm/session"
	"github.com/conduit-lang/resourcemap/internal/orm/validation"
	"github.com/conduit-lang/resourcemap/internal/queryspec"
	"github.com/conduit-lang/resourcemap/internal/repository"
	"github.com/conduit-lang/resourcemap/internal/resource"
	"github.com/conduit-lang/resourcemap/internal/web/jsonapi"
	"github.com/conduit-lang/resourcemap/internal/web/middleware"
)

// StatusOf maps an error to the HTTP status of its response
func StatusOf(err error) int {
	var verrs *validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusUnprocessableEntity
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrRelatedNotFound):
		return http.StatusNotFound
	case errors.Is(err, queryspec.ErrInvalidQuery),
		errors.Is(err, jsonapi.ErrInvalidDocument),
		errors.Is(err, repository.ErrMultipleTargets),
		errors.Is(err, resource.ErrUnknownField):
		return http.StatusBadRequest
	case errors.Is(err, jsonapi.ErrTypeMismatch),
		session.IsUniqueViolation(err),
		session.IsForeignKeyViolation(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail renders err as a JSON:API error document. Server errors are logged and
// their detail is withheld from the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, rt *resource.Type, err error) {
	status := StatusOf(err)
	requestID := middleware.GetRequestID(r.Context())

	if status >= http.StatusInternalServerError {
		h.logger.Errorw("request failed", "request_id", requestID, "method", r.Method, "path", r.URL.Path, "error", err)
		jsonapi.RenderErrors(w, status, jsonapi.NewError(status, "internal server error"))
		return
	}
	h.logger.Debugw("request rejected", "request_id", requestID, "status", status, "error", err)

	var verrs *validation.ValidationErrors
	if errors.As(err, &verrs) {
		jsonapi.RenderErrors(w, status, validationErrors(rt, verrs)...)
		return
	}
	jsonapi.RenderErrors(w, status, jsonapi.NewError(status, err.Error()))
}

// validationErrors returns one error object per failed rule, pointing at the
// attribute backed by the failing entity field when the resource exposes it
func validationErrors(rt *resource.Type, verrs *validation.ValidationErrors) []*jsonapi.ErrorObject {
	names := map[string]string{}
	if rt != nil {
		for _, attr := range rt.Attributes {
			names[attr.Field] = attr.Name
		}
		for _, rel := range rt.Relations {
			names[rel.Field] = rel.Name
		}
	}

	var out []*jsonapi.ErrorObject
	for _, fe := range verrs.FieldErrors() {
		obj := jsonapi.NewError(http.StatusUnprocessableEntity, fe.Error())
		if name, ok := names[fe.Field]; ok {
			obj.Detail = name + " " + fe.Message
			obj.Source = &jsonapi.ErrorSource{Pointer: "/data/attributes/" + name}
			if rt != nil {
				if _, isRel := rt.Relation(name); isRel {
					obj.Source.Pointer = "/data/relationships/" + name
				}
			}
		}
		out = append(out, obj)
	}
	return out
}
