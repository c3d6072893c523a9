package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/erazemk/rdb/internal/history"
	"github.com/erazemk/rdb/internal/imaging"
	"github.com/erazemk/rdb/internal/jobs"
	"github.com/erazemk/rdb/internal/lifecycle"
	"github.com/erazemk/rdb/internal/service"
	"github.com/erazemk/rdb/internal/store"
	"github.com/erazemk/rdb/internal/tree"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// outcomeResponse writes the entity a mutation produced together with the
// history it recorded.
func outcomeResponse(w http.ResponseWriter, status int, data any, out *service.Outcome) {
	body := map[string]any{"actions": out.Actions}
	if data != nil {
		body["data"] = data
	}
	if len(out.Repairs) > 0 {
		body["repairs"] = out.Repairs
	}
	if len(out.Warnings) > 0 {
		body["warnings"] = out.Warnings
	}
	jsonResponse(w, status, body)
}

// decodeJSON decodes a JSON request body into target and validates it,
// writing a 400 response when either fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			jsonError(w, http.StatusBadRequest, "invalid fields: "+strings.Join(fields, ", "))
			return false
		}
		jsonError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// pathID parses the {id} path value.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		jsonError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// queryID parses an optional numeric query parameter; zero means unset.
func queryID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return id
}

// actor returns the ID of the authenticated user.
func actor(r *http.Request) int64 {
	if claims := GetClaims(r.Context()); claims != nil {
		return claims.UserID
	}
	return 0
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, jobs.ErrQueueFull):
		jsonError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrNotFound):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrActiveDeployment):
		jsonError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalid),
		errors.Is(err, service.ErrInvalidParent),
		errors.Is(err, lifecycle.ErrDateOrder),
		errors.Is(err, lifecycle.ErrMissingPosition),
		errors.Is(err, history.ErrMissingDeployment),
		errors.Is(err, tree.ErrUnknownKind),
		errors.Is(err, imaging.ErrUnsupported),
		errors.Is(err, imaging.ErrTooLarge):
		jsonError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
	}
}

// emptyIfNil keeps list endpoints returning [] rather than null.
func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
