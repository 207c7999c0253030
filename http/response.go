package http

import (
	"net/http"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/kenaz/bvh"
	"github.com/aukilabs/kenaz/models"
	"github.com/aukilabs/kenaz/query"
	"github.com/aukilabs/kenaz/snapshot"
	"github.com/segmentio/encoding/json"
)

const (
	ErrTypeRequestInvalid  = "request_invalid"
	ErrTypeFeatureDisabled = "feature_disabled"
	ErrTypeInternal        = "internal"
)

// ErrorResponse is the body of failed requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Type    string `json:"type"`
	Details string `json:"details,omitempty"`
}

// StatusCode returns the HTTP status matching the type of err.
func StatusCode(err error) int {
	switch errors.Type(err) {
	case bvh.ErrTypeEmptyInput,
		models.ErrTypeItemInvalid,
		query.ErrTypeInvalid,
		snapshot.ErrTypeInvalid,
		ErrTypeRequestInvalid:
		return http.StatusBadRequest

	case ErrTypeUnauthorized:
		return http.StatusUnauthorized

	case ErrTypeFeatureDisabled:
		return http.StatusForbidden

	case models.ErrTypeSceneNotFound:
		return http.StatusNotFound

	case models.ErrTypeStaleGeneration, query.ErrTypeNotBuilt:
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logs.Error(errors.New("encoding response failed").Wrap(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

// NewErrorResponse returns the body describing err. Details of server
// errors are not exposed.
func NewErrorResponse(err error) ErrorResponse {
	status := StatusCode(err)

	res := ErrorResponse{
		Error: http.StatusText(status),
		Type:  errors.Type(err),
	}

	if status >= http.StatusInternalServerError {
		res.Type = ErrTypeInternal
	} else {
		res.Details = err.Error()
	}
	return res
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)

	logger := logs.WithTag("method", r.Method).
		WithTag("path", r.URL.Path).
		WithTag("status", status)

	if status >= http.StatusInternalServerError {
		logger.Error(err)
	} else {
		logger.Debug(err)
	}

	writeJSON(w, status, NewErrorResponse(err))
}
