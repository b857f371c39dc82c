package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"ediportal.org/internal/audit"
	"ediportal.org/internal/auth"
	"ediportal.org/internal/obs"
	"ediportal.org/internal/portal"
)

const (
	kindValidation   = "validation"
	kindConflict     = "conflict"
	kindNotFound     = "not_found"
	kindUnauthorized = "unauthorized"
	kindInternal     = "internal"

	internalMessage = "Internal server error"
)

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, kind, msg string) {
	writeJSON(w, code, errorBody{
		Error:     msg,
		Kind:      kind,
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, r, http.StatusMethodNotAllowed, kindValidation, "method not allowed")
}

// decodeJSON reads exactly one JSON object and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is required")
		case errors.As(err, &tooLarge):
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		default:
			return fmt.Errorf("invalid request body: %v", err)
		}
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// bindJSON decodes the body or answers 400. It reports whether the handler
// should continue.
func bindJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, kindValidation, err.Error())
		return false
	}
	return true
}

// writeServiceError maps domain errors onto status codes. Unknown errors are
// logged and reported as a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var nf *portal.NotFoundError
	switch {
	case errors.As(err, &nf):
		writeError(w, r, http.StatusNotFound, kindNotFound, nf.Error())
	case errors.Is(err, portal.ErrNotFound):
		writeError(w, r, http.StatusNotFound, kindNotFound, publicMessage(err, portal.ErrNotFound))
	case errors.Is(err, portal.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, kindValidation, publicMessage(err, portal.ErrInvalidInput))
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, kindValidation, publicMessage(err, auth.ErrInvalidInput))
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, kindConflict, publicMessage(err, auth.ErrAlreadyExists))
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, kindNotFound, publicMessage(err, auth.ErrNotFound))
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, r, http.StatusUnauthorized, kindUnauthorized, "token expired")
	case errors.Is(err, auth.ErrTokenInvalid):
		writeError(w, r, http.StatusUnauthorized, kindUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, kindUnauthorized, publicMessage(err, auth.ErrUnauthorized))
	default:
		obs.Logger().WithFields(logrus.Fields{
			"request_id": audit.RequestIDFromContext(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).WithError(err).Error("request failed")
		writeError(w, r, http.StatusInternalServerError, kindInternal, internalMessage)
	}
}

// publicMessage strips the sentinel prefix from a wrapped error, leaving the
// detail that was added at the failure site.
func publicMessage(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if i := strings.LastIndex(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return msg
}
