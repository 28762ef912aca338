package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
)

type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps domain error kinds onto HTTP status codes. Anything that
// is not a domain error is an internal failure and the message is not
// leaked.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *common.Error

	if !errors.As(err, &domainErr) {
		slog.ErrorContext(r.Context(), "unhandled error", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, internalError())

		return
	}

	status := http.StatusInternalServerError

	switch domainErr.Kind {
	case common.KindValidation, common.KindUnsupported:
		status = http.StatusBadRequest
	case common.KindNotFound:
		status = http.StatusNotFound
	case common.KindState, common.KindConcurrency:
		status = http.StatusConflict
	case common.KindProvider:
		status = http.StatusBadGateway
	case common.KindIntegrity:
		status = http.StatusInternalServerError
	}

	var body errorBody
	body.Error.Kind = string(domainErr.Kind)
	body.Error.Code = domainErr.Code
	body.Error.Message = domainErr.Msg

	writeJSON(w, status, body)
}

func internalError() errorBody {
	var body errorBody
	body.Error.Kind = "internal"
	body.Error.Code = "internal_error"
	body.Error.Message = "internal error"

	return body
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		writeError(w, r, common.Wrap(common.KindValidation, "malformed_body", "cannot decode request body", err))

		return false
	}

	return true
}
