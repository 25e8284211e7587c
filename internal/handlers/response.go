package handlers

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"agent-triggers/internal/common/errors"
	"agent-triggers/internal/common/logging"
)

// ErrorResponse is the body of every non-2xx admin response
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Fields  interface{} `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}

	resp := ErrorResponse{Error: string(errors.GetType(err)), Message: errors.PublicMessage(err)}
	if resp.Error == "" {
		resp.Error = string(errors.ErrTypeInternal)
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) && appErr.Context != nil {
		resp.Fields = appErr.Context["fields"]
	}

	if status >= http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).Error("Request failed", err,
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
		)
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil
		}
		return errors.ValidationError("request body is not valid JSON").WithCause(err)
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.ValidationError("failed to read request body").WithCause(err)
	}
	return body, nil
}
