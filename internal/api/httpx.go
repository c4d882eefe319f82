package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// CallerHeader carries the base58 identity of the already-verified signer.
const CallerHeader = "X-Caller-Identity"

// NewRequestID returns an opaque request id.
func NewRequestID() string { return "req_" + uuid.NewString() }

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodes the request body into dst, rejecting unknown fields.
func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// ErrorBody is the error envelope of every failed request.
type ErrorBody struct {
	RequestID string      `json:"request_id"`
	Error     ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure. ProgramCode mirrors the on-chain error
// number when one applies.
type ErrorDetail struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	ProgramCode int    `json:"program_code,omitempty"`
}

// WriteError writes the error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string, programCode int) {
	WriteJSON(w, status, ErrorBody{
		RequestID: NewRequestID(),
		Error:     ErrorDetail{Code: code, Message: message, ProgramCode: programCode},
	})
}
