package httphandler

import (
	"encoding/json"
	"net/http"

	"github.com/ericfisherdev/datagate/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"data":null,"error":{"message":"internal server error","code":"INTERNAL"}}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeData wraps v in a successful envelope.
func writeData(w http.ResponseWriter, status int, v any, count *int) {
	data, err := json.Marshal(v)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, model.CodeInternal, "internal server error")
		return
	}
	writeJSON(w, status, model.APIEnvelope{Data: data, Count: count})
}

// writeAPIError writes an error envelope with a null data member.
func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, model.APIEnvelope{
		Data:  json.RawMessage("null"),
		Error: &model.APIError{Message: message, Code: code},
	})
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}
