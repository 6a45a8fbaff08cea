package hosted

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ericfisherdev/datagate/internal/domain/model"
)

// maxErrorBody bounds how much of an unparseable error body is echoed back.
const maxErrorBody = 256

// apiError covers both the PostgREST error shape ({code, message, details,
// hint}) and the storage error shape ({statusCode, error, message}).
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
	Error   string `json:"error"`
}

// classify converts a non-2xx response into a *model.BackendError.
func classify(op string, status int, body []byte) error {
	be := &model.BackendError{
		Backend:    model.BackendHosted,
		Op:         op,
		StatusCode: status,
	}

	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err == nil {
		be.Code = parsed.Code
		be.Message = parsed.Message
		if be.Message == "" {
			be.Message = parsed.Error
		}
		if parsed.Details != "" && be.Message != "" {
			be.Message += " (" + parsed.Details + ")"
		}
	}

	if be.Message == "" {
		text := strings.TrimSpace(string(body))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody] + "..."
		}
		be.Message = text
	}
	if be.Message == "" {
		be.Message = http.StatusText(status)
	}
	return be
}

func decodeError(op string, err error) error {
	return &model.BackendError{
		Backend: model.BackendHosted,
		Op:      op,
		Message: "decode response",
		Err:     err,
	}
}
