package customapi

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ericfisherdev/datagate/internal/domain/model"
)

// maxErrorBody bounds how much of an unparseable error body is echoed back.
const maxErrorBody = 256

// classify converts a non-2xx response into a *model.BackendError. The API
// answers with {"error":{"message","code"}} but proxies in front of it may
// answer with {"error":"..."} or {"message":"..."}, so the body is probed
// rather than decoded into a fixed shape.
func classify(op string, status int, body []byte) error {
	be := &model.BackendError{
		Backend:    model.BackendCustomAPI,
		Op:         op,
		StatusCode: status,
	}

	if gjson.ValidBytes(body) {
		errField := gjson.GetBytes(body, "error")
		switch {
		case errField.IsObject():
			be.Message = errField.Get("message").String()
			be.Code = errField.Get("code").String()
		case errField.Type == gjson.String:
			be.Message = errField.String()
		}
		if be.Message == "" {
			be.Message = gjson.GetBytes(body, "message").String()
		}
		if be.Code == "" {
			be.Code = gjson.GetBytes(body, "code").String()
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
		Backend: model.BackendCustomAPI,
		Op:      op,
		Message: "decode response",
		Err:     err,
	}
}
