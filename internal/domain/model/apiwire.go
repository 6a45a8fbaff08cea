package model

import "encoding/json"

// DatabaseAction names a row operation of the custom API /database endpoint.
type DatabaseAction string

const (
	ActionSelect DatabaseAction = "select"
	ActionInsert DatabaseAction = "insert"
	ActionUpdate DatabaseAction = "update"
	ActionUpsert DatabaseAction = "upsert"
	ActionDelete DatabaseAction = "delete"
)

// DatabaseRequest is the JSON body of POST /database. Data holds an array of
// rows for insert and upsert, a single object for update, and is empty
// otherwise. A single object is also accepted for insert and upsert.
type DatabaseRequest struct {
	Table      string          `json:"table"`
	Action     DatabaseAction  `json:"action"`
	Data       json.RawMessage `json:"data,omitempty"`
	Filters    Filters         `json:"filters,omitempty"`
	Columns    []string        `json:"columns,omitempty"`
	OrderBy    string          `json:"orderBy,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Single     bool            `json:"single,omitempty"`
	OnConflict string          `json:"onConflict,omitempty"`
}

// APIEnvelope is the JSON body every custom API endpoint answers with,
// except successful downloads which stream raw bytes.
type APIEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error"`
	Count *int            `json:"count,omitempty"`
}

// APIError is the error member of APIEnvelope.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// DeleteFilesRequest is the JSON body of POST /delete-files.
type DeleteFilesRequest struct {
	Bucket string   `json:"bucket"`
	Paths  []string `json:"paths"`
}

// Custom API error codes.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInvalidColumn  = "INVALID_COLUMN"
	CodeNotSingle      = "NOT_SINGLE"
	CodeDuplicateKey   = "DUPLICATE_KEY"
	CodeNotFound       = "NOT_FOUND"
	CodeTooLarge       = "PAYLOAD_TOO_LARGE"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL"
)
