package model

import (
	"errors"
	"strings"
)

// ErrInvalidCredentials is returned when a service URL or key is missing.
var ErrInvalidCredentials = errors.New("service url and key are required")

// Compiled-in hosted backend credentials. They point at the public
// project the site ships with and carry only the anonymous role key.
const (
	defaultServiceURL = "https://datagate-site.supabase.co"
	defaultServiceKey = "sb_publishable_datagate_site_anon"
)

// Credentials authenticate the hosted backend client.
type Credentials struct {
	ServiceURL string `json:"url"`
	ServiceKey string `json:"key"`
}

// DefaultCredentials returns the compiled-in credentials used when nothing
// has been stored.
func DefaultCredentials() Credentials {
	return Credentials{
		ServiceURL: defaultServiceURL,
		ServiceKey: defaultServiceKey,
	}
}

// Validate returns ErrInvalidCredentials when either field is blank.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.ServiceURL) == "" || strings.TrimSpace(c.ServiceKey) == "" {
		return ErrInvalidCredentials
	}
	return nil
}

// MaskedKey returns the key with all but its last four characters hidden,
// suitable for logs and settings screens.
func (c Credentials) MaskedKey() string {
	key := strings.TrimSpace(c.ServiceKey)
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

// ConnectionTestResult is the outcome of probing candidate credentials.
// Error is non-empty exactly when Success is false.
type ConnectionTestResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
