package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// BackendKind selects which adapter the façade dispatches to.
type BackendKind string

const (
	// BackendHosted routes operations to the hosted backend-as-a-service.
	BackendHosted BackendKind = "hosted"
	// BackendCustomAPI routes operations to the custom REST API rooted at APIBaseURL.
	BackendCustomAPI BackendKind = "custom_api"
)

// ErrInvalidConfiguration is returned when a Configuration fails validation.
var ErrInvalidConfiguration = errors.New("invalid backend configuration")

// String returns the kind as stored in settings.
func (k BackendKind) String() string {
	return string(k)
}

// ParseBackendKind converts a stored or user-supplied value into a BackendKind.
// Both "custom_api" and "custom-api" are accepted.
func ParseBackendKind(raw string) (BackendKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "hosted", "":
		return BackendHosted, nil
	case "custom_api", "custom-api", "customapi":
		return BackendCustomAPI, nil
	default:
		return "", fmt.Errorf("%w: unknown backend kind %q", ErrInvalidConfiguration, raw)
	}
}

// Configuration selects the active backend. APIBaseURL is only meaningful
// when BackendKind is BackendCustomAPI.
type Configuration struct {
	BackendKind BackendKind `json:"backendKind"`
	APIBaseURL  string      `json:"apiBaseUrl,omitempty"`
}

// Validate reports whether the configuration can be used for routing.
func (c Configuration) Validate() error {
	switch c.BackendKind {
	case BackendHosted:
		return nil
	case BackendCustomAPI:
		base := strings.TrimSpace(c.APIBaseURL)
		if base == "" {
			return fmt.Errorf("%w: apiBaseUrl is required for %s", ErrInvalidConfiguration, BackendCustomAPI)
		}
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("%w: apiBaseUrl %q: %v", ErrInvalidConfiguration, base, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: apiBaseUrl %q must be an absolute http(s) URL", ErrInvalidConfiguration, base)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown backend kind %q", ErrInvalidConfiguration, c.BackendKind)
	}
}

// Normalized trims the base URL and drops it for the hosted kind.
func (c Configuration) Normalized() Configuration {
	if c.BackendKind != BackendCustomAPI {
		return Configuration{BackendKind: c.BackendKind}
	}
	return Configuration{
		BackendKind: c.BackendKind,
		APIBaseURL:  strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/"),
	}
}
