// Package endpoint resolves the chat backend base URL from the persisted
// api-mode setting.
package endpoint

import (
	"errors"
	"fmt"
	"strings"

	"inkwell/api/internal/store"
)

// ErrMissingBaseURL is returned when production mode is selected without a
// configured base URL. Production never falls back silently.
var ErrMissingBaseURL = errors.New("production base url not configured")

const (
	defaultDevOrigin  = "http://localhost:8081"
	localVercelOrigin = "http://localhost:3000"
)

// Resolver turns (api mode, relative path) into an absolute URL.
type Resolver struct {
	// BaseURL is the remote backend used in production mode.
	BaseURL string
	// DevOrigin is the dev-server origin used in local_expo mode.
	// Defaults to localhost:8081 when empty.
	DevOrigin string
}

// Resolve returns the absolute URL for the given mode, or an error for
// unknown modes and unconfigured production.
func (r Resolver) Resolve(mode, relativePath string) (string, error) {
	path := relativePath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	switch mode {
	case store.APIModeProduction:
		if r.BaseURL == "" {
			return "", ErrMissingBaseURL
		}
		return strings.TrimSuffix(r.BaseURL, "/") + path, nil
	case store.APIModeLocalExpo:
		origin := r.DevOrigin
		if origin == "" {
			origin = defaultDevOrigin
		}
		return strings.TrimSuffix(origin, "/") + path, nil
	case store.APIModeLocalVercel:
		return localVercelOrigin + path, nil
	default:
		return "", fmt.Errorf("unknown api mode %q", mode)
	}
}
