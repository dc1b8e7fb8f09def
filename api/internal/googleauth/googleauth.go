// Package googleauth turns a service-account key into Google API client options.
package googleauth

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// ClientOptions authenticates with the service-account key in credJSON, or the
// key file at credFile. With neither, Application Default Credentials are used.
func ClientOptions(ctx context.Context, credJSON, credFile string, scopes ...string) ([]option.ClientOption, error) {
	key := []byte(strings.TrimSpace(credJSON))
	if len(key) == 0 && strings.TrimSpace(credFile) != "" {
		b, err := os.ReadFile(credFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		key = b
	}
	if len(key) == 0 {
		return []option.ClientOption{option.WithScopes(scopes...)}, nil
	}

	cfg, err := google.JWTConfigFromJSON(key, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	return []option.ClientOption{option.WithTokenSource(cfg.TokenSource(ctx))}, nil
}
