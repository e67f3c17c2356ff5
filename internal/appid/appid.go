// Package appid resolves the application identity used for binary naming,
// config paths, and the environment variable prefix.
package appid

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"
)

// Builtin is the identity used when no `.fulmen/app.yaml` can be discovered.
func Builtin() *appidentity.Identity {
	return &appidentity.Identity{
		Vendor:      "keyrotor",
		BinaryName:  "keyrotor",
		EnvPrefix:   "KEYROTOR_",
		ConfigName:  "keyrotor",
		Description: "API key rotation pool with per-key and aggregate rate limits",
	}
}

// Get returns the discovered identity, or Builtin when none exists.
//
// An explicit FULMEN_APP_IDENTITY_PATH stays authoritative: if it points at a
// missing file the error is returned rather than masked.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	identity, err := appidentity.Get(ctx)
	if err == nil && identity != nil {
		return identity, nil
	}

	var notFound *appidentity.NotFoundError
	explicit := strings.TrimSpace(os.Getenv(appidentity.EnvIdentityPath)) != ""
	if errors.As(err, &notFound) && !explicit {
		return Builtin(), nil
	}
	if err == nil {
		return Builtin(), nil
	}
	return nil, err
}
