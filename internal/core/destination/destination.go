// Package destination describes where a backup repository lives and how the
// backup engine reaches it. Each storage backend is one implementation of
// Destination, selected by the config's destination type tag.
package destination

import (
	"context"
	"errors"
	"fmt"

	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
)

// ErrInvalidConfig marks a destination configuration that failed validation.
var ErrInvalidConfig = errors.New("invalid destination configuration")

type Destination interface {
	Type() domain.DestinationType

	// RepositoryAddress is the engine repository string. It is stable for a
	// given configuration and never contains secrets.
	RepositoryAddress() string

	// CredentialEnvironment carries secrets for the engine process.
	CredentialEnvironment() map[string]string

	// Validate checks structurally required fields. A nil result means valid.
	Validate() error

	// EnsureRepositoryInitialized prepares the storage location. It is
	// idempotent and never touches existing repository content.
	EnsureRepositoryInitialized(ctx context.Context, password string) error

	// RepositoryLikelyExists reports whether an engine repository appears to
	// exist already.
	RepositoryLikelyExists(ctx context.Context) bool

	// Redacted returns a loggable view of the configuration.
	Redacted() map[string]any
}

// Options tune backend behaviour that is not part of a stored config.
type Options struct {
	// CheckS3 enables a ListObjectsV2 existence check for S3 repositories.
	CheckS3 bool
}

// New builds the Destination for a type tag and its key/value configuration.
func New(destType domain.DestinationType, config map[string]string, opts Options) (Destination, error) {
	if config == nil {
		config = map[string]string{}
	}
	switch destType {
	case domain.DestinationLocal:
		return newLocal(config), nil
	case domain.DestinationS3:
		return newS3(config, opts.CheckS3), nil
	case domain.DestinationFTP:
		return newFTP(config), nil
	case domain.DestinationB2:
		return newB2(config), nil
	default:
		return nil, fmt.Errorf("%w: unknown destination type %q", ErrInvalidConfig, destType)
	}
}

func missingField(destType domain.DestinationType, field string) error {
	return fmt.Errorf("%w: %s destination requires %s", ErrInvalidConfig, destType, field)
}

func requireFields(destType domain.DestinationType, config map[string]string, fields ...string) error {
	for _, field := range fields {
		if config[field] == "" {
			return missingField(destType, field)
		}
	}
	return nil
}
