package destination

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vsisnet/vsispanel-sub003/internal/adapter/system"
	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
)

// repositoryMarker is the subdirectory restic creates inside every repository.
const repositoryMarker = "data"

type Local struct {
	Path string
}

func newLocal(config map[string]string) *Local {
	return &Local{Path: filepath.Clean(config["path"])}
}

func (d *Local) Type() domain.DestinationType { return domain.DestinationLocal }

func (d *Local) RepositoryAddress() string { return d.Path }

func (d *Local) CredentialEnvironment() map[string]string { return map[string]string{} }

func (d *Local) Validate() error {
	if d.Path == "" || d.Path == "." {
		return missingField(domain.DestinationLocal, "path")
	}
	if !filepath.IsAbs(d.Path) {
		return fmt.Errorf("%w: local path must be absolute: %s", ErrInvalidConfig, d.Path)
	}

	info, err := os.Stat(d.Path)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("%w: local path is not a directory: %s", ErrInvalidConfig, d.Path)
	case err == nil:
		if err := system.CheckWritable(d.Path); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	case os.IsNotExist(err):
		ancestor, err := system.NearestExistingDir(d.Path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if err := system.CheckWritable(ancestor); err != nil {
			return fmt.Errorf("%w: cannot create %s: %v", ErrInvalidConfig, d.Path, err)
		}
	default:
		return fmt.Errorf("%w: cannot stat %s: %v", ErrInvalidConfig, d.Path, err)
	}
	return nil
}

func (d *Local) EnsureRepositoryInitialized(_ context.Context, _ string) error {
	if err := system.EnsureDirectory(d.Path, 0o700); err != nil {
		return fmt.Errorf("failed to create repository directory %s: %w", d.Path, err)
	}
	if err := system.CheckWritable(d.Path); err != nil {
		return fmt.Errorf("repository directory %s is not writable: %w", d.Path, err)
	}
	return nil
}

func (d *Local) RepositoryLikelyExists(_ context.Context) bool {
	info, err := os.Stat(filepath.Join(d.Path, repositoryMarker))
	return err == nil && info.IsDir()
}

func (d *Local) Redacted() map[string]any {
	return map[string]any{
		"type":            string(domain.DestinationLocal),
		"path":            d.Path,
		"has_credentials": false,
	}
}
