package system

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// protectedPaths may never be used as a restore target, nor may anything
// beneath them unless it sits under an allowed restore root.
var protectedPaths = []string{"/", "/etc", "/var", "/usr", "/bin", "/sbin", "/boot", "/lib", "/lib64", "/proc", "/sys", "/dev", "/root"}

// EnsureDirectory creates a directory and its parents. Existing directories
// and their contents are left untouched.
func EnsureDirectory(path string, perm os.FileMode) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// CheckWritable proves that files can be created in dir by writing and
// removing a check file.
func CheckWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".vsispanel-write-check-*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("failed to remove write check in %s: %w", dir, err)
	}
	return nil
}

// NearestExistingDir walks up from path until it finds a directory that exists.
func NearestExistingDir(path string) (string, error) {
	current := filepath.Clean(path)
	for {
		info, err := os.Stat(current)
		if err == nil {
			if !info.IsDir() {
				return "", fmt.Errorf("%s is not a directory", current)
			}
			return current, nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to stat %s: %w", current, err)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		current = parent
	}
}

// CheckRestoreTarget refuses relative targets and system directories. A target
// inside one of allowedRoots is always accepted.
func CheckRestoreTarget(target string, allowedRoots []string) error {
	if !filepath.IsAbs(target) {
		return fmt.Errorf("restore target must be absolute: %s", target)
	}
	target = filepath.Clean(target)

	for _, root := range allowedRoots {
		root = filepath.Clean(root)
		if root != "/" && (target == root || strings.HasPrefix(target, root+"/")) {
			return nil
		}
	}

	for _, protected := range protectedPaths {
		if target == protected {
			return fmt.Errorf("refusing to restore into system directory: %s", target)
		}
		if protected != "/" && strings.HasPrefix(target, protected+"/") {
			return fmt.Errorf("refusing to restore into system directory: %s", target)
		}
	}
	return nil
}
