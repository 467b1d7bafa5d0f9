package vault

import (
	"fmt"
	"regexp"
	"strings"

	"keyhaven/internal/config"
	"keyhaven/internal/domain"
)

var folderNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// SplitSecretPath normalises secretPath and returns its folder segments.
// Trailing slashes are dropped and a missing leading slash is tolerated; the
// root path yields no segments. Every segment must be a valid folder name.
func SplitSecretPath(secretPath string) ([]string, error) {
	if len(secretPath) > config.MaxSecretPathLength {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("secret path exceeds %d characters", config.MaxSecretPathLength),
		}
	}

	trimmed := strings.TrimRight(strings.TrimSpace(secretPath), "/")
	trimmed = strings.TrimPrefix(trimmed, "/")
	if trimmed == "" {
		return nil, nil
	}

	segments := strings.Split(trimmed, "/")
	for _, seg := range segments {
		if err := validateFolderName(seg); err != nil {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("invalid secret path %q: %s", secretPath, err.Error()),
			}
		}
	}
	return segments, nil
}

// NormalizeSecretPath returns the canonical form of secretPath: a leading
// slash, no trailing slash, "/" for the root.
func NormalizeSecretPath(secretPath string) (string, error) {
	segments, err := SplitSecretPath(secretPath)
	if err != nil {
		return "", err
	}
	return joinSecretPath(segments), nil
}

func joinSecretPath(segments []string) string {
	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/")
}

func validateFolderName(name string) error {
	if name == "" {
		return fmt.Errorf("empty folder name")
	}
	if len(name) > config.MaxFolderNameLength {
		return fmt.Errorf("folder name exceeds %d characters", config.MaxFolderNameLength)
	}
	if !folderNamePattern.MatchString(name) {
		return fmt.Errorf("folder name %q may only contain letters, digits, '-' and '_'", name)
	}
	return nil
}

// importKey identifies an import target across the graph walk
func importKey(envSlug, secretPath string) string {
	return envSlug + ":" + secretPath
}
