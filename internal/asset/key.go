package asset

import (
	"fmt"
	"strings"
)

// KeyPrefix is the object-store prefix every storage key lives under.
const KeyPrefix = "images/"

// SanitizeName trims name and drops every character outside [A-Za-z0-9_-].
func SanitizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name must not be empty", ErrInvalidName)
	}

	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return -1
		}
	}, name)

	if cleaned == "" {
		return "", fmt.Errorf("%w: name %q contains no allowed characters", ErrInvalidName, name)
	}
	return cleaned, nil
}

// NormalizeExtension trims and lowercases ext and strips a single leading dot.
func NormalizeExtension(ext string) (string, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return "", fmt.Errorf("%w: extension is required", ErrInvalidExtension)
	}
	return ext, nil
}

// DeriveKey maps a display name and extension to the storage key used in the
// blob store. The result is always "images/<sanitized-name>.<extension>".
func DeriveKey(name string, ext string) (string, error) {
	sanitized, err := SanitizeName(name)
	if err != nil {
		return "", err
	}

	normalized, err := NormalizeExtension(ext)
	if err != nil {
		return "", err
	}

	return KeyPrefix + sanitized + "." + normalized, nil
}
