package samples

import "strings"

// SanitizeName maps a user-supplied sample name onto the storage key alphabet
// [A-Za-z0-9_-]. Every other rune becomes a single underscore. The empty
// string maps to "_", so the result is always a usable key.
func SanitizeName(name string) string {
	if name == "" {
		return "_"
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if isKeyRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	return b.String()
}

// ValidName reports whether name is already a sanitized key.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !isKeyRune(r) {
			return false
		}
	}
	return true
}

func isKeyRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	default:
		return false
	}
}
