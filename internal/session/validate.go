package session

import (
	"fmt"
	"regexp"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// maxSocketPath is the sun_path limit on macOS; Linux allows 108.
const maxSocketPath = 104

// ValidateName checks that name is usable as a session directory name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match %s", name, nameRegexp)
	}
	return nil
}

// ValidateSocketPath rejects socket paths the kernel would truncate.
func ValidateSocketPath(path string) error {
	if len(path) >= maxSocketPath {
		return fmt.Errorf("socket path %s is %d bytes, limit is %d; use a shorter HOME or session name",
			path, len(path), maxSocketPath-1)
	}
	return nil
}
