package file

import (
	"fmt"
	"strings"

	"github.com/opd-ai/toxfile/limits"
)

// pathSeparators are replaced in offered names so they stay inside the
// friend's directory.
var pathSeparators = strings.NewReplacer("/", "_", "\\", "_")

// SanitizeFileName replaces every path separator in name with '_'.
func SanitizeFileName(name string) string {
	return pathSeparators.Replace(name)
}

// acceptableFileName sanitizes an offered name and reports why it cannot be used.
func acceptableFileName(offered string) (string, error) {
	if err := limits.ValidateFileName(offered); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}

	name := SanitizeFileName(offered)
	switch name {
	case "":
		return "", fmt.Errorf("%w: empty file name", ErrInvalidOffer)
	case ".", "..":
		return "", fmt.Errorf("%w: file name %q", ErrInvalidOffer, name)
	}
	if strings.IndexByte(name, 0) >= 0 {
		return "", fmt.Errorf("%w: file name contains NUL", ErrInvalidOffer)
	}
	return name, nil
}
