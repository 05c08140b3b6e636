package corpus

import (
	"fmt"
	"regexp"
	"strings"
)

// Separator joins a parent target and a child's local segment.
const Separator = "-"

var localSegmentPattern = regexp.MustCompile(`^[\w-]+$`)

// ValidationError reports client input that can never succeed as submitted.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ValidateTarget checks a target against its optional parent. A child target
// must be the parent's target followed by Separator and a non-empty local
// segment of word characters and hyphens.
func ValidateTarget(target, parent string) error {
	local := target
	if parent != "" {
		prefix := parent + Separator
		if !strings.HasPrefix(target, prefix) {
			return validationErrorf("The target name %q does not start with the parent's id %q", target, parent)
		}
		local = target[len(prefix):]
	}
	if !localSegmentPattern.MatchString(local) {
		return validationErrorf("Invalid target name %q", target)
	}
	return nil
}
