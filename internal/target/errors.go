package target

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTargetNotFound means the configured destination does not exist or is not a group.
// It is a configuration problem and is never retried.
var ErrTargetNotFound = errors.New("target not found")

// NotFoundError carries what the resolver saw so operators can fix the config.
type NotFoundError struct {
	// Query is the configured name or id.
	Query string
	// Available lists every group name seen during a by-name search.
	Available []string
	// Reason is set for by-id lookups ("not a group", "unknown id").
	Reason string
}

func (e *NotFoundError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v: %q", ErrTargetNotFound, e.Query)
	if e.Reason != "" {
		b.WriteString(" (")
		b.WriteString(e.Reason)
		b.WriteString(")")
	}
	if len(e.Available) > 0 {
		b.WriteString("; available groups: ")
		b.WriteString(strings.Join(e.Available, ", "))
	}
	return b.String()
}

func (e *NotFoundError) Is(target error) bool { return target == ErrTargetNotFound }
