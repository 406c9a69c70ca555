package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownModel is matched by *UnknownModelError. If returned in
// conjunction with an HTTP request, it should be paired with a 404 response
// status.
var ErrUnknownModel = errors.New("unknown model")

// UnknownModelError reports a name that is not in the catalog.
type UnknownModelError struct {
	Name        string
	Suggestions []string
}

func (e *UnknownModelError) Error() string {
	msg := fmt.Sprintf("unknown model %q", e.Name)
	if len(e.Suggestions) > 0 {
		msg += " (did you mean " + strings.Join(e.Suggestions, ", ") + "?)"
	}
	return msg
}

// Is implements error matching for UnknownModelError.
func (e *UnknownModelError) Is(target error) bool {
	return target == ErrUnknownModel
}
