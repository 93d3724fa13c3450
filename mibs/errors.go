package mibs

import (
	"fmt"
	"strings"

	apperrors "github.com/jrsteele09/safe-zone-client/internal/errors"
	"github.com/tidwall/gjson"
)

// APIError is a non-2xx response from the MIB API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mibs api: status %d: %s", e.StatusCode, e.Message)
}

// errorMessage pulls a readable message out of an error body.
func errorMessage(body []byte) string {
	for _, field := range []string{"message", "error_description", "error"} {
		if v := gjson.GetBytes(body, field); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return strings.TrimSpace(string(body))
}

// UserMessage turns an API failure into the text shown to the user.
func UserMessage(action string, err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case apperrors.As(err, &apiErr):
		return fmt.Sprintf("Cannot %s MIB: %s", action, apiErr.Message)
	case apperrors.Is(err, apperrors.ErrNotLoggedIn):
		return "You are not logged in. Log in and try again."
	case apperrors.Is(err, apperrors.ErrNoResponse):
		return "Server did not respond. Try again later."
	default:
		return "Something went wrong sending the data. Try again later."
	}
}
