package replicate

import (
	"errors"
	"fmt"
)

// APIError is a non-2xx response from the remote job API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("replicate API: HTTP %d: %s", e.StatusCode, e.Body)
}

func asAPIError(err error, target **APIError) bool {
	return errors.As(err, target)
}
