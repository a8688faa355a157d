package registryclient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ManuGH/distvote/internal/session"
)

// ErrUnavailable is returned when no configured registry answers.
var ErrUnavailable = errors.New("no session registry available")

// StatusError is a non-2xx registry answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry answered %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// Unwrap maps 404 onto session.ErrNotFound.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return session.ErrNotFound
	}
	return nil
}

// retryable reports whether err warrants another attempt or a failover.
// Client errors (4xx) never do.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError
	}
	return err != nil
}
