package httptracker

import (
	"fmt"
	"net/http"
)

// StatusError is returned from Announce when the tracker replies with a status other than 200 OK.
type StatusError struct {
	Code   int
	Header http.Header
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tracker replied with http status %d %s", e.Code, http.StatusText(e.Code))
}
