package preview

import "errors"

var (
	// ErrTooLarge indicates the response grew past the byte cap of its content type.
	ErrTooLarge = errors.New("preview response too large")
	// ErrBadStatus indicates a non-2xx response.
	ErrBadStatus = errors.New("preview response status not ok")
	// ErrTooManyRedirects indicates the redirect chain exceeded MaxRedirects.
	ErrTooManyRedirects = errors.New("preview too many redirects")
)
