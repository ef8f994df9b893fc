package digest

import "errors"

// Error kinds returned by pipeline stages. Adapters wrap the underlying
// cause with one of these so callers can branch with errors.Is.
var (
	ErrAuth  = errors.New("authentication failed")
	ErrQuery = errors.New("invalid search query")
	ErrFetch = errors.New("article fetch failed")
	ErrAPI   = errors.New("api request failed")
)

// Kind reports which error kind err carries, or "" when it carries none.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrQuery):
		return "query"
	case errors.Is(err, ErrFetch):
		return "fetch"
	case errors.Is(err, ErrAPI):
		return "api"
	default:
		return ""
	}
}
