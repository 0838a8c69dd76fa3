package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 20
	DefaultMaxPageSize = 100

	sizeParam  = "page_size"
	tokenParam = "page_token"
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Options bound the page size a listing endpoint accepts.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) limits() (def, ceiling int) {
	def, ceiling = o.DefaultPageSize, o.MaxPageSize
	if ceiling <= 0 {
		ceiling = DefaultMaxPageSize
	}
	if def <= 0 {
		def = DefaultPageSize
	}
	return min(def, ceiling), ceiling
}

// Params is a validated page request. Cursor is the decoded form of PageToken.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Parse reads page_size and page_token from a query string. A missing or non-positive size
// falls back to the default and oversized pages are clamped. A size that is not an integer and a
// token that does not decode are errors.
func Parse(values url.Values, opts Options) (Params, error) {
	def, ceiling := opts.limits()
	params := Params{PageSize: def}

	if raw := strings.TrimSpace(values.Get(sizeParam)); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidPageSize, raw)
		}
		if size > 0 {
			params.PageSize = min(size, ceiling)
		}
	}

	if token := strings.TrimSpace(values.Get(tokenParam)); token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		params.PageToken, params.Cursor = token, cursor
	}
	return params, nil
}
