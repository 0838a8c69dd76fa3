package handlers

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/nihonselect/api/internal/platform/pagination"
	"github.com/nihonselect/api/internal/services"
)

var listPaging = pagination.Options{DefaultPageSize: pagination.DefaultPageSize, MaxPageSize: pagination.DefaultMaxPageSize}

// parsePagination validates page_size and page_token before they reach a service.
func parsePagination(query url.Values) (services.Pagination, error) {
	params, err := pagination.Parse(query, listPaging)
	switch {
	case errors.Is(err, pagination.ErrInvalidPageToken):
		return services.Pagination{}, errInvalidParam("page_token is not a valid cursor")
	case err != nil:
		return services.Pagination{}, errInvalidParam("page_size must be an integer")
	}
	return services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}, nil
}

// parseTimeParam accepts RFC3339 timestamps or plain dates. A date is midnight UTC.
func parseTimeParam(raw string) (time.Time, error) {
	return parseTimeIn(raw, time.UTC)
}

// parseTimeIn is parseTimeParam with plain dates taken as midnight in loc.
func parseTimeIn(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func optionalTimeParam(query url.Values, name string) (*time.Time, error) {
	raw := strings.TrimSpace(query.Get(name))
	if raw == "" {
		return nil, nil
	}
	ts, err := parseTimeParam(raw)
	if err != nil {
		return nil, errInvalidParam(name + " must be an RFC3339 timestamp or YYYY-MM-DD date")
	}
	return &ts, nil
}

// parseFilterValues accepts repeated and comma separated values: ?status=a&status=b,c.
func parseFilterValues(values []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
