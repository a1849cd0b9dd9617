package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits pageSize.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps the supported pageSize to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Params bundles the page size and token extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options control how Parse behaves for a given handler.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// FromRequest parses pageSize and pageToken from the request query string.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes the provided query values and returns normalised Params.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}
	pageSize, err := parsePageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: pageSize}
	if raw := strings.TrimSpace(values.Get("pageToken")); raw != "" {
		cursor, err := DecodeToken(raw)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = raw
		params.Cursor = cursor
	}
	return params, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	defaultPageSize := opts.DefaultPageSize
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	if defaultPageSize > maxPageSize {
		defaultPageSize = maxPageSize
	}

	if strings.TrimSpace(raw) == "" {
		return defaultPageSize, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	if value > maxPageSize {
		value = maxPageSize
	}
	return value, nil
}

// Key extracts the ordering key of a listed entry.
type Key[T any] func(T) (time.Time, string)

// SortNewestFirst orders items by creation time descending, then ID descending.
func SortNewestFirst[T any](items []T, key Key[T]) {
	sort.SliceStable(items, func(i, j int) bool {
		ci, idi := key(items[i])
		cj, idj := key(items[j])
		if ci.Equal(cj) {
			return idi > idj
		}
		return ci.After(cj)
	})
}

// Slice returns the page of items following token. items must already be
// sorted with SortNewestFirst.
func Slice[T any](items []T, pageSize int, token string, key Key[T]) ([]T, string, error) {
	cursor, err := DecodeToken(token)
	if err != nil {
		return nil, "", err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	start := 0
	for start < len(items) {
		createdAt, id := key(items[start])
		if !cursor.Precedes(createdAt, id) {
			break
		}
		start++
	}
	end := start + pageSize
	if end >= len(items) {
		return items[start:], "", nil
	}
	page := items[start:end]
	createdAt, id := key(page[len(page)-1])
	return page, EncodeToken(Cursor{CreatedAt: createdAt, ID: id}), nil
}
