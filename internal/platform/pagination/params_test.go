package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"
)

func TestParseDefaultsAndCaps(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size, got %d", params.PageSize)
	}

	params, err = Parse(url.Values{"pageSize": {"500"}}, Options{MaxPageSize: 50})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageSize != 50 {
		t.Fatalf("expected page size capped at 50, got %d", params.PageSize)
	}
}

func TestParseRejectsInvalidInput(t *testing.T) {
	if _, err := Parse(url.Values{"pageSize": {"abc"}}, Options{}); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected invalid page size, got %v", err)
	}
	if _, err := Parse(url.Values{"pageSize": {"0"}}, Options{}); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected invalid page size for zero, got %v", err)
	}
	if _, err := Parse(url.Values{"pageToken": {"!!"}}, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	cursor := Cursor{CreatedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC), ID: "ord_1"}
	token := EncodeToken(cursor)
	params, err := Parse(url.Values{"pageToken": {token}}, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !params.Cursor.CreatedAt.Equal(cursor.CreatedAt) || params.Cursor.ID != cursor.ID {
		t.Fatalf("unexpected cursor %+v", params.Cursor)
	}
}

type entry struct {
	id      string
	created time.Time
}

func entryKey(e entry) (time.Time, string) { return e.created, e.id }

func TestSliceWalksAllPages(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	var items []entry
	for i := 0; i < 7; i++ {
		// two entries share each timestamp to exercise the ID tie breaker
		items = append(items, entry{id: fmt.Sprintf("e%02d", i), created: base.Add(time.Duration(i/2) * time.Hour)})
	}
	SortNewestFirst(items, entryKey)

	var (
		seen  []string
		token string
		pages int
	)
	for {
		page, next, err := Slice(items, 3, token, entryKey)
		if err != nil {
			t.Fatalf("Slice: %v", err)
		}
		pages++
		for _, e := range page {
			seen = append(seen, e.id)
		}
		if next == "" {
			break
		}
		token = next
	}
	if pages != 3 || len(seen) != 7 {
		t.Fatalf("expected 3 pages with 7 entries, got %d pages %v", pages, seen)
	}
	if seen[0] != "e06" || seen[6] != "e00" {
		t.Fatalf("unexpected order %v", seen)
	}
}
