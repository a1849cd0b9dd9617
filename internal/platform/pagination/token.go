package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cursor is the position after which the next page starts. Listings are
// ordered newest first with the ID as tie breaker.
type Cursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

// IsZero reports whether the cursor points at the first page.
func (c Cursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == ""
}

// Precedes reports whether an entry keyed by (createdAt, id) was already
// returned on a page ending at c.
func (c Cursor) Precedes(createdAt time.Time, id string) bool {
	if c.IsZero() {
		return false
	}
	if createdAt.Equal(c.CreatedAt) {
		return id >= c.ID
	}
	return createdAt.After(c.CreatedAt)
}

// EncodeToken serialises the provided cursor into a base64 URL-safe page token.
func EncodeToken(cursor Cursor) string {
	if cursor.IsZero() {
		return ""
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeToken parses the page token produced by EncodeToken back into a cursor.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if cursor.IsZero() {
		return Cursor{}, fmt.Errorf("%w: empty cursor", ErrInvalidPageToken)
	}
	return cursor, nil
}
