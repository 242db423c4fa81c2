package common

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Cursor is a keyset pagination token over (created_at, id). The composite
// key keeps ordering stable under concurrent inserts sharing a timestamp.
// Wire format: base64("{RFC3339Nano}|{uuid}").
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Paging directions for cursor traversal. The API orders newest-first, so
// "older" pages forward through the result set and "newer" pages backward.
const (
	DirectionOlder = "older"
	DirectionNewer = "newer"
)

func EncodeCursor(createdAt time.Time, id uuid.UUID) string {
	raw := fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), id.String())
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(token string) (Cursor, error) {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return Cursor{}, fmt.Errorf("invalid cursor format")
	}

	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor timestamp: %w", err)
	}

	id, err := uuid.Parse(parts[1])
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor id: %w", err)
	}

	return Cursor{CreatedAt: ts, ID: id}, nil
}

// CursorPage is the envelope for cursor-paginated listings. NextCursor
// continues in the requested direction, PrevCursor goes back; Total is only
// populated by search, where a filtered count is cheap enough to take.
type CursorPage struct {
	Message    string      `json:"message"`
	Data       interface{} `json:"data"`
	HasMore    bool        `json:"hasMore"`
	NextCursor string      `json:"nextCursor,omitempty"`
	PrevCursor string      `json:"prevCursor,omitempty"`
	Total      int64       `json:"total,omitempty"`
}

func NewCursorPage(data interface{}, hasMore bool, nextCursor, prevCursor string) CursorPage {
	return CursorPage{
		Message:    "success",
		Data:       data,
		HasMore:    hasMore,
		NextCursor: nextCursor,
		PrevCursor: prevCursor,
	}
}
