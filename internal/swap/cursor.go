package swap

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/veilswap/core/internal/platform/corerr"
	"github.com/veilswap/core/internal/store"
)

// cursorPayload is the JSON shape encoded into the URL-safe base64 cursor
// token of spec §4.1/§6: {created_at, id, status?, from_currency?,
// to_currency?, provider_id?}.
type cursorPayload struct {
	CreatedAt    time.Time `json:"created_at"`
	ID           string    `json:"id"`
	Status       string    `json:"status,omitempty"`
	FromCurrency string    `json:"from_currency,omitempty"`
	ToCurrency   string    `json:"to_currency,omitempty"`
	ProviderID   string    `json:"provider_id,omitempty"`
}

// EncodeCursor serializes the last row of a page plus its filter
// snapshot into a URL-safe base64 JSON token.
func EncodeCursor(lastCreatedAt time.Time, lastID string, filters store.HistoryFilters) string {
	p := cursorPayload{
		CreatedAt:    lastCreatedAt,
		ID:           lastID,
		Status:       string(filters.Status),
		FromCurrency: filters.FromCurrency,
		ToCurrency:   filters.ToCurrency,
		ProviderID:   filters.ProviderID,
	}
	raw, _ := json.Marshal(p)
	return base64.URLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a cursor token into a store.Cursor. An empty token
// decodes to (nil, nil) - "no cursor", i.e. first page.
func DecodeCursor(token string) (*store.Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, corerr.New(corerr.Validation, corerr.CodeInvalidCursor, "cursor is not valid base64", err)
	}
	var p cursorPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, corerr.New(corerr.Validation, corerr.CodeInvalidCursor, "cursor is not valid JSON", err)
	}
	if p.ID == "" || p.CreatedAt.IsZero() {
		return nil, corerr.New(corerr.Validation, corerr.CodeInvalidCursor, "cursor is missing required fields", nil)
	}
	return &store.Cursor{
		CreatedAt: p.CreatedAt,
		ID:        p.ID,
		Filters: store.HistoryFilters{
			Status:       store.SwapStatus(p.Status),
			FromCurrency: p.FromCurrency,
			ToCurrency:   p.ToCurrency,
			ProviderID:   p.ProviderID,
		},
	}, nil
}
