package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/polypaper/polypaper/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An event groups one or more related markets.
type APIEvent struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Slug        string      `json:"slug"`
	Description string      `json:"description"`
	Active      flexBool    `json:"active"`
	Closed      bool        `json:"closed"`
	Markets     []APIMarket `json:"markets"`
	EndDate     string      `json:"end_date"`
	CreatedAt   string      `json:"created_at"`
	UpdatedAt   string      `json:"updated_at"`
}

// ToDomainEvent converts an APIEvent to a domain.Event.
func (e *APIEvent) ToDomainEvent() domain.Event {
	ev := domain.Event{
		ID:          e.ID,
		Slug:        e.Slug,
		Title:       e.Title,
		Description: e.Description,
		Active:      bool(e.Active),
		Closed:      e.Closed,
	}
	if t, err := time.Parse(time.RFC3339, e.CreatedAt); err == nil {
		ev.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, e.UpdatedAt); err == nil {
		ev.UpdatedAt = t
	}
	if e.Closed {
		if t, err := time.Parse(time.RFC3339, e.EndDate); err == nil {
			ev.ClosedAt = &t
		}
	}
	return ev
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID              string   `json:"id"`
	Question        string   `json:"question"`
	ConditionID     string   `json:"condition_id"`
	Slug            string   `json:"slug"`
	Active          flexBool `json:"active"` // API may send bool or "true"/"false" string
	Closed          bool     `json:"closed"`
	AcceptingOrders flexBool `json:"accepting_orders"`
	Outcomes        string   `json:"outcomes"`       // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	OutcomePrices   string   `json:"outcomePrices"`  // JSON-encoded: e.g. "[\"0.5\",\"0.5\"]"
	ClobTokenIDs    string   `json:"clob_token_ids"` // JSON-encoded: e.g. "[\"123\",\"456\"]"
	Description     string   `json:"description"`
	EndDateISO      string   `json:"end_date_iso"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

// Binary reports whether the market has exactly two outcomes with clob
// token IDs. Only binary markets are mirrored locally.
func (m *APIMarket) Binary() bool {
	return len(m.TokenIDs()) == 2 && len(m.OutcomeLabels()) == 2
}

// TokenIDs decodes the JSON-encoded clob token ID list.
func (m *APIMarket) TokenIDs() []string {
	return decodeStringArray(m.ClobTokenIDs)
}

// OutcomeLabels decodes the JSON-encoded outcome label list.
func (m *APIMarket) OutcomeLabels() []string {
	return decodeStringArray(m.Outcomes)
}

// Prices decodes the JSON-encoded outcome price list. Values stay strings:
// resolution detection compares against the exact literal "1".
func (m *APIMarket) Prices() []string {
	return decodeStringArray(m.OutcomePrices)
}

// ToDomainMarket converts a Gamma APIMarket belonging to the given event to
// a domain.Market plus its two outcomes. Callers should check Binary first;
// non-binary markets convert with an empty outcome slice.
func (m *APIMarket) ToDomainMarket(eventID string) (domain.Market, []domain.Outcome) {
	dm := domain.Market{
		ID:              m.ID,
		EventID:         eventID,
		Question:        m.Question,
		Slug:            m.Slug,
		ConditionID:     m.ConditionID,
		Active:          bool(m.Active),
		Closed:          m.Closed,
		AcceptingOrders: bool(m.AcceptingOrders) && !m.Closed,
	}
	if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
		dm.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, m.UpdatedAt); err == nil {
		dm.UpdatedAt = t
	}
	if m.Closed && m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			dm.ClosedAt = &t
		}
	}

	tokens := m.TokenIDs()
	labels := m.OutcomeLabels()
	if len(tokens) != 2 || len(labels) != 2 {
		return dm, nil
	}

	outcomes := make([]domain.Outcome, 2)
	for i := 0; i < 2; i++ {
		outcomes[i] = domain.Outcome{
			MarketID: m.ID,
			TokenID:  tokens[i],
			Label:    labels[i],
			Index:    i,
		}
	}
	return dm, outcomes
}

// decodeStringArray parses a JSON-encoded string array like
// "[\"Yes\",\"No\"]". Returns nil when the field is empty or malformed.
func decodeStringArray(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIMidpoint is the response from the CLOB /midpoint endpoint.
type APIMidpoint struct {
	Mid string `json:"mid"`
}

// APIPrice is the response from the CLOB /price endpoint.
type APIPrice struct {
	Price string `json:"price"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// wsSubscribe is the single subscription command sent after connect, naming
// every asset the stream should carry.
type wsSubscribe struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids"`
}

// WSEnvelope carries just enough of a frame to route it by event type.
type WSEnvelope struct {
	EventType string `json:"event_type"`
}

// PriceChangeEntry is one per-asset best-bid/best-ask update inside a
// price_change frame.
type PriceChangeEntry struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Side    string `json:"side"` // "BUY" or "SELL"
	Size    string `json:"size"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// PriceChangeMessage carries one or more best-bid/best-ask updates. Trade
// prices never travel on this message type.
type PriceChangeMessage struct {
	EventType string             `json:"event_type"`
	Market    string             `json:"market"`
	Changes   []PriceChangeEntry `json:"price_changes"`
	Timestamp string             `json:"timestamp"`
}

// LastTradePriceMessage carries the most recent executed trade price for a
// single asset. Bid/ask never travel on this message type.
type LastTradePriceMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"`
}

// parseWSTimestamp interprets the venue's millisecond-epoch timestamp
// strings, falling back to now.
func parseWSTimestamp(raw string) time.Time {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms)
	}
	return time.Now()
}
