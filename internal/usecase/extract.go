package usecase

import (
	"bytes"
	"cmp"
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
	"github.com/jsanchez-sales-hub/sht-4502/internal/pkg/config"
)

// looseString accepts JSON strings and numbers.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = looseString(n.String())
	return nil
}

func (s looseString) trimmed() string {
	return strings.TrimSpace(string(s))
}

// orderIDOf reads the order id of ev. Numeric ids are kept as their literal text.
func orderIDOf(ev domain.Event, field string) string {
	var id looseString
	if !ev.Field(field, &id) {
		return ""
	}
	return id.trimmed()
}

type cardDataPayload struct {
	CardNumber     looseString `json:"cardNumber"`
	ExpirationDate looseString `json:"expirationDate"`
	CVV            looseString `json:"cvv"`
	LastKnownIP    looseString `json:"lastKnownIp"`
}

type storedCardPayload struct {
	CardNumber     looseString `json:"cardNumber"`
	ExpirationDate looseString `json:"expirationDate"`
	CVV            looseString `json:"cvv"`
	Link           looseString `json:"trucentiveLink"`
}

type snapshotVariant struct {
	name    domain.SnapshotVariant
	resolve func(domain.Event) (domain.Snapshot, bool)
}

// Extractor turns session events into candidates.
type Extractor struct {
	rules    config.Rules
	variants []snapshotVariant
}

// NewExtractor creates an Extractor. Variants are tried in a fixed order and
// the first one whose required fields resolve wins.
func NewExtractor(rules config.Rules) *Extractor {
	return &Extractor{
		rules: rules,
		variants: []snapshotVariant{
			{name: domain.VariantCardData, resolve: resolveCardData},
			{name: domain.VariantAvailableStoredCard, resolve: resolveStoredCard},
		},
	}
}

func resolveCardData(ev domain.Event) (domain.Snapshot, bool) {
	var p cardDataPayload
	if !ev.Field(string(domain.VariantCardData), &p) {
		return domain.Snapshot{}, false
	}
	if p.CardNumber.trimmed() == "" || p.ExpirationDate.trimmed() == "" {
		return domain.Snapshot{}, false
	}
	return domain.Snapshot{
		Variant:        domain.VariantCardData,
		CardNumber:     p.CardNumber.trimmed(),
		ExpirationDate: p.ExpirationDate.trimmed(),
		CVV:            p.CVV.trimmed(),
		LastKnownIP:    p.LastKnownIP.trimmed(),
	}, true
}

func resolveStoredCard(ev domain.Event) (domain.Snapshot, bool) {
	var p storedCardPayload
	if !ev.Field(string(domain.VariantAvailableStoredCard), &p) {
		return domain.Snapshot{}, false
	}
	if p.CardNumber.trimmed() == "" || p.ExpirationDate.trimmed() == "" {
		return domain.Snapshot{}, false
	}
	return domain.Snapshot{
		Variant:        domain.VariantAvailableStoredCard,
		CardNumber:     p.CardNumber.trimmed(),
		ExpirationDate: p.ExpirationDate.trimmed(),
		CVV:            p.CVV.trimmed(),
		Link:           p.Link.trimmed(),
	}, true
}

// Snapshot returns the card data carried by ev, if any.
func (x *Extractor) Snapshot(ev domain.Event) (domain.Snapshot, bool) {
	for _, v := range x.variants {
		if snap, ok := v.resolve(ev); ok {
			return snap, true
		}
	}
	return domain.Snapshot{}, false
}

// Extract builds the candidate of one session from its latest snapshot. The
// order id comes from the snapshot event, or else from the first session
// event that carries one.
func (x *Extractor) Extract(events []domain.Event) (*domain.Candidate, bool) {
	var (
		best    domain.Event
		snap    domain.Snapshot
		found   bool
		orderID string
	)
	for _, ev := range events {
		if orderID == "" {
			orderID = orderIDOf(ev, x.rules.OrderField)
		}
		s, ok := x.Snapshot(ev)
		if !ok {
			continue
		}
		// Later log position wins on equal timestamps.
		if !found || !ev.Time.Before(best.Time) {
			best, snap, found = ev, s, true
		}
	}
	if !found {
		return nil, false
	}

	if own := orderIDOf(best, x.rules.OrderField); own != "" {
		orderID = own
	}

	c := &domain.Candidate{
		SessionID:      best.SessionID,
		OrderID:        orderID,
		Timestamp:      best.Time,
		CardNumber:     snap.CardNumber,
		ExpirationDate: snap.ExpirationDate,
		CVV:            snap.CVV,
		LastKnownIP:    snap.LastKnownIP,
		Link:           snap.Link,
	}
	x.Enrich(c, events)
	return c, true
}

// Enrich fills a missing link or balance from the candidate's session events.
// Fields that are already set are left alone.
func (x *Extractor) Enrich(c *domain.Candidate, events []domain.Event) {
	if c.Link == "" {
		c.Link = x.link(c.SessionID, events)
	}
	if c.Balance == "" {
		c.Balance = x.balance(c.SessionID, events)
	}
}

// link uses the first session event that carries a link in any form. Within
// that event the top-level field is preferred over the message text, which is
// preferred over the stored card payload.
func (x *Extractor) link(sessionID string, events []domain.Event) string {
	for _, ev := range events {
		if ev.SessionID != sessionID {
			continue
		}
		if l := strings.TrimSpace(ev.String(x.rules.LinkField)); l != "" {
			return l
		}
		if x.rules.LinkMessagePrefix != "" && strings.HasPrefix(ev.Message, x.rules.LinkMessagePrefix) {
			if l := strings.TrimSpace(strings.TrimPrefix(ev.Message, x.rules.LinkMessagePrefix)); l != "" {
				return l
			}
		}
		var stored storedCardPayload
		if ev.Field(string(domain.VariantAvailableStoredCard), &stored) && stored.Link.trimmed() != "" {
			return stored.Link.trimmed()
		}
	}
	return ""
}

// balance reads the amount from the first balance response of the session.
// Non-numeric amounts are ignored.
func (x *Extractor) balance(sessionID string, events []domain.Event) string {
	if x.rules.BalanceMessage == "" || len(x.rules.BalancePath) == 0 {
		return ""
	}
	for _, ev := range events {
		if ev.SessionID != sessionID || ev.Message != x.rules.BalanceMessage {
			continue
		}
		raw, ok := ev.Payload[x.rules.BalancePath[0]]
		for _, key := range x.rules.BalancePath[1:] {
			if !ok {
				break
			}
			var obj map[string]json.RawMessage
			if json.Unmarshal(raw, &obj) != nil {
				ok = false
				break
			}
			raw, ok = obj[key]
		}
		if !ok {
			return ""
		}
		var amount looseString
		if json.Unmarshal(raw, &amount) != nil {
			return ""
		}
		if _, err := strconv.ParseFloat(amount.trimmed(), 64); err != nil {
			return ""
		}
		return amount.trimmed()
	}
	return ""
}

// compareRecency orders candidates newest first with a total tie-break, so
// sorting is independent of input order.
func compareRecency(a, b domain.Candidate) int {
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	return cmp.Or(
		cmp.Compare(a.SessionID, b.SessionID),
		cmp.Compare(a.OrderID, b.OrderID),
		cmp.Compare(a.ExpirationDate, b.ExpirationDate),
		cmp.Compare(a.CVV, b.CVV),
		cmp.Compare(a.LastKnownIP, b.LastKnownIP),
	)
}

// Deduplicate keeps the most recent candidate per natural key. The result is
// sorted newest first, then by key, and is the same for any permutation of
// the input.
func Deduplicate(candidates []domain.Candidate) []domain.Candidate {
	sorted := slices.Clone(candidates)
	slices.SortFunc(sorted, func(a, b domain.Candidate) int {
		return cmp.Or(cmp.Compare(a.NaturalKey(), b.NaturalKey()), compareRecency(a, b))
	})

	out := make([]domain.Candidate, 0, len(sorted))
	for i, c := range sorted {
		if i > 0 && sorted[i-1].NaturalKey() == c.NaturalKey() {
			continue
		}
		out = append(out, c)
	}

	slices.SortFunc(out, func(a, b domain.Candidate) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.NaturalKey(), b.NaturalKey())
	})
	return out
}
