package usecase

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
	"github.com/jsanchez-sales-hub/sht-4502/internal/pkg/config"
)

func TestExtractor_Snapshot(t *testing.T) {
	x := NewExtractor(config.DefaultRules())

	tests := []struct {
		name   string
		line   logLine
		want   domain.Snapshot
		wantOK bool
	}{
		{
			name: "Card data",
			line: cardEvent("run-a", 1, "4111111111111111"),
			want: domain.Snapshot{
				Variant:        domain.VariantCardData,
				CardNumber:     "4111111111111111",
				ExpirationDate: "12/29",
				CVV:            "123",
				LastKnownIP:    "10.0.0.1",
			},
			wantOK: true,
		},
		{
			name: "Stored card",
			line: logLine{"runId": "run-a", "time": 1, "availableStoredCard": map[string]any{
				"cardNumber": "4222222222222222", "expirationDate": "01/30", "cvv": "999", "trucentiveLink": "https://t.example/abc",
			}},
			want: domain.Snapshot{
				Variant:        domain.VariantAvailableStoredCard,
				CardNumber:     "4222222222222222",
				ExpirationDate: "01/30",
				CVV:            "999",
				Link:           "https://t.example/abc",
			},
			wantOK: true,
		},
		{
			name: "Card data wins over stored card",
			line: logLine{"runId": "run-a", "time": 1,
				"cardData":            map[string]any{"cardNumber": "4111111111111111", "expirationDate": "12/29"},
				"availableStoredCard": map[string]any{"cardNumber": "4222222222222222", "expirationDate": "01/30"},
			},
			want:   domain.Snapshot{Variant: domain.VariantCardData, CardNumber: "4111111111111111", ExpirationDate: "12/29"},
			wantOK: true,
		},
		{
			name: "Incomplete card data falls through without merging",
			line: logLine{"runId": "run-a", "time": 1,
				"cardData":            map[string]any{"cardNumber": "4111111111111111", "cvv": "123", "lastKnownIp": "10.0.0.1"},
				"availableStoredCard": map[string]any{"cardNumber": "4222222222222222", "expirationDate": "01/30"},
			},
			want:   domain.Snapshot{Variant: domain.VariantAvailableStoredCard, CardNumber: "4222222222222222", ExpirationDate: "01/30"},
			wantOK: true,
		},
		{
			name:   "Numeric card number",
			line:   logLine{"runId": "run-a", "time": 1, "cardData": map[string]any{"cardNumber": 4111111111111111, "expirationDate": "12/29"}},
			want:   domain.Snapshot{Variant: domain.VariantCardData, CardNumber: "4111111111111111", ExpirationDate: "12/29"},
			wantOK: true,
		},
		{
			name: "No card",
			line: logLine{"runId": "run-a", "time": 1, "msg": "hello"},
		},
		{
			name: "Card data is not an object",
			line: logLine{"runId": "run-a", "time": 1, "cardData": "4111111111111111"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := timelineOf(t, tt.line)
			require.Equal(t, 1, tl.Len())

			got, ok := x.Snapshot(tl.At(0))

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractor_Extract(t *testing.T) {
	x := NewExtractor(config.DefaultRules())

	t.Run("Latest snapshot wins and order id falls back", func(t *testing.T) {
		tl := timelineOf(t,
			logLine{"runId": "run-a", "time": 1, "msg": "Started", "orderId": " ORD-1 "},
			cardEvent("run-a", 2, "4111111111111111"),
			cardEvent("run-a", 3, "4222222222222222"),
			failureEvent("run-a", 4),
		)

		c, ok := x.Extract(tl.Session("run-a"))

		require.True(t, ok)
		assert.Equal(t, "run-a", c.SessionID)
		assert.Equal(t, "ORD-1", c.OrderID)
		assert.Equal(t, "4222222222222222", c.CardNumber)
		assert.Equal(t, time.UnixMilli(3).UTC(), c.Timestamp)
	})

	t.Run("Snapshot event order id is preferred", func(t *testing.T) {
		card := cardEvent("run-a", 2, "4111111111111111")
		card["orderId"] = "ORD-2"
		tl := timelineOf(t,
			logLine{"runId": "run-a", "time": 1, "orderId": "ORD-1"},
			card,
		)

		c, ok := x.Extract(tl.Session("run-a"))

		require.True(t, ok)
		assert.Equal(t, "ORD-2", c.OrderID)
	})

	t.Run("Numeric order id", func(t *testing.T) {
		tl := timelineOf(t,
			logLine{"runId": "run-a", "time": 1, "orderId": 12345},
			cardEvent("run-a", 2, "4111111111111111"),
		)

		c, ok := x.Extract(tl.Session("run-a"))

		require.True(t, ok)
		assert.Equal(t, "12345", c.OrderID)
		assert.Equal(t, "12345", c.CorrelationKey())
	})

	t.Run("Events without a time order by log position", func(t *testing.T) {
		untimed := cardEvent("run-a", 0, "4111111111111111")
		delete(untimed, "time")
		timed := cardEvent("run-a", 1, "4222222222222222")
		later := cardEvent("run-a", 0, "4333333333333333")
		delete(later, "time")

		c, ok := x.Extract(timelineOf(t, timed, untimed).Session("run-a"))
		require.True(t, ok)
		assert.Equal(t, "4222222222222222", c.CardNumber)

		c, ok = x.Extract(timelineOf(t, untimed, later).Session("run-a"))
		require.True(t, ok)
		assert.Equal(t, "4333333333333333", c.CardNumber)
		assert.True(t, c.Timestamp.IsZero())
	})

	t.Run("Enrichment from the session", func(t *testing.T) {
		tl := timelineOf(t,
			cardEvent("run-a", 1, "4111111111111111"),
			logLine{"runId": "run-a", "time": 2, "msg": "Initial card data stored for trucentiveLink: https://t.example/xyz"},
			logLine{"runId": "run-a", "time": 3, "msg": "Response from getAmountToCollect", "amountData": map[string]any{"amount": 25.5}},
		)

		c, ok := x.Extract(tl.Session("run-a"))

		require.True(t, ok)
		assert.Equal(t, "https://t.example/xyz", c.Link)
		assert.Equal(t, "25.5", c.Balance)
		assert.Empty(t, c.Review)
	})

	t.Run("No snapshot", func(t *testing.T) {
		tl := timelineOf(t, failureEvent("run-a", 1))

		c, ok := x.Extract(tl.Session("run-a"))

		assert.False(t, ok)
		assert.Nil(t, c)
	})
}

func TestExtractor_Enrich(t *testing.T) {
	x := NewExtractor(config.DefaultRules())

	tests := []struct {
		name        string
		lines       []logLine
		wantLink    string
		wantBalance string
	}{
		{
			name: "Top-level link field",
			lines: []logLine{
				{"runId": "run-a", "time": 1, "trucentiveLink": "https://t.example/prop", "msg": "Initial card data stored for trucentiveLink: https://t.example/msg"},
			},
			wantLink: "https://t.example/prop",
		},
		{
			name: "Stored card link",
			lines: []logLine{
				{"runId": "run-a", "time": 1, "availableStoredCard": map[string]any{"trucentiveLink": "https://t.example/deep"}},
			},
			wantLink: "https://t.example/deep",
		},
		{
			name: "First event with a link wins",
			lines: []logLine{
				{"runId": "run-a", "time": 1, "msg": "Initial card data stored for trucentiveLink: https://t.example/first"},
				{"runId": "run-a", "time": 2, "trucentiveLink": "https://t.example/second"},
			},
			wantLink: "https://t.example/first",
		},
		{
			name: "String amount",
			lines: []logLine{
				{"runId": "run-a", "time": 1, "msg": "Response from getAmountToCollect", "amountData": map[string]any{"amount": "40"}},
			},
			wantBalance: "40",
		},
		{
			name: "Non-numeric amount is ignored",
			lines: []logLine{
				{"runId": "run-a", "time": 1, "msg": "Response from getAmountToCollect", "amountData": map[string]any{"amount": "n/a"}},
			},
		},
		{
			name: "Missing amount data",
			lines: []logLine{
				{"runId": "run-a", "time": 1, "msg": "Response from getAmountToCollect"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := timelineOf(t, tt.lines...)
			c := domain.Candidate{SessionID: "run-a"}

			x.Enrich(&c, tl.Session("run-a"))

			assert.Equal(t, tt.wantLink, c.Link)
			assert.Equal(t, tt.wantBalance, c.Balance)
		})
	}

	t.Run("Existing values are kept", func(t *testing.T) {
		tl := timelineOf(t, logLine{"runId": "run-a", "time": 1, "trucentiveLink": "https://t.example/new"})
		c := domain.Candidate{SessionID: "run-a", Link: "https://t.example/old"}

		x.Enrich(&c, tl.Session("run-a"))

		assert.Equal(t, "https://t.example/old", c.Link)
	})
}

func TestDeduplicate(t *testing.T) {
	at := func(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
	input := []domain.Candidate{
		{SessionID: "run-1", CardNumber: "4111", Timestamp: at(2)},
		{SessionID: "run-2", CardNumber: "4111", Timestamp: at(9)},
		{SessionID: "run-3", CardNumber: "4222", Timestamp: at(5)},
		{SessionID: "run-5", CardNumber: "4333", Timestamp: at(5), OrderID: "B"},
		{SessionID: "run-4", CardNumber: "4333", Timestamp: at(5), OrderID: "A"},
	}
	want := []domain.Candidate{
		{SessionID: "run-2", CardNumber: "4111", Timestamp: at(9)},
		{SessionID: "run-3", CardNumber: "4222", Timestamp: at(5)},
		{SessionID: "run-4", CardNumber: "4333", Timestamp: at(5), OrderID: "A"},
	}

	t.Run("Latest per key", func(t *testing.T) {
		assert.Equal(t, want, Deduplicate(input))
	})

	t.Run("Idempotent", func(t *testing.T) {
		once := Deduplicate(input)
		assert.Equal(t, once, Deduplicate(once))
	})

	t.Run("Independent of input order", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		for i := 0; i < 20; i++ {
			shuffled := append([]domain.Candidate(nil), input...)
			rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
			assert.Equal(t, want, Deduplicate(shuffled))
		}
	})

	t.Run("Input is not modified", func(t *testing.T) {
		orig := append([]domain.Candidate(nil), input...)
		Deduplicate(input)
		assert.Equal(t, orig, input)
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Empty(t, Deduplicate(nil))
	})
}
