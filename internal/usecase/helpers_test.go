package usecase

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/logstream"
	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
	"github.com/jsanchez-sales-hub/sht-4502/internal/pkg/config"
)

type logLine map[string]any

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildLog(t *testing.T, lines ...logLine) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, l := range lines {
		b, err := json.Marshal(l)
		require.NoError(t, err)
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func newSource(data []byte) domain.LogSource {
	return logstream.NewBytesSource(data, config.DefaultRules(), logstream.Options{KeepRaw: true}, testLogger(), nil)
}

func cardEvent(session string, ms int64, card string) logLine {
	return logLine{
		"runId": session,
		"time":  ms,
		"msg":   "Response from processCard",
		"cardData": map[string]any{
			"cardNumber":     card,
			"expirationDate": "12/29",
			"cvv":            "123",
			"lastKnownIp":    "10.0.0.1",
		},
	}
}

func failureEvent(session string, ms int64) logLine {
	return logLine{"runId": session, "time": ms, "msg": "Error while making Requests"}
}

func paymentEvent(session string, ms int64, ok bool) logLine {
	return logLine{"runId": session, "time": ms, "msg": "Response from payOnLandingPagePnm", "isSuccess": ok}
}

func timelineOf(t *testing.T, lines ...logLine) *Timeline {
	t.Helper()
	agg := NewSessionAggregator(config.DefaultRules(), nil, testLogger())
	tl, err := agg.CollectEvents(t.Context(), newSource(buildLog(t, lines...)), nil)
	require.NoError(t, err)
	return tl
}
