// Command loggen writes a synthetic payment pipeline log for load testing
// the report and verify commands.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"

	"github.com/jsanchez-sales-hub/sht-4502/internal/pkg/logger"
)

type options struct {
	sessions    int
	concurrency int
	rps         int
	cardPool    int
	failRate    float64
	storedRate  float64
	garbageRate float64
	seed        uint64
}

type entry map[string]any

func main() {
	out := flag.String("o", "logs-storage/all-time.log", "output file; a .zst suffix compresses it")
	var opts options
	flag.IntVar(&opts.sessions, "sessions", 10000, "number of sessions to generate")
	flag.IntVar(&opts.concurrency, "c", 8, "number of concurrent session workers")
	flag.IntVar(&opts.rps, "rps", 0, "sessions started per second, 0 for unlimited")
	flag.IntVar(&opts.cardPool, "cards", 2000, "number of distinct cards; fewer cards means more reuse")
	flag.Float64Var(&opts.failRate, "fail", 0.3, "fraction of sessions whose payment fails")
	flag.Float64Var(&opts.storedRate, "stored", 0.2, "fraction of sessions that use a stored card")
	flag.Float64Var(&opts.garbageRate, "garbage", 0.001, "fraction of lines written truncated")
	flag.Uint64Var(&opts.seed, "seed", 1, "random seed")
	flag.Parse()

	log := logger.New("info", "auto").With("component", "loggen")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, err := os.Create(*out)
	if err != nil {
		log.Error("failed to create output", "error", err)
		os.Exit(1)
	}
	defer f.Close()

	var w io.Writer = f
	var enc *zstd.Encoder
	if strings.HasSuffix(*out, ".zst") {
		enc, err = zstd.NewWriter(f)
		if err != nil {
			log.Error("failed to create zstd writer", "error", err)
			os.Exit(1)
		}
		w = enc
	}
	bw := bufio.NewWriterSize(w, 1<<20)

	start := time.Now()
	lines, bytes, err := generate(ctx, bw, opts)
	if err == nil {
		err = bw.Flush()
	}
	if err == nil && enc != nil {
		err = enc.Close()
	}
	if err != nil {
		log.Error("generation failed", "error", err)
		os.Exit(1)
	}

	log.Info("log generated",
		"path", *out,
		"sessions", opts.sessions,
		"lines", humanize.Comma(lines),
		"size", humanize.Bytes(uint64(bytes)),
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)
}

// generate runs the session workers and serializes their events through a
// single writer, which stamps each line so the file stays chronological.
func generate(ctx context.Context, w io.Writer, opts options) (int64, int64, error) {
	var limiter *rate.Limiter
	if opts.rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.rps), opts.concurrency)
	}
	cards := cardPool(opts.cardPool, opts.seed)

	events := make(chan entry, 1024)
	var next atomic.Int64
	var wg sync.WaitGroup
	for i := range opts.concurrency {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(opts.seed, uint64(workerID)+1))
			for next.Add(1) <= int64(opts.sessions) {
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						return
					}
				}
				for _, e := range session(rng, cards, opts) {
					select {
					case events <- e:
					case <-ctx.Done():
						return
					}
				}
			}
		}(i)
	}
	go func() {
		wg.Wait()
		close(events)
	}()

	rng := rand.New(rand.NewPCG(opts.seed, 0))
	var lines, written int64
	var last int64
	for e := range events {
		now := time.Now().UnixMilli()
		if now < last {
			now = last
		}
		last = now
		e["time"] = now

		b, err := json.Marshal(e)
		if err != nil {
			return lines, written, err
		}
		if rng.Float64() < opts.garbageRate {
			b = b[:len(b)/2]
		}
		b = append(b, '\n')
		n, err := w.Write(b)
		written += int64(n)
		if err != nil {
			return lines, written, err
		}
		lines++
	}
	return lines, written, ctx.Err()
}

// session returns the events of one payment attempt in order.
func session(rng *rand.Rand, cards []string, opts options) []entry {
	runID := uuid.NewString()
	orderID := fmt.Sprintf("ORD-%08d", rng.IntN(100_000_000))
	card := cards[rng.IntN(len(cards))]
	exp := fmt.Sprintf("%02d/%02d", rng.IntN(12)+1, 27+rng.IntN(5))
	cvv := fmt.Sprintf("%03d", rng.IntN(1000))
	link := "https://www.trucentive.com/r/" + uuid.NewString()[:8]

	evs := []entry{
		{"runId": runID, "msg": "Starting payment run", "orderId": orderID},
	}
	if rng.Float64() < opts.storedRate {
		evs = append(evs, entry{"runId": runID, "msg": "Card stored to use", "availableStoredCard": entry{
			"cardNumber": card, "expirationDate": exp, "cvv": cvv, "trucentiveLink": link,
		}})
	} else {
		evs = append(evs,
			entry{"runId": runID, "msg": "Initial card data stored for trucentiveLink: " + link},
			entry{"runId": runID, "msg": "Response from processCard", "cardData": entry{
				"cardNumber": card, "expirationDate": exp, "cvv": cvv,
				"lastKnownIp": fmt.Sprintf("10.%d.%d.%d", rng.IntN(256), rng.IntN(256), rng.IntN(256)),
			}},
		)
	}
	evs = append(evs, entry{"runId": runID, "msg": "Response from getAmountToCollect",
		"amountData": entry{"amount": float64(rng.IntN(20000)) / 100}})

	switch {
	case rng.Float64() >= opts.failRate:
		evs = append(evs, entry{"runId": runID, "msg": "Response from payOnLandingPagePnm", "isSuccess": true})
	case rng.IntN(2) == 0:
		evs = append(evs, entry{"runId": runID, "msg": "Response from payOnLandingPagePnm", "isSuccess": false})
	default:
		evs = append(evs, entry{"runId": runID, "msg": "Error while making Requests"})
	}
	return evs
}

func cardPool(n int, seed uint64) []string {
	rng := rand.New(rand.NewPCG(seed, seed^0x5eed))
	cards := make([]string, max(n, 1))
	for i := range cards {
		var b strings.Builder
		b.WriteByte('4')
		for range 15 {
			b.WriteByte(byte('0' + rng.IntN(10)))
		}
		cards[i] = b.String()
	}
	return cards
}
