// Package loadgen posts synthetic transactions to a running gateway.
package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	firstnames = []string{"Ada", "Grace", "Alan", "Edsger", "Barbara", "Donald", "Frances", "Ken"}
	lastnames  = []string{"Lovelace", "Hopper", "Turing", "Dijkstra", "Liskov", "Knuth", "Allen", "Thompson"}
	products   = []string{"mechanical keyboard", "usb-c dock", "noise cancelling headphones", "4k monitor", "standing desk", "webcam"}
)

type Config struct {
	BaseURL     string // e.g. http://localhost:3000
	Count       int
	Concurrency int
}

type Result struct {
	Sent     int64
	Failed   int64
	Duration time.Duration
}

type payload struct {
	TrxID     string  `json:"trx_id"`
	Firstname string  `json:"firstname"`
	Lastname  string  `json:"lastname"`
	Email     string  `json:"email"`
	Price     float64 `json:"price"`
	ProdDesc  string  `json:"prod_desc"`
}

// newPayload builds one transaction keyed by a version 1 (time-based) UUID,
// matching the timeuuid key of the wide-column table.
func newPayload(rng *rand.Rand) (payload, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return payload{}, err
	}
	first := firstnames[rng.Intn(len(firstnames))]
	last := lastnames[rng.Intn(len(lastnames))]
	return payload{
		TrxID:     id.String(),
		Firstname: first,
		Lastname:  last,
		Email:     strings.ToLower(first+"."+last) + "@example.com",
		Price:     float64(rng.Intn(100000)) / 100,
		ProdDesc:  products[rng.Intn(len(products))],
	}, nil
}

// Run posts cfg.Count transactions to /write. A non-2xx answer or a body
// other than END-WRITE counts as a failure; transport errors abort the run.
func Run(ctx context.Context, client *http.Client, cfg Config, logger *slog.Logger) (Result, error) {
	if cfg.Count <= 0 {
		return Result{}, fmt.Errorf("count must be positive, got %d", cfg.Count)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	url := strings.TrimRight(cfg.BaseURL, "/") + "/write"

	var sent, failed atomic.Int64
	start := time.Now()

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for i := 0; i < cfg.Count; i++ {
		rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))
		g.Go(func() error {
			p, err := newPayload(rng)
			if err != nil {
				return err
			}
			ok, err := post(gCtx, client, url, p)
			if err != nil {
				return err
			}
			sent.Add(1)
			if !ok {
				failed.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()

	res := Result{Sent: sent.Load(), Failed: failed.Load(), Duration: time.Since(start)}
	logger.Info("seed finished",
		"sent", res.Sent,
		"failed", res.Failed,
		"duration", res.Duration,
	)
	return res, err
}

func post(ctx context.Context, client *http.Client, url string, p payload) (bool, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 64))
	return resp.StatusCode == http.StatusOK && string(reply) == "END-WRITE", nil
}
