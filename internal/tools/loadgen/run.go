package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config drives one generation run against a live instance.
type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	TotalRequests int
	Failures      int
	StatusClasses map[string]int
}

// Run generates chat traffic: health probes, register/login churn and
// message sends from a pool of freshly registered accounts. It never talks
// to the database directly, everything goes through the public API.
func Run(ctx context.Context, cfg Config) (Result, error) {
	cfg.Profile = normalizeProfile(cfg.Profile)
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}

	client := &http.Client{Timeout: 10 * time.Second}

	var mu sync.Mutex
	res := Result{StatusClasses: map[string]int{}}
	record := func(status int, err error) {
		mu.Lock()
		defer mu.Unlock()
		res.TotalRequests++
		if err != nil || status >= 500 {
			res.Failures++
		}
		if err == nil {
			res.StatusClasses[classifyStatusClass(status)]++
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	interval := time.Second / time.Duration(cfg.RPS)
	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < cfg.Concurrency; i++ {
		worker := newWorker(cfg, client, rand.New(rand.NewSource(cfg.Seed+int64(i))))
		g.Go(func() error {
			ticker := time.NewTicker(interval * time.Duration(cfg.Concurrency))
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					status, err := worker.step(gctx)
					record(status, err)
				}
			}
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return res, err
	}
	return res, nil
}

type worker struct {
	cfg    Config
	client *http.Client
	rng    *rand.Rand

	email       string
	password    string
	accessToken string
	peerID      uint
}

func newWorker(cfg Config, client *http.Client, rng *rand.Rand) *worker {
	return &worker{cfg: cfg, client: client, rng: rng, password: "Loadgen#" + uuid.NewString()[:13]}
}

// step issues one request. Auth state is built lazily: the first steps
// register and log in, later steps reuse the access token.
func (w *worker) step(ctx context.Context) (int, error) {
	switch w.cfg.Profile {
	case "auth":
		return w.stepAuth(ctx)
	case "messages":
		if w.accessToken == "" {
			return w.stepAuth(ctx)
		}
		return w.stepMessage(ctx)
	default: // mixed
		if w.accessToken == "" || w.rng.Intn(4) == 0 {
			return w.stepAuth(ctx)
		}
		if w.rng.Intn(5) == 0 {
			return w.get(ctx, "/health/ready")
		}
		return w.stepMessage(ctx)
	}
}

func (w *worker) stepAuth(ctx context.Context) (int, error) {
	if w.email == "" {
		w.email = fmt.Sprintf("loadgen-%s@example.com", uuid.NewString()[:8])
		status, err := w.postJSON(ctx, "/api/v1/auth/register", map[string]string{
			"email":    w.email,
			"username": strings.SplitN(w.email, "@", 2)[0],
			"password": w.password,
		}, nil)
		if err != nil || status >= 300 {
			w.email = ""
		}
		return status, err
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	status, err := w.postJSON(ctx, "/api/v1/auth/login", map[string]string{
		"email":      w.email,
		"password":   w.password,
		"session_id": uuid.NewString(),
	}, &body)
	if err == nil && status == http.StatusOK {
		w.accessToken = body.AccessToken
		w.peerID = uint(w.rng.Intn(100) + 1)
	}
	return status, err
}

func (w *worker) stepMessage(ctx context.Context) (int, error) {
	if w.rng.Intn(2) == 0 {
		return w.postJSON(ctx, fmt.Sprintf("/api/v1/conversations/conv-%d/messages", w.rng.Intn(20)), map[string]any{
			"recipient_id": w.peerID,
			"content":      "loadgen message " + uuid.NewString()[:8],
		}, nil)
	}
	return w.postJSON(ctx, fmt.Sprintf("/api/v1/rooms/room-%d/messages", w.rng.Intn(5)), map[string]any{
		"content": "loadgen broadcast " + uuid.NewString()[:8],
	}, nil)
}

func (w *worker) get(ctx context.Context, path string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.BaseURL+path, nil)
	if err != nil {
		return 0, err
	}
	return w.do(req, nil)
}

func (w *worker) postJSON(ctx context.Context, path string, payload any, out any) (int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.accessToken)
	}
	return w.do(req, out)
}

func (w *worker) do(req *http.Request, out any) (int, error) {
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusUnauthorized {
		// Token revoked or expired mid-run; rebuild auth state next step.
		w.accessToken = ""
	}
	if out != nil && resp.StatusCode < 300 {
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && len(envelope.Data) > 0 {
			_ = json.Unmarshal(envelope.Data, out)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(profile string) string {
	p := strings.ToLower(strings.TrimSpace(profile))
	switch p {
	case "auth", "messages", "mixed":
		return p
	default:
		return "mixed"
	}
}
