// Package embedder talks to a local embedding HTTP endpoint
// ("llama.cpp server"-compatible: POST /v1/embeddings, GET /health),
// normalizing returned vectors for cosine search.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"
)

const (
	embedPath     = "/v1/embeddings"
	healthPath    = "/health"
	embedTimeout  = 300 * time.Second
	healthTimeout = 5 * time.Second
	maxRetries    = 3
	poolSize      = 8
)

// Config configures a LlamaEmbedder.
type Config struct {
	Endpoint   string
	Dimensions int // 0 autodetects from the first real response
}

// LlamaEmbedder generates embeddings via a local HTTP embedding server.
type LlamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	endpoint  string

	mu     sync.RWMutex
	closed bool
	dims   int
}

// New creates a LlamaEmbedder against cfg.Endpoint. It does not block on a
// health check; callers that need liveness should call Health first.
func New(cfg Config) *LlamaEmbedder {
	transport := &http.Transport{
		MaxIdleConns:        poolSize,
		MaxIdleConnsPerHost: poolSize,
		MaxConnsPerHost:     poolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}
	// No client-level Timeout: each request gets its own context deadline
	// so Health (5s) and Embed (300s) don't share a budget.
	return &LlamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		endpoint:  cfg.Endpoint,
		dims:      cfg.Dimensions,
	}
}

// Dimensions returns the fixed embedding width, 0 if not yet known.
func (e *LlamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// Health reports whether the embedding server is reachable and responding.
func (e *LlamaEmbedder) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+healthPath, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("embedding server unhealthy: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

type embedRequest struct {
	Input any `json:"input"`
}

type embedDatum struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embedResponse struct {
	Data []embedDatum `json:"data"`
}

// EmbedBatch embeds texts in a single request and returns normalized
// vectors in the same order, retrying transient failures with exponential
// backoff.
func (e *LlamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100<<attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		vectors, err := e.doEmbed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		slog.Debug("embedding attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Int("texts", len(texts)),
			slog.String("error", err.Error()))

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", maxRetries, lastErr)
}

func (e *LlamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	body, err := json.Marshal(embedRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.endpoint+embedPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	type result struct {
		vectors [][]float32
		err     error
	}
	resultCh := make(chan result, 1)

	go func() {
		resp, err := e.client.Do(req)
		if err != nil {
			resultCh <- result{err: err}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resultCh <- result{err: fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))}
			return
		}

		var parsed embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			resultCh <- result{err: fmt.Errorf("decode embed response: %w", err)}
			return
		}

		vectors := make([][]float32, len(parsed.Data))
		for _, d := range parsed.Data {
			if d.Index < 0 || d.Index >= len(vectors) {
				continue
			}
			normalized := make([]float32, len(d.Embedding))
			copy(normalized, d.Embedding)
			normalizeVector(normalized)
			vectors[d.Index] = normalized
		}
		resultCh <- result{vectors: vectors}
	}()

	select {
	case <-reqCtx.Done():
		e.forceCloseConnections()
		select {
		case <-resultCh:
		case <-time.After(100 * time.Millisecond):
		}
		return nil, reqCtx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return nil, r.err
		}
		e.recordDimensions(r.vectors)
		return r.vectors, nil
	}
}

func (e *LlamaEmbedder) recordDimensions(vectors [][]float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dims == 0 {
		for _, v := range vectors {
			if len(v) > 0 {
				e.dims = len(v)
				break
			}
		}
	}
}

func (e *LlamaEmbedder) forceCloseConnections() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.transport == nil {
		return
	}
	e.transport.CloseIdleConnections()
	e.transport = &http.Transport{
		MaxIdleConns:        poolSize,
		MaxIdleConnsPerHost: poolSize,
		MaxConnsPerHost:     poolSize * 2,
		IdleConnTimeout:     10 * time.Second,
		DisableKeepAlives:   true,
	}
	e.client.Transport = e.transport
}

// Close releases pooled connections.
func (e *LlamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.transport != nil {
		e.transport.CloseIdleConnections()
	}
	return nil
}

func normalizeVector(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
