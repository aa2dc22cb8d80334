package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != healthPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := New(Config{Endpoint: srv.URL})
	require.NoError(t, e.Health(context.Background()))
}

func TestHealthUnreachable(t *testing.T) {
	e := New(Config{Endpoint: "http://127.0.0.1:1"})
	require.Error(t, e.Health(context.Background()))
}

func TestEmbedBatchNormalizesAndOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := embedResponse{Data: []embedDatum{
			{Index: 1, Embedding: []float32{0, 3, 4}},
			{Index: 0, Embedding: []float32{3, 4, 0}},
		}}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	e := New(Config{Endpoint: srv.URL})
	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)

	require.InDelta(t, 1.0, float64(vectors[0][0])*float64(vectors[0][0])+
		float64(vectors[0][1])*float64(vectors[0][1])+float64(vectors[0][2])*float64(vectors[0][2]), 1e-4)
	// Slot 0 holds index 0's [3,4,0] and slot 1 holds index 1's [0,3,4].
	require.InDelta(t, 0.6, float64(vectors[0][0]), 1e-4)
	require.InDelta(t, 0.8, float64(vectors[1][2]), 1e-4)
	require.Equal(t, 3, e.Dimensions())
}

func TestEmbedBatchRetriesOnFailureThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := embedResponse{Data: []embedDatum{{Index: 0, Embedding: []float32{1, 0}}}}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	e := New(Config{Endpoint: srv.URL})
	vectors, err := e.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	require.GreaterOrEqual(t, attempts, 2)
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	e := New(Config{Endpoint: "http://unused"})
	vectors, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vectors)
}

func TestEmbedBatchClosedEmbedder(t *testing.T) {
	e := New(Config{Endpoint: "http://unused"})
	require.NoError(t, e.Close())
	_, err := e.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
}

func TestEmbedBatchContextCancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer close(block)
	defer srv.Close()

	e := New(Config{Endpoint: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.EmbedBatch(ctx, []string{"x"})
	require.Error(t, err)
}
