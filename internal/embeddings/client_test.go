package embeddings

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/murmurhq/murmur/internal/fault"
)

func TestEmbedReturnsVectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		w.Write([]byte(`{"embedding": [0.1, 0.2, 0.3]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "test-embed"})
	vecs, err := c.Embed(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 3 {
		t.Errorf("vectors: got %v", vecs)
	}
}

func TestEmbedErrorStatusIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "test-embed"})
	_, err := c.Embed(context.Background(), []string{"one"})
	if err == nil {
		t.Fatal("want error on status 500")
	}

	var pe *fault.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("want *fault.ProviderError, got %T: %v", err, err)
	}
	if pe.Provider != "embeddings" {
		t.Errorf("provider: got %q", pe.Provider)
	}
}

func TestEmbedUnreachableHostIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "test-embed"})
	_, err := c.Embed(context.Background(), []string{"one"})
	if err == nil {
		t.Fatal("want error when the host is unreachable")
	}
	var pe *fault.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("want *fault.ProviderError, got %T: %v", err, err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if diff := got - tc.want; diff > 1e-6 || diff < -1e-6 {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}
