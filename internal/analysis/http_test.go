package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPAnalyzerRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req struct {
			Transcript string `json:"transcript"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Transcript != "User: hello\n" {
			t.Errorf("transcript = %q", req.Transcript)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Result{Sentiment: "positive", Summary: "friendly chat", Flagged: true})
	}))
	t.Cleanup(srv.Close)

	res, err := NewHTTPAnalyzer(srv.URL).Analyze(context.Background(), "User: hello\n")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Sentiment != "positive" || res.Summary != "friendly chat" || !res.Flagged {
		t.Fatalf("result = %+v", res)
	}
}

func TestHTTPAnalyzerDoesNotRetryClientErrors(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "bad transcript", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	if _, err := NewHTTPAnalyzer(srv.URL).Analyze(context.Background(), "x"); err == nil {
		t.Fatalf("expected error from failing analyzer")
	}
	if hits != 1 {
		t.Fatalf("analyzer hit %d times for a 400, want 1", hits)
	}
}

func TestHTTPAnalyzerRetriesTransientFailure(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Result{Sentiment: "neutral", Summary: "second try"})
	}))
	t.Cleanup(srv.Close)

	res, err := NewHTTPAnalyzer(srv.URL).Analyze(context.Background(), "x")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Summary != "second try" || hits != 2 {
		t.Fatalf("result = %+v after %d hits", res, hits)
	}
}

func TestHTTPAnalyzerRequiresURL(t *testing.T) {
	if _, err := NewHTTPAnalyzer("").Analyze(context.Background(), "x"); err == nil {
		t.Fatalf("expected error for unconfigured analyzer")
	}
}
