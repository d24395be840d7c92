package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(Config{
		Endpoint: srv.URL,
		APIKey:   "test-key",
		Timeout:  2 * time.Second,
	}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewHTTPClient() failed: %v", err)
	}
	return c
}

func TestNewHTTPClient_NotConfigured(t *testing.T) {
	_, err := NewHTTPClient(Config{}, nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
	_, err = NewHTTPClient(Config{Endpoint: "https://x.example"}, nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("missing key: error = %v, want ErrNotConfigured", err)
	}
}

func TestUpsert_HeadersAndBody(t *testing.T) {
	var gotMethod, gotPath, gotPrefer, gotKey, gotAuth string
	var gotBody map[string]any

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotPrefer = r.Header.Get("Prefer")
		gotKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{}]`))
	})

	err := c.Upsert(context.Background(), "meals", Record{"code": "M1", "name": "Chili"})
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	if gotMethod != http.MethodPost || gotPath != "/meals" {
		t.Errorf("request = %s %s, want POST /meals", gotMethod, gotPath)
	}
	if gotPrefer != "return=representation,resolution=merge-duplicates" {
		t.Errorf("Prefer = %q", gotPrefer)
	}
	if gotKey != "test-key" || gotAuth != "Bearer test-key" {
		t.Errorf("auth headers = %q / %q", gotKey, gotAuth)
	}
	if gotBody["code"] != "M1" {
		t.Errorf("body code = %v, want M1", gotBody["code"])
	}
}

func TestDelete_FiltersByID(t *testing.T) {
	var gotQuery string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.Delete(context.Background(), "shopping_trips", "7"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if gotQuery != "id=eq.7" {
		t.Errorf("query = %q, want id=eq.7", gotQuery)
	}
}

func TestSelectAll_DecodesRows(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "select=*" {
			t.Errorf("query = %q, want select=*", r.URL.RawQuery)
		}
		w.Write([]byte(`[{"code":"M1"},{"code":"M2"}]`))
	})

	rows, err := c.SelectAll(context.Background(), "meals")
	if err != nil {
		t.Fatalf("SelectAll() failed: %v", err)
	}
	if len(rows) != 2 || rows[1]["code"] != "M2" {
		t.Errorf("rows = %v", rows)
	}
}

func TestDo_ErrorStatus(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "permission denied", http.StatusUnauthorized)
	})

	err := c.Insert(context.Background(), "meals", Record{"code": "M1"})
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestExecuteWithRetry_StopsAfterMaxTries(t *testing.T) {
	attempts := 0
	err := ExecuteWithRetry(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestExecuteWithRetry_SucceedsMidway(t *testing.T) {
	attempts := 0
	err := ExecuteWithRetry(context.Background(), 5, time.Millisecond, func() error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithRetry() failed: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestExecuteWithRetry_NotConfiguredIsPermanent(t *testing.T) {
	attempts := 0
	err := ExecuteWithRetry(context.Background(), 5, time.Millisecond, func() error {
		attempts++
		return ErrNotConfigured
	})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on permanent error)", attempts)
	}
}
