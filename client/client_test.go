package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/dnsbatch/internal/auth"
)

const (
	testAccessKey = "okAccessKey"
	testSecretKey = "okSecretKey"
)

// signedServer rejects requests whose signature does not match the test credentials.
func signedServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		date := r.Header.Get(auth.HeaderDate)
		if _, err := time.Parse(time.RFC3339, date); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad date"})
			return
		}
		want := auth.Sign(testSecretKey, r.Method, r.URL.Path, date)
		if r.Header.Get(auth.HeaderAccessKey) != testAccessKey || r.Header.Get(auth.HeaderSignature) != want {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad signature"})
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	c, err := New(baseURL, testAccessKey, testSecretKey)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		baseURL   string
		accessKey string
		secretKey string
	}{
		{name: "empty url", accessKey: "a", secretKey: "s"},
		{name: "relative url", baseURL: "not a url", accessKey: "a", secretKey: "s"},
		{name: "missing access key", baseURL: "http://localhost", secretKey: "s"},
		{name: "missing secret key", baseURL: "http://localhost", accessKey: "a"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := New(tt.baseURL, tt.accessKey, tt.secretKey); err == nil {
				t.Fatal("New() error = nil, want error")
			}
		})
	}
}

func TestCreateBatchChange(t *testing.T) {
	t.Parallel()

	srv := signedServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/zones/batchrecordchanges" {
			t.Errorf("request = %s %s, want POST /zones/batchrecordchanges", r.Method, r.URL.Path)
		}
		var in BatchChangeInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode body error = %v", err)
		}
		if len(in.Changes) != 1 || in.Changes[0].Record.Address != "1.1.1.1" {
			t.Errorf("changes = %+v, want one A change", in.Changes)
		}
		writeJSON(w, http.StatusAccepted, BatchChange{ID: "b-1", Status: "Pending", TotalChanges: 1})
	})

	c := newTestClient(t, srv.URL)
	batch, err := c.CreateBatchChange(context.Background(), BatchChangeInput{
		Changes: []ChangeInput{{ChangeType: "Add", InputName: "www.ok.", Type: "A", Record: RecordData{Address: "1.1.1.1"}}},
	})
	if err != nil {
		t.Fatalf("CreateBatchChange() error = %v", err)
	}
	if batch.ID != "b-1" || batch.Status != "Pending" {
		t.Fatalf("batch = %+v, want b-1 Pending", batch)
	}
}

func TestListBatchChangeSummaries(t *testing.T) {
	t.Parallel()

	srv := signedServer(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		switch {
		case query.Get("startFrom") == "" && query.Get("maxItems") == "":
			writeJSON(w, http.StatusOK, map[string]any{"batchChanges": []any{}, "maxItems": 100})
		case query.Get("startFrom") == "1" && query.Get("maxItems") == "1":
			writeJSON(w, http.StatusOK, map[string]any{
				"batchChanges": []map[string]any{{"id": "b-2", "status": "Complete"}},
				"startFrom":    1,
				"nextId":       2,
				"maxItems":     1,
			})
		default:
			t.Errorf("unexpected query %s", r.URL.RawQuery)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unexpected"})
		}
	})

	c := newTestClient(t, srv.URL)

	page, err := c.ListBatchChangeSummaries(context.Background(), ListOptions{})
	if err != nil {
		t.Fatalf("ListBatchChangeSummaries() error = %v", err)
	}
	if len(page.BatchChanges) != 0 || page.StartFrom != nil || page.NextID != nil || page.MaxItems != 100 {
		t.Fatalf("page = %+v, want empty default page", page)
	}

	startFrom, maxItems := 1, 1
	page, err = c.ListBatchChangeSummaries(context.Background(), ListOptions{StartFrom: &startFrom, MaxItems: &maxItems})
	if err != nil {
		t.Fatalf("ListBatchChangeSummaries() error = %v", err)
	}
	if len(page.BatchChanges) != 1 || page.BatchChanges[0].ID != "b-2" {
		t.Fatalf("batchChanges = %+v, want [b-2]", page.BatchChanges)
	}
	if page.StartFrom == nil || *page.StartFrom != 1 || page.NextID == nil || *page.NextID != 2 {
		t.Fatalf("page = %+v, want startFrom 1 and nextId 2", page)
	}
}

func TestAPIErrors(t *testing.T) {
	t.Parallel()

	srv := signedServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch change not found"})
		default:
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		}
	})

	c := newTestClient(t, srv.URL)

	_, err := c.GetBatchChange(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("GetBatchChange() error = %v, want not found", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "batch change not found" {
		t.Fatalf("GetBatchChange() error = %v, want message from body", err)
	}

	err = c.DeleteRecordSet(context.Background(), "zone-ok", "rs-1")
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("DeleteRecordSet() error = %v, want 403", err)
	}
}

func TestWrongCredentialsAreRejected(t *testing.T) {
	t.Parallel()

	srv := signedServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, BatchChange{ID: "b-1"})
	})

	c, err := New(srv.URL, testAccessKey, "wrong")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = c.GetBatchChange(context.Background(), "b-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("GetBatchChange() error = %v, want 401", err)
	}
}

func TestWaitUntilBatchChangeCompleted(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	polls := 0
	srv := signedServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()

		status := "Pending"
		if n >= 3 {
			status = "PartialFailure"
		}
		writeJSON(w, http.StatusOK, BatchChange{ID: "b-1", Status: status})
	})

	c := newTestClient(t, srv.URL)
	var delays []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	batch, err := c.WaitUntilBatchChangeCompleted(context.Background(), "b-1", WaitOptions{Interval: 100 * time.Millisecond, MaxInterval: 150 * time.Millisecond})
	if err != nil {
		t.Fatalf("WaitUntilBatchChangeCompleted() error = %v", err)
	}
	if batch.Status != "PartialFailure" {
		t.Fatalf("status = %s, want PartialFailure", batch.Status)
	}
	want := []time.Duration{100 * time.Millisecond, 150 * time.Millisecond}
	if len(delays) != len(want) || delays[0] != want[0] || delays[1] != want[1] {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
}

func TestWaitUntilBatchChangeCompletedExhausted(t *testing.T) {
	t.Parallel()

	srv := signedServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, BatchChange{ID: "b-1", Status: "Pending"})
	})

	c := newTestClient(t, srv.URL)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	batch, err := c.WaitUntilBatchChangeCompleted(context.Background(), "b-1", WaitOptions{MaxPolls: 3})
	if !errors.Is(err, ErrWaitExhausted) {
		t.Fatalf("WaitUntilBatchChangeCompleted() error = %v, want ErrWaitExhausted", err)
	}
	if batch == nil || batch.Status != "Pending" {
		t.Fatalf("batch = %+v, want last pending snapshot", batch)
	}
}

func TestWaitUntilBatchChangeCompletedContextCancel(t *testing.T) {
	t.Parallel()

	srv := signedServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, BatchChange{ID: "b-1", Status: "Pending"})
	})

	c := newTestClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := c.WaitUntilBatchChangeCompleted(ctx, "b-1", WaitOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitUntilBatchChangeCompleted() error = %v, want context.Canceled", err)
	}
}
