package httpclient

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openfroyo/hubsetup/pkg/engine"
)

// fastSchedule keeps retry tests quick while preserving the retry count.
var fastSchedule = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}

func newTestClient(opts Options) *Client {
	if opts.MinInterval == 0 {
		opts.MinInterval = time.Millisecond
	}
	if opts.Backoff == nil {
		opts.Backoff = fastSchedule
	}
	return New(opts)
}

// statusSequence serves the given statuses in order, then 200s.
func statusSequence(t *testing.T, statuses ...int) (*httptest.Server, *int32) {
	t.Helper()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1))
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			_, _ = io.WriteString(w, "busy")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestRetryThenSuccess(t *testing.T) {
	srv, calls := statusSequence(t, http.StatusTooManyRequests, http.StatusServiceUnavailable)
	c := newTestClient(Options{})

	resp, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if atomic.LoadInt32(calls) != 3 {
		t.Fatalf("calls = %d, want 3", *calls)
	}
	m, err := resp.Map()
	if err != nil || m["ok"] != true {
		t.Fatalf("Map() = %v, %v", m, err)
	}
}

func TestRetriesExhausted(t *testing.T) {
	srv, calls := statusSequence(t, 429, 429, 429, 429, 429)
	c := newTestClient(Options{})

	_, err := c.Get(context.Background(), srv.URL)
	if !engine.IsTransientRemote(err) {
		t.Fatalf("expected transient remote error, got %v", err)
	}
	if got := atomic.LoadInt32(calls); got != 4 {
		t.Fatalf("calls = %d, want 1 + 3 retries", got)
	}
	if engine.StatusCode(err) != 429 {
		t.Fatalf("status = %d", engine.StatusCode(err))
	}
}

func TestNoRetryOnAuthFailure(t *testing.T) {
	srv, calls := statusSequence(t, http.StatusUnauthorized)
	c := newTestClient(Options{})

	_, err := c.Post(context.Background(), srv.URL, WithXML("<x/>"))
	if !engine.IsAuthentication(err) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestOtherErrorsAreNotRetried(t *testing.T) {
	for _, status := range []int{400, 403, 404, 409, 500, 502} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv, calls := statusSequence(t, status)
			c := newTestClient(Options{})

			_, err := c.Get(context.Background(), srv.URL)
			if !engine.IsRemoteRequest(err) {
				t.Fatalf("expected remote request error, got %v", err)
			}
			if engine.StatusCode(err) != status {
				t.Fatalf("status = %d, want %d", engine.StatusCode(err), status)
			}
			if !strings.Contains(err.Error(), srv.URL) {
				t.Errorf("error should carry the URL: %v", err)
			}
			if got := atomic.LoadInt32(calls); got != 1 {
				t.Fatalf("calls = %d, want 1", got)
			}
		})
	}
}

func TestNetworkErrorIsRemoteRequest(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(Options{}).Get(context.Background(), url)
	if !engine.IsRemoteRequest(err) {
		t.Fatalf("expected remote request error, got %v", err)
	}
	if engine.StatusCode(err) != 0 {
		t.Fatalf("status = %d, want 0", engine.StatusCode(err))
	}
}

func TestMinimumIntervalBetweenAttempts(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	interval := 40 * time.Millisecond
	c := newTestClient(Options{MinInterval: interval})
	for i := 0; i < 4; i++ {
		if _, err := c.Get(context.Background(), srv.URL); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(stamps); i++ {
		// Allow a little scheduler jitter below the configured spacing.
		if gap := stamps[i].Sub(stamps[i-1]); gap < interval-5*time.Millisecond {
			t.Fatalf("gap %d = %v, want >= %v", i, gap, interval)
		}
	}
}

func TestEmptyResponses(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "204", handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }},
		{name: "empty 200", handler: func(w http.ResponseWriter, r *http.Request) {}},
		{name: "whitespace 200", handler: func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "  \n") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			resp, err := newTestClient(Options{}).Get(context.Background(), srv.URL)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !resp.IsEmpty() {
				t.Fatal("expected empty response")
			}
			m, err := resp.Map()
			if err != nil || len(m) != 0 {
				t.Fatalf("Map() = %v, %v", m, err)
			}
		})
	}
}

func TestHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, "<ok/>")
	}))
	defer srv.Close()

	c := newTestClient(Options{Authorization: NewBoomiToken("ops@example.com", "secret")})

	resp, err := c.Get(context.Background(), srv.URL, AcceptXML())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Get("Content-Type") != "" {
		t.Errorf("Content-Type sent without a body: %q", got.Get("Content-Type"))
	}
	if got.Get("Accept") != "application/xml" {
		t.Errorf("Accept = %q", got.Get("Accept"))
	}
	if !resp.IsXML() || resp.Text() != "<ok/>" {
		t.Errorf("response = %q xml=%v", resp.Text(), resp.IsXML())
	}

	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("BOOMI_TOKEN.ops@example.com:secret"))
	if got.Get("Authorization") != wantAuth {
		t.Errorf("Authorization = %q, want %q", got.Get("Authorization"), wantAuth)
	}

	if _, err := c.Post(context.Background(), srv.URL, WithJSON(map[string]string{"name": "x"})); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got.Get("Content-Type") != "application/json" || got.Get("Accept") != "application/json" {
		t.Errorf("JSON post headers = %v", got)
	}
}

func TestRequestBodyResentOnRetry(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		mu.Unlock()
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if _, err := newTestClient(Options{}).Post(context.Background(), srv.URL, WithXML("<q/>")); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(bodies) != 2 || bodies[0] != "<q/>" || bodies[1] != "<q/>" {
		t.Fatalf("bodies = %q", bodies)
	}
}

func TestContextCancelStopsRetries(t *testing.T) {
	srv, _ := statusSequence(t, 429, 429, 429, 429)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(Options{Backoff: []time.Duration{time.Hour}})
	if _, err := c.Get(ctx, srv.URL); err == nil {
		t.Fatal("expected an error from a cancelled context")
	}
}

func TestResponseDecode(t *testing.T) {
	resp := &Response{StatusCode: 200, Body: []byte(`{"id":"abc","count":2}`)}
	var out struct {
		ID    string `json:"id"`
		Count int    `json:"count"`
	}
	if err := resp.Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.ID != "abc" || out.Count != 2 {
		t.Fatalf("decoded = %+v", out)
	}

	bad := &Response{StatusCode: 200, Body: []byte("<xml/>")}
	if err := bad.Decode(&out); err == nil {
		t.Fatal("expected decode error for non-JSON body")
	}
}
