package auth

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/httpclient"
)

var fullCredentials = Credentials{
	AccountID: "acct-123",
	User:      "ops@example.com",
	Token:     "api-token",
	HubUser:   "generated-user",
	HubToken:  "hub-token",
}

// probeServer answers each probe with the status chosen for the decoded
// username, and records the formats it saw.
type probeServer struct {
	*httptest.Server
	mu       sync.Mutex
	seen     []string
	bodies   []string
	statuses map[string]int
}

func newProbeServer(t *testing.T, statuses map[string]int) *probeServer {
	t.Helper()

	ps := &probeServer{statuses: statuses}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(r.Header.Get("Authorization"), "Basic "))
		user := strings.SplitN(string(raw), ":", 2)[0]
		body, _ := io.ReadAll(r.Body)

		ps.mu.Lock()
		ps.seen = append(ps.seen, user)
		ps.bodies = append(ps.bodies, string(body))
		status, ok := ps.statuses[user]
		ps.mu.Unlock()

		if !ok {
			status = http.StatusUnauthorized
		}
		w.WriteHeader(status)
		if status == http.StatusUnauthorized {
			_, _ = io.WriteString(w, "invalid credentials for "+user)
		}
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *probeServer) probes() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.seen)
}

func newTestNegotiator(creds Credentials, target string) *Negotiator {
	return New(Options{
		Credentials: func() Credentials { return creds },
		ProbeTarget: func() (string, bool) { return target, target != "" },
		ClientOptions: httpclient.Options{
			MinInterval: time.Millisecond,
			Backoff:     []time.Duration{},
		},
	})
}

func TestCandidatesOrderAndSkipping(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
		want  []string
	}{
		{
			name:  "all formats",
			creds: fullCredentials,
			want:  []string{FormatGeneratedHub, FormatAccountHub, FormatBoomiToken, FormatAccountAPI},
		},
		{
			name:  "no hub token",
			creds: Credentials{AccountID: "a", User: "u", Token: "t", HubUser: "h"},
			want:  []string{FormatBoomiToken, FormatAccountAPI},
		},
		{
			name:  "hub only",
			creds: Credentials{HubUser: "h", HubToken: "x"},
			want:  []string{FormatGeneratedHub},
		},
		{
			name:  "nothing",
			creds: Credentials{},
			want:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make([]string, 0)
			for _, c := range tt.creds.Candidates() {
				got = append(got, c.Format)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("formats = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCandidateHeaders(t *testing.T) {
	cands := fullCredentials.Candidates()
	want := map[string]string{
		FormatGeneratedHub: "generated-user:hub-token",
		FormatAccountHub:   "acct-123:hub-token",
		FormatBoomiToken:   "BOOMI_TOKEN.ops@example.com:api-token",
		FormatAccountAPI:   "acct-123:api-token",
	}
	for _, c := range cands {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(c.Header, "Basic "))
		if err != nil {
			t.Fatalf("header for %s is not base64: %v", c.Format, err)
		}
		if string(raw) != want[c.Format] {
			t.Errorf("%s credential = %q, want %q", c.Format, raw, want[c.Format])
		}
	}
}

func TestSelectsFirstConfirmedFormatAndCaches(t *testing.T) {
	// Only the third format is accepted; the server answers its request with 403.
	ps := newProbeServer(t, map[string]int{"BOOMI_TOKEN.ops@example.com": http.StatusForbidden})
	n := newTestNegotiator(fullCredentials, ps.URL+"/mdm/universes/u1/records/query")

	client, err := n.Client(context.Background())
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if client == nil || n.Format() != FormatBoomiToken || !n.Confirmed() {
		t.Fatalf("format = %q confirmed = %v", n.Format(), n.Confirmed())
	}
	if ps.probes() != 3 {
		t.Fatalf("probes = %d, want 3", ps.probes())
	}
	if ps.bodies[0] != ProbeBody {
		t.Errorf("probe body = %q", ps.bodies[0])
	}

	again, err := n.Client(context.Background())
	if err != nil || again != client {
		t.Fatalf("second Client() = %p, %v; want cached %p", again, err, client)
	}
	if ps.probes() != 3 {
		t.Fatalf("cached client triggered %d more probes", ps.probes()-3)
	}
}

func TestAllRejectedListsEveryFormat(t *testing.T) {
	ps := newProbeServer(t, map[string]int{"acct-123": http.StatusNotFound})
	n := newTestNegotiator(fullCredentials, ps.URL)

	_, err := n.Client(context.Background())
	if !engine.IsAuthentication(err) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	msg := err.Error()
	for _, want := range []string{
		"generated_hub: HTTP 401",
		"account_hub: HTTP 404",
		"boomi_token: HTTP 401",
		"account_api: HTTP 404",
		"Server response: invalid credentials for generated-user",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q:\n%s", want, msg)
		}
	}
	if len(n.Attempts()) != 4 {
		t.Fatalf("attempts = %+v", n.Attempts())
	}
	if n.Confirmed() {
		t.Fatal("nothing should be cached after rejection")
	}
}

func TestNetworkErrorIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	n := newTestNegotiator(Credentials{HubUser: "h", HubToken: "t"}, url)
	_, err := n.Client(context.Background())
	if !engine.IsAuthentication(err) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if a := n.Attempts(); len(a) != 1 || a[0].Status != StatusNetworkError {
		t.Fatalf("attempts = %+v", a)
	}
}

func TestNoCandidatesIsConfigurationError(t *testing.T) {
	n := newTestNegotiator(Credentials{AccountID: "only-account"}, "http://unused")
	if _, err := n.Client(context.Background()); !engine.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNoProbeTargetAdoptsFirstUnconfirmed(t *testing.T) {
	ps := newProbeServer(t, map[string]int{"generated-user": http.StatusOK})
	var target string
	n := New(Options{
		Credentials: func() Credentials { return fullCredentials },
		ProbeTarget: func() (string, bool) { return target, target != "" },
	})

	client, err := n.Client(context.Background())
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if n.Format() != FormatGeneratedHub || n.Confirmed() {
		t.Fatalf("format = %q confirmed = %v", n.Format(), n.Confirmed())
	}
	if ps.probes() != 0 {
		t.Fatal("no probe should be sent without a target")
	}

	same, _ := n.Client(context.Background())
	if same != client {
		t.Fatal("without a target the unconfirmed client should be reused")
	}

	// Once a universe exists the unconfirmed client is re-probed.
	target = ps.URL
	if _, err := n.Client(context.Background()); err != nil {
		t.Fatalf("Client after target appeared: %v", err)
	}
	if !n.Confirmed() || ps.probes() != 1 {
		t.Fatalf("confirmed = %v probes = %d", n.Confirmed(), ps.probes())
	}
}

func TestConfiguredConfirmedStatuses(t *testing.T) {
	ps := newProbeServer(t, map[string]int{"generated-user": http.StatusNotFound})
	creds := Credentials{HubUser: "generated-user", HubToken: "hub-token"}

	n := New(Options{
		Credentials:       func() Credentials { return creds },
		ProbeTarget:       func() (string, bool) { return ps.URL, true },
		ConfirmedStatuses: []int{200, 404, 401},
	})
	if _, err := n.Client(context.Background()); err != nil {
		t.Fatalf("404 should be confirmed when configured: %v", err)
	}

	// 401 is never a confirmation, even when listed.
	ps.mu.Lock()
	ps.statuses["generated-user"] = http.StatusUnauthorized
	ps.mu.Unlock()
	n.Invalidate()
	if _, err := n.Client(context.Background()); !engine.IsAuthentication(err) {
		t.Fatalf("expected authentication error, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		ps := newProbeServer(t, map[string]int{"generated-user": http.StatusOK})
		n := newTestNegotiator(fullCredentials, ps.URL)
		if !n.Verify(context.Background()) {
			t.Fatal("expected verify to pass")
		}
		if !n.Confirmed() {
			t.Fatal("verify should leave the confirmed client cached")
		}
	})

	t.Run("rejected", func(t *testing.T) {
		ps := newProbeServer(t, nil)
		n := newTestNegotiator(fullCredentials, ps.URL)
		if n.Verify(context.Background()) {
			t.Fatal("expected verify to fail")
		}
	})

	t.Run("no target", func(t *testing.T) {
		n := newTestNegotiator(fullCredentials, "")
		if !n.Verify(context.Background()) {
			t.Fatal("verify without a target should pass")
		}
		if n.Format() != "" {
			t.Fatal("unverified client should be dropped after verify")
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		n := newTestNegotiator(Credentials{}, "")
		if n.Verify(context.Background()) {
			t.Fatal("verify with no credentials should fail")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ps := newProbeServer(t, nil)
		n := newTestNegotiator(fullCredentials, ps.URL)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if n.Verify(ctx) {
			t.Fatal("verify with a cancelled context should fail")
		}
		if n.Format() != "" {
			t.Fatal("no client should be cached after a cancelled verify")
		}
	})

	t.Run("context cancelled mid negotiation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cancel()
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		n := newTestNegotiator(fullCredentials, srv.URL)
		if n.Verify(ctx) {
			t.Fatal("verify interrupted by cancellation should fail")
		}
	})

	t.Run("re-probes after invalidate", func(t *testing.T) {
		ps := newProbeServer(t, map[string]int{"generated-user": http.StatusOK})
		n := newTestNegotiator(fullCredentials, ps.URL)
		n.Verify(context.Background())
		n.Verify(context.Background())
		if ps.probes() != 2 {
			t.Fatalf("probes = %d, want one per verify", ps.probes())
		}
	})
}

func TestMaskHeader(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Basic YWJjZGVmZ2hpamts", "Basic YWJjZGVm..."},
		{"Basic short", "Basic ***"},
		{"Bearer abcdefghijklmnop", "Basic ***"},
	}
	for _, tt := range tests {
		if got := MaskHeader(tt.in); got != tt.want {
			t.Errorf("MaskHeader(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDefaultConfirmedStatuses(t *testing.T) {
	set := make(map[int]bool)
	for _, code := range DefaultConfirmedStatuses() {
		set[code] = true
	}
	for _, code := range []int{200, 204, 302, 399, 400, 403, 405, 409, 500, 502, 503} {
		if !set[code] {
			t.Errorf("%d should be confirmed", code)
		}
	}
	for _, code := range []int{401, 404, 429, 501, 504} {
		if set[code] {
			t.Errorf("%d should not be confirmed", code)
		}
	}
}
