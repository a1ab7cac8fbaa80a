// Package auth negotiates which credential format the DataHub repository API
// accepts for a tenant.
//
// Tenants differ in which Basic credential pair the repository endpoint takes.
// The Negotiator builds every candidate header the available credentials allow,
// probes them in a fixed order against a live endpoint, and caches the first
// one the server confirms.
package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/httpclient"
	"github.com/openfroyo/hubsetup/pkg/telemetry"
)

// Credential formats, in probe order.
const (
	FormatGeneratedHub = "generated_hub"
	FormatAccountHub   = "account_hub"
	FormatBoomiToken   = "boomi_token"
	FormatAccountAPI   = "account_api"
)

// ProbeBody is the minimal record query sent to test a credential.
const ProbeBody = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + `<RecordQueryRequest limit="1"/>`

// DefaultProbeTimeout bounds each probe request.
const DefaultProbeTimeout = 15 * time.Second

// StatusNetworkError is recorded for a probe that got no response.
const StatusNetworkError = -1

// Credentials are the secrets a candidate header may be built from.
type Credentials struct {
	AccountID string
	User      string
	Token     string
	HubUser   string
	HubToken  string
}

// Candidate is one credential format with its Authorization header.
type Candidate struct {
	Format string
	Header string
}

// Candidates returns the formats whose inputs are all present, in probe order.
func (c Credentials) Candidates() []Candidate {
	pairs := []struct {
		format       string
		user, secret string
	}{
		{FormatGeneratedHub, c.HubUser, c.HubToken},
		{FormatAccountHub, c.AccountID, c.HubToken},
		{FormatBoomiToken, prefixed("BOOMI_TOKEN.", c.User), c.Token},
		{FormatAccountAPI, c.AccountID, c.Token},
	}

	out := make([]Candidate, 0, len(pairs))
	for _, p := range pairs {
		if p.user == "" || p.secret == "" {
			continue
		}
		out = append(out, Candidate{Format: p.format, Header: httpclient.BasicAuth(p.user, p.secret)})
	}
	return out
}

func prefixed(prefix, s string) string {
	if s == "" {
		return ""
	}
	return prefix + s
}

// DefaultConfirmedStatuses returns the statuses that show the server accepted
// the credential even if it disliked the request: every 2xx and 3xx, plus
// 400, 403, 405, 409, 500, 502 and 503. 401 and 404 are not included.
func DefaultConfirmedStatuses() []int {
	codes := make([]int, 0, 207)
	for code := 200; code < 400; code++ {
		codes = append(codes, code)
	}
	return append(codes, 400, 403, 405, 409, 500, 502, 503)
}

// ProbeAttempt records one probe of one format.
type ProbeAttempt struct {
	Format string `json:"format"`
	Status int    `json:"status"`
	Body   string `json:"body,omitempty"`
}

// Options configures a Negotiator.
type Options struct {
	// Credentials returns the current secrets. It is consulted on every negotiation.
	Credentials func() Credentials

	// ProbeTarget returns the probe URL, or false when none can be built yet.
	ProbeTarget func() (string, bool)

	// ConfirmedStatuses overrides DefaultConfirmedStatuses. 401 is never confirmed.
	ConfirmedStatuses []int

	ProbeTimeout time.Duration

	// ProbeHTTPClient sends probes without rate limiting or retries.
	ProbeHTTPClient *http.Client

	// ClientOptions is the template for the negotiated client. Its
	// Authorization is replaced by the adopted header.
	ClientOptions httpclient.Options

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
}

// Negotiator selects and caches the credential format the repository API accepts.
type Negotiator struct {
	mu        sync.Mutex
	opts      Options
	confirmed map[int]bool
	probe     *http.Client
	logger    *telemetry.Logger

	client      *httpclient.Client
	format      string
	isConfirmed bool
	attempts    []ProbeAttempt
}

// New creates a negotiator.
func New(opts Options) *Negotiator {
	if opts.Credentials == nil {
		opts.Credentials = func() Credentials { return Credentials{} }
	}
	if opts.ProbeTarget == nil {
		opts.ProbeTarget = func() (string, bool) { return "", false }
	}
	if opts.ConfirmedStatuses == nil {
		opts.ConfirmedStatuses = DefaultConfirmedStatuses()
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	probe := opts.ProbeHTTPClient
	if probe == nil {
		probe = &http.Client{Timeout: opts.ProbeTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}

	confirmed := make(map[int]bool, len(opts.ConfirmedStatuses))
	for _, code := range opts.ConfirmedStatuses {
		if code != http.StatusUnauthorized {
			confirmed[code] = true
		}
	}

	return &Negotiator{
		opts:      opts,
		confirmed: confirmed,
		probe:     probe,
		logger:    logger.NewComponentLogger("auth"),
	}
}

// Client returns the negotiated repository API client.
//
// A confirmed client is returned from cache with no network traffic. An
// unconfirmed one, adopted earlier because no probe target existed, is
// re-negotiated as soon as a target appears.
func (n *Negotiator) Client(ctx context.Context) (*httpclient.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	target, canProbe := n.opts.ProbeTarget()
	if n.client != nil && (n.isConfirmed || !canProbe) {
		return n.client, nil
	}

	candidates := n.opts.Credentials().Candidates()
	if len(candidates) == 0 {
		return nil, engine.NewConfigurationError(
			"no DataHub credentials available: set a hub user and hub token, "+
				"or an account id with a hub token, or BOOMI_USER and BOOMI_TOKEN", nil,
		)
	}

	if !canProbe {
		first := candidates[0]
		n.logger.WithField("format", first.Format).Info("No probe target yet, adopting first credential format unconfirmed")
		n.adopt(first, false, nil)
		return n.client, nil
	}

	attempts := make([]ProbeAttempt, 0, len(candidates))
	for _, cand := range candidates {
		attempt := n.probeOnce(ctx, target, cand)
		attempts = append(attempts, attempt)

		ok := n.confirmed[attempt.Status]
		n.opts.Metrics.RecordAuthProbe(cand.Format, ok)
		n.logger.WithFields(map[string]interface{}{
			"format": cand.Format,
			"status": attempt.Status,
			"header": MaskHeader(cand.Header),
		}).Info("Credential probe")

		if ok {
			n.adopt(cand, true, attempts)
			return n.client, nil
		}
		if ctx.Err() != nil {
			n.attempts = attempts
			return nil, ctx.Err()
		}
	}

	n.attempts = attempts
	return nil, rejectedError(target, attempts)
}

func (n *Negotiator) adopt(cand Candidate, confirmed bool, attempts []ProbeAttempt) {
	opts := n.opts.ClientOptions
	opts.Authorization = cand.Header
	if opts.Logger == nil {
		opts.Logger = n.opts.Logger
	}
	if opts.Metrics == nil {
		opts.Metrics = n.opts.Metrics
	}
	n.client = httpclient.New(opts)
	n.format = cand.Format
	n.isConfirmed = confirmed
	n.attempts = attempts
}

func (n *Negotiator) probeOnce(ctx context.Context, target string, cand Candidate) ProbeAttempt {
	attempt := ProbeAttempt{Format: cand.Format}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(ProbeBody))
	if err != nil {
		attempt.Status = StatusNetworkError
		attempt.Body = err.Error()
		return attempt
	}
	req.Header.Set("Authorization", cand.Header)
	req.Header.Set("Content-Type", "application/xml")

	resp, err := n.probe.Do(req)
	if err != nil {
		attempt.Status = StatusNetworkError
		attempt.Body = err.Error()
		n.logger.WithError(err).WithField("format", cand.Format).Warn("Credential probe network error")
		return attempt
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	attempt.Status = resp.StatusCode
	attempt.Body = strings.TrimSpace(string(body))
	return attempt
}

func rejectedError(target string, attempts []ProbeAttempt) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "no credential format succeeded against %s:", target)
	for _, a := range attempts {
		fmt.Fprintf(&sb, "\n  %s: HTTP %d", a.Format, a.Status)
	}
	var hint string
	for _, a := range attempts {
		if a.Status == http.StatusUnauthorized && a.Body != "" {
			hint = a.Body
			break
		}
	}
	if hint != "" {
		fmt.Fprintf(&sb, "\nServer response: %s", hint)
	}
	sb.WriteString("\nCopy a fresh Authentication Token from the repository configuration page and re-run configure.")

	return engine.NewAuthenticationError(sb.String(), nil).
		WithCode(engine.ErrCodeUnauthorized).
		WithDetail("attempts", attempts).
		WithDetail("url", target)
}

// Invalidate drops the cached client so the next Client call negotiates again.
// Call it after credentials change.
func (n *Negotiator) Invalidate() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.client = nil
	n.format = ""
	n.isConfirmed = false
}

// Verify re-negotiates from scratch and reports whether the credentials
// appear valid. It returns false only when the credentials are missing or
// definitively rejected. Without a probe target nothing can be checked, so the
// result is true and the cache is dropped again for a later re-probe. A
// cancelled or expired context proves nothing and yields false.
func (n *Negotiator) Verify(ctx context.Context) bool {
	n.Invalidate()
	if ctx.Err() != nil {
		return false
	}
	_, canProbe := n.opts.ProbeTarget()

	if _, err := n.Client(ctx); err != nil {
		if ctx.Err() != nil {
			n.logger.WithError(err).Warn("Repository API credential verification interrupted")
			return false
		}
		if engine.IsAuthentication(err) || engine.IsConfiguration(err) {
			n.logger.WithError(err).Warn("Repository API credential verification failed")
			return false
		}
		return true
	}
	if !canProbe {
		n.Invalidate()
	}
	return true
}

// Confirmed reports whether the cached client was confirmed by a probe.
func (n *Negotiator) Confirmed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.client != nil && n.isConfirmed
}

// Format returns the adopted credential format, or "" when none is cached.
func (n *Negotiator) Format() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.format
}

// Attempts returns the probes of the last negotiation.
func (n *Negotiator) Attempts() []ProbeAttempt {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ProbeAttempt(nil), n.attempts...)
}

// MaskHeader hides all but the first 8 characters of a Basic credential.
func MaskHeader(header string) string {
	const prefix = "Basic "
	if strings.HasPrefix(header, prefix) && len(header) > len(prefix)+8 {
		return prefix + header[len(prefix):len(prefix)+8] + "..."
	}
	return prefix + "***"
}
