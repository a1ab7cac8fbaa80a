// Package platform wraps the integration platform's Partner REST API: folders
// and components.
package platform

import (
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/httpclient"
	"github.com/openfroyo/hubsetup/pkg/telemetry"
	"github.com/openfroyo/hubsetup/pkg/templates"
)

// Options configures an API.
type Options struct {
	// BaseURL is {cloud}/partner/api/rest/v1/{account}.
	BaseURL string

	// AccountID is compared against cross-account reads.
	AccountID string

	Logger *telemetry.Logger
}

// API issues Partner API calls through a rate limited client.
type API struct {
	client    *httpclient.Client
	base      string
	accountID string
	logger    *telemetry.Logger
}

// New creates an API over client.
func New(client *httpclient.Client, opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	logger = logger.NewComponentLogger("platform")

	return &API{
		client:    client,
		base:      strings.TrimRight(opts.BaseURL, "/"),
		accountID: opts.AccountID,
		logger:    logger,
	}
}

// BaseURL returns the account-scoped API root.
func (a *API) BaseURL() string {
	return a.base
}

// Components

// GetComponent returns the component XML. A non-empty accountID different
// from the configured one reads from that account.
func (a *API) GetComponent(ctx context.Context, componentID, accountID string) (string, error) {
	url := fmt.Sprintf("%s/Component/%s", a.base, componentID)
	if accountID != "" && accountID != a.accountID {
		url += "?overrideAccount=" + accountID
	}
	resp, err := a.client.Get(ctx, url, httpclient.AcceptXML())
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// CreateComponent posts component XML and returns the new component id.
func (a *API) CreateComponent(ctx context.Context, componentXML string) (componentID string, err error) {
	op := telemetry.StartOperation(ctx, "platform.create_component")
	defer func() { op.End(err) }()

	url := a.base + "/Component"
	resp, err := a.client.Post(op.Ctx, url, httpclient.WithXML(componentXML), httpclient.AcceptXML())
	if err != nil {
		return "", err
	}
	id := ParseComponentID(resp.Text())
	if id == "" {
		return "", engine.NewRemoteRequestError("no componentId in create component response", nil).
			WithResponse(resp.StatusCode, resp.Text(), url)
	}
	a.logger.WithField("component_id", id).Debug("Component created")
	return id, nil
}

// QueryComponents posts a QueryFilter and returns the raw XML result.
func (a *API) QueryComponents(ctx context.Context, filterXML string) (string, error) {
	resp, err := a.client.Post(ctx, a.base+"/Component/query", httpclient.WithXML(filterXML), httpclient.AcceptXML())
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

var numberOfResultsRe = regexp.MustCompile(`numberOfResults="(\d+)"`)

// CountComponentsByPrefix counts components whose name starts with prefix.
func (a *API) CountComponentsByPrefix(ctx context.Context, prefix string) (int, error) {
	filter, err := templates.Render(templates.ComponentQuery, map[string]string{"PREFIX": escape(prefix)})
	if err != nil {
		return 0, err
	}
	result, err := a.QueryComponents(ctx, filter)
	if err != nil {
		return 0, err
	}
	m := numberOfResultsRe.FindStringSubmatch(result)
	if m == nil {
		return 0, nil
	}
	n, _ := strconv.Atoi(m[1])
	return n, nil
}

var componentIDRe = regexp.MustCompile(`componentId="([^"]+)"`)

// ParseComponentID extracts the componentId attribute from a Component response.
func ParseComponentID(componentXML string) string {
	m := componentIDRe.FindStringSubmatch(componentXML)
	if m == nil {
		return ""
	}
	return m[1]
}

// Folders

type folderResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateFolder creates name under parentID and returns the folder id.
// An empty parentID creates a top level folder.
func (a *API) CreateFolder(ctx context.Context, name, parentID string) (folderID string, err error) {
	op := telemetry.StartOperation(ctx, "platform.create_folder", attribute.String("folder", name))
	defer func() { op.End(err) }()

	if parentID == "" {
		parentID = "0"
	}
	url := a.base + "/Folder"
	resp, err := a.client.Post(op.Ctx, url, httpclient.WithJSON(map[string]string{
		"name":     name,
		"parentId": parentID,
	}))
	if err != nil {
		return "", err
	}
	var out folderResponse
	if err := resp.Decode(&out); err != nil {
		return "", engine.NewRemoteRequestError("invalid folder response", err).WithResponse(resp.StatusCode, resp.Text(), url)
	}
	if out.ID == "" {
		return "", engine.NewRemoteRequestError(fmt.Sprintf("no folder id returned for %q", name), nil).
			WithResponse(resp.StatusCode, resp.Text(), url)
	}
	return out.ID, nil
}

func escape(s string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}
