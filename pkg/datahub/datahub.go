// Package datahub wraps the two DataHub REST surfaces the setup talks to.
//
// The platform side ({cloud}/mdm/api/rest/v1/{account}) manages clouds,
// repositories, sources and models with the platform credentials. The
// repository side ({hub}/mdm/universes/{universe}) reads and writes records
// with whichever credential format the auth negotiator settled on.
//
// Both surfaces speak XML only.
package datahub

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/hubsetup/pkg/auth"
	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/httpclient"
	"github.com/openfroyo/hubsetup/pkg/poll"
	"github.com/openfroyo/hubsetup/pkg/state"
	"github.com/openfroyo/hubsetup/pkg/telemetry"
	"github.com/openfroyo/hubsetup/pkg/templates"
)

// Namespaces used in DataHub payloads.
const (
	NamespaceMDM = "http://mdm.api.platform.boomi.com/"
	NamespaceXSI = "http://www.w3.org/2001/XMLSchema-instance"
)

// Remote states.
const (
	StatusSuccess  = "SUCCESS"
	StatusPending  = "PENDING"
	StatusDeleted  = "DELETED"
	StatusCanceled = "CANCELED"
	StatusUnknown  = "UNKNOWN"
)

// Tenant supplies values that change while the setup runs. *state.Store
// satisfies it.
type Tenant interface {
	ConfigString(key string) string
	UniverseIDs() map[string]string
}

// Options configures an API.
type Options struct {
	// BaseURL is {cloud}/mdm/api/rest/v1/{account}.
	BaseURL string

	Tenant     Tenant
	Negotiator *auth.Negotiator

	// RepoPoll, DeployPoll and RecordPoll override the poll presets.
	RepoPoll   *poll.Options
	DeployPoll *poll.Options
	RecordPoll *poll.Options

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
}

// API issues DataHub calls.
type API struct {
	client     *httpclient.Client
	base       string
	tenant     Tenant
	negotiator *auth.Negotiator
	repoPoll   poll.Options
	deployPoll poll.Options
	recordPoll poll.Options
	logger     *telemetry.Logger
}

// New creates an API. client carries the platform credentials.
func New(client *httpclient.Client, opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	logger = logger.NewComponentLogger("datahub")

	repo := poll.RepoCreated
	if opts.RepoPoll != nil {
		repo = *opts.RepoPoll
	}
	deploy := poll.ModelDeployed
	if opts.DeployPoll != nil {
		deploy = *opts.DeployPoll
	}
	record := poll.RecordAccepted
	if opts.RecordPoll != nil {
		record = *opts.RecordPoll
	}
	tenant := opts.Tenant
	if tenant == nil {
		tenant = emptyTenant{}
	}

	return &API{
		client:     client,
		base:       strings.TrimRight(opts.BaseURL, "/"),
		tenant:     tenant,
		negotiator: opts.Negotiator,
		repoPoll:   repo.With(logger, opts.Metrics),
		deployPoll: deploy.With(logger, opts.Metrics),
		recordPoll: record.With(logger, opts.Metrics),
		logger:     logger,
	}
}

type emptyTenant struct{}

func (emptyTenant) ConfigString(string) string     { return "" }
func (emptyTenant) UniverseIDs() map[string]string { return nil }

var (
	uuidRe         = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	statusAttrRe   = regexp.MustCompile(`status="([^"]+)"`)
	statusElemRe   = regexp.MustCompile(`<mdm:status>([^<]+)</mdm:status>`)
	mdmIDRe        = regexp.MustCompile(`<mdm:id>([^<]+)</mdm:id>`)
	repoBaseURLRe  = regexp.MustCompile(`repositoryBaseUrl="([^"]+)"`)
	sourceIDElemRe = regexp.MustCompile(`<(?:\w+:)?sourceId>([^<]+)</(?:\w+:)?sourceId>`)
)

// Clouds and repositories

// CreateRepository asks cloudID to create a repository and returns its id.
func (a *API) CreateRepository(ctx context.Context, cloudID, name string) (repoID string, err error) {
	op := telemetry.StartOperation(ctx, "datahub.create_repository", attribute.String("cloud.id", cloudID))
	defer func() { op.End(err) }()

	url := fmt.Sprintf("%s/clouds/%s/repositories/%s/create", a.base, cloudID, name)
	resp, err := a.client.Post(op.Ctx, url, httpclient.AcceptXML())
	if err != nil {
		return "", err
	}
	// The id arrives as bare text, sometimes behind a byte order mark.
	if id := uuidRe.FindString(resp.Text()); id != "" {
		return id, nil
	}
	id := strings.TrimSpace(strings.TrimPrefix(resp.Text(), "\ufeff"))
	if id == "" {
		return "", engine.NewRemoteRequestError("no repository id returned", nil).WithResponse(resp.StatusCode, "", url)
	}
	return id, nil
}

// RepositoryStatus returns SUCCESS, PENDING, DELETED, or UNKNOWN when the
// response carries no status.
func (a *API) RepositoryStatus(ctx context.Context, repoID string) (string, error) {
	resp, err := a.client.Get(ctx, fmt.Sprintf("%s/repositories/%s/status", a.base, repoID), httpclient.AcceptXML())
	if err != nil {
		return "", err
	}
	if m := statusAttrRe.FindStringSubmatch(resp.Text()); m != nil {
		return m[1], nil
	}
	return StatusUnknown, nil
}

// WaitRepositoryCreated polls until the repository reports SUCCESS.
func (a *API) WaitRepositoryCreated(ctx context.Context, repoID string) error {
	_, err := poll.Until(ctx, a.repoPoll, func(ctx context.Context) (string, bool, error) {
		status, err := a.RepositoryStatus(ctx, repoID)
		if err != nil {
			return "", false, err
		}
		switch status {
		case StatusSuccess:
			return status, true, nil
		case StatusDeleted:
			return status, false, poll.Stop(engine.NewRemoteRequestError(
				fmt.Sprintf("repository %s was deleted during creation", repoID), nil,
			).WithCode(engine.ErrCodeTerminalState))
		}
		return status, false, nil
	})
	return err
}

// RepositoryList is the parsed GET /repositories response.
type RepositoryList struct {
	// BaseURL is the repositoryBaseUrl attribute: the hub cloud URL for record calls.
	BaseURL string
	Raw     string
}

// ListRepositories lists repositories and extracts the hub cloud URL.
func (a *API) ListRepositories(ctx context.Context) (RepositoryList, error) {
	resp, err := a.client.Get(ctx, a.base+"/repositories", httpclient.AcceptXML())
	if err != nil {
		return RepositoryList{}, err
	}
	list := RepositoryList{Raw: resp.Text()}
	if m := repoBaseURLRe.FindStringSubmatch(list.Raw); m != nil {
		list.BaseURL = strings.TrimRight(m[1], "/")
	} else {
		a.logger.Warn("No repositoryBaseUrl in repositories response, record calls will fail until hub_cloud_url is set")
	}
	return list, nil
}

// Sources

// CreateSource creates an account-level source whose id equals its name.
func (a *API) CreateSource(ctx context.Context, name string) (err error) {
	op := telemetry.StartOperation(ctx, "datahub.create_source", attribute.String("source", name))
	defer func() { op.End(err) }()

	body, err := templates.Render(templates.CreateSource, map[string]string{
		"NAME":      escape(name),
		"SOURCE_ID": escape(name),
	})
	if err != nil {
		return err
	}
	_, err = a.client.Post(op.Ctx, a.base+"/sources/create", httpclient.WithXML(body), httpclient.AcceptXML())
	return err
}

// ListSources returns the ids of the account's sources.
func (a *API) ListSources(ctx context.Context) ([]string, error) {
	resp, err := a.client.Get(ctx, a.base+"/sources", httpclient.AcceptXML())
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, m := range sourceIDElemRe.FindAllStringSubmatch(resp.Text(), -1) {
		ids = append(ids, strings.TrimSpace(m[1]))
	}
	return ids, nil
}

// Models

// CreateModel creates a model from spec and returns the model id.
func (a *API) CreateModel(ctx context.Context, spec *templates.ModelSpec) (modelID string, err error) {
	op := telemetry.StartOperation(ctx, "datahub.create_model", attribute.String("model", spec.ModelName))
	defer func() { op.End(err) }()

	url := a.base + "/models"
	resp, err := a.client.Post(op.Ctx, url, httpclient.WithXML(ModelRequestXML(spec)), httpclient.AcceptXML())
	if err != nil {
		return "", err
	}
	if m := mdmIDRe.FindStringSubmatch(resp.Text()); m != nil {
		return m[1], nil
	}
	return "", engine.NewRemoteRequestError("could not parse model id from response", nil).
		WithResponse(resp.StatusCode, resp.Text(), url)
}

// PublishModel publishes the current model draft.
func (a *API) PublishModel(ctx context.Context, modelID string) error {
	body, err := templates.Render(templates.PublishModel, map[string]string{"NOTES": "Initial publication"})
	if err != nil {
		return err
	}
	_, err = a.client.Post(ctx, fmt.Sprintf("%s/models/%s/publish", a.base, modelID),
		httpclient.WithXML(body), httpclient.AcceptXML())
	return err
}

// DeployModel deploys the model to the configured repository and returns the
// deployment id. The universe id equals the model id.
func (a *API) DeployModel(ctx context.Context, modelID string) (deploymentID string, err error) {
	op := telemetry.StartOperation(ctx, "datahub.deploy_model", attribute.String("model.id", modelID))
	defer func() { op.End(err) }()

	repoID := a.tenant.ConfigString(state.ConfigRepoID)
	if repoID == "" {
		return "", engine.NewConfigurationError("no repository id configured, create the repository first", nil)
	}
	url := fmt.Sprintf("%s/universe/%s/deploy?repositoryId=%s", a.base, modelID, repoID)
	resp, err := a.client.Post(op.Ctx, url, httpclient.AcceptXML())
	if err != nil {
		return "", err
	}
	if m := mdmIDRe.FindStringSubmatch(resp.Text()); m != nil {
		return m[1], nil
	}
	return "", engine.NewRemoteRequestError("could not parse deployment id from response", nil).
		WithResponse(resp.StatusCode, resp.Text(), url)
}

// DeploymentStatus returns SUCCESS, PENDING, CANCELED or UNKNOWN.
func (a *API) DeploymentStatus(ctx context.Context, universeID, deploymentID string) (string, error) {
	resp, err := a.client.Get(ctx, fmt.Sprintf("%s/universe/%s/deployments/%s", a.base, universeID, deploymentID),
		httpclient.AcceptXML())
	if err != nil {
		return "", err
	}
	if m := statusElemRe.FindStringSubmatch(resp.Text()); m != nil {
		return m[1], nil
	}
	return StatusUnknown, nil
}

// WaitModelDeployed polls until the deployment reports SUCCESS.
func (a *API) WaitModelDeployed(ctx context.Context, modelID, deploymentID string) error {
	_, err := poll.Until(ctx, a.deployPoll, func(ctx context.Context) (string, bool, error) {
		status, err := a.DeploymentStatus(ctx, modelID, deploymentID)
		if err != nil {
			return "", false, err
		}
		switch status {
		case StatusSuccess:
			return status, true, nil
		case StatusCanceled:
			return status, false, poll.Stop(engine.NewRemoteRequestError(
				fmt.Sprintf("model %s deployment was canceled", modelID), nil,
			).WithCode(engine.ErrCodeTerminalState))
		}
		return status, false, nil
	})
	return err
}

// Records

// ProbeURL returns the record query URL of the first universe, by model name,
// or false while the hub URL or every universe is still unknown.
func (a *API) ProbeURL() (string, bool) {
	return ProbeURL(a.tenant)
}

// ProbeURL builds the credential probe target from t.
func ProbeURL(t Tenant) (string, bool) {
	hub := strings.TrimRight(t.ConfigString(state.ConfigHubCloudURL), "/")
	if hub == "" {
		return "", false
	}
	ids := t.UniverseIDs()
	models := make([]string, 0, len(ids))
	for model, id := range ids {
		if id != "" {
			models = append(models, model)
		}
	}
	if len(models) == 0 {
		return "", false
	}
	sort.Strings(models)
	return fmt.Sprintf("%s/mdm/universes/%s/records/query", hub, ids[models[0]]), true
}

func (a *API) recordBase(model string) (string, error) {
	hub := strings.TrimRight(a.tenant.ConfigString(state.ConfigHubCloudURL), "/")
	if hub == "" {
		return "", engine.NewConfigurationError(
			"hub_cloud_url is not configured, list repositories first to discover it", nil)
	}
	universe := a.tenant.UniverseIDs()[model]
	if universe == "" {
		return "", engine.NewConfigurationError(
			fmt.Sprintf("no universe id for model %q, deploy the model first", model), nil)
	}
	return fmt.Sprintf("%s/mdm/universes/%s", hub, universe), nil
}

func (a *API) recordClient(ctx context.Context) (*httpclient.Client, error) {
	if a.negotiator == nil {
		return nil, engine.NewConfigurationError("no credential negotiator configured for record calls", nil)
	}
	return a.negotiator.Client(ctx)
}

// QueryRecords posts a RecordQueryRequest against the model's universe.
func (a *API) QueryRecords(ctx context.Context, model, filterXML string) (result string, err error) {
	op := telemetry.StartOperation(ctx, "datahub.query_records", attribute.String("model", model))
	defer func() { op.End(err) }()

	base, err := a.recordBase(model)
	if err != nil {
		return "", err
	}
	client, err := a.recordClient(op.Ctx)
	if err != nil {
		return "", err
	}
	resp, err := client.Post(op.Ctx, base+"/records/query", httpclient.WithXML(filterXML), httpclient.AcceptXML())
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// CreateRecord submits a record batch. A bare entity element is wrapped in a
// batch attributed to source.
func (a *API) CreateRecord(ctx context.Context, model, recordXML, source string) (result string, err error) {
	op := telemetry.StartOperation(ctx, "datahub.create_record",
		attribute.String("model", model), attribute.String("source", source))
	defer func() { op.End(err) }()

	base, err := a.recordBase(model)
	if err != nil {
		return "", err
	}
	client, err := a.recordClient(op.Ctx)
	if err != nil {
		return "", err
	}
	body := strings.TrimSpace(recordXML)
	if source != "" && !strings.HasPrefix(body, "<batch") {
		body = fmt.Sprintf("<batch src=\"%s\">\n%s\n</batch>", escape(source), body)
	}
	resp, err := client.Post(op.Ctx, base+"/records", httpclient.WithXML(body), httpclient.AcceptXML())
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// CreateRecordWhenKnown creates a record, retrying on the record poll
// schedule while the repository API still rejects the model as an entity of
// unknown type. Any other error ends the attempt.
func (a *API) CreateRecordWhenKnown(ctx context.Context, model, recordXML, source string) error {
	_, err := poll.Until(ctx, a.recordPoll, func(ctx context.Context) (struct{}, bool, error) {
		_, err := a.CreateRecord(ctx, model, recordXML, source)
		switch {
		case err == nil:
			return struct{}{}, true, nil
		case IsUnknownEntity(err):
			a.logger.WithField("model", model).Info("Model not yet known to the repository API, waiting")
			return struct{}{}, false, nil
		}
		return struct{}{}, false, err
	})
	return err
}

// DeleteRecord end-dates the record with the given source entity id. The
// repository API has no DELETE verb; a batch entry with op="DELETE" does it.
func (a *API) DeleteRecord(ctx context.Context, model, entityID, source string) error {
	entry := fmt.Sprintf("<%s op=\"DELETE\"><id>%s</id></%s>", model, escape(entityID), model)
	_, err := a.CreateRecord(ctx, model, entry, source)
	return err
}

// RenderRecord fills a record template, escaping every value.
func RenderRecord(name string, params map[string]string) (string, error) {
	escaped := make(map[string]string, len(params))
	for k, v := range params {
		escaped[k] = escape(v)
	}
	return templates.Render(name, escaped)
}

// IsUnknownEntity reports whether err is the 400 the repository API returns
// while a freshly deployed model is not yet known to it.
func IsUnknownEntity(err error) bool {
	return engine.StatusCode(err) == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(engine.ResponseBody(err)), "entity of unknown type")
}
