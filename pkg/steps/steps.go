// Package steps defines the tenant provisioning steps the engine runs.
//
// The catalogue covers the DataHub side (repository, sources, models, a
// credential check and the first records) and the first platform steps
// (folders, the HTTP operation template and a verification pass). Every step
// is idempotent: it skips the work whose result is already in the state store
// and records each remote id as soon as it is known.
package steps

import (
	"errors"
	"net/http"
	"strings"

	"github.com/openfroyo/hubsetup/pkg/auth"
	"github.com/openfroyo/hubsetup/pkg/config"
	"github.com/openfroyo/hubsetup/pkg/datahub"
	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/platform"
	"github.com/openfroyo/hubsetup/pkg/telemetry"
)

// Step ids.
const (
	IDCreateRepository    = "1.0"
	IDCreateSources       = "1.1"
	IDCreateModelMapping  = "1.2a"
	IDCreateModelAccess   = "1.2b"
	IDCreateModelLog      = "1.2c"
	IDVerifyCredentials   = "1.3"
	IDSeedDevAccess       = "1.4"
	IDValidateRecords     = "1.5"
	IDCreateFolders       = "2.0"
	IDCaptureHTTPTemplate = "2.1"
	IDVerifyPhase2        = "2.2"
)

// RepositoryName is the DataHub repository the setup creates.
const RepositoryName = "PromotionHub"

// ComponentPrefix starts the name of every platform component the setup owns.
const ComponentPrefix = "PROMO - "

// HTTPTemplateOperation is the operation the operator builds by hand in 2.1.
const HTTPTemplateOperation = "PROMO - HTTP Op - GET Component"

// Sources are the DataHub sources created in 1.1.
var Sources = []string{"PROMOTION_ENGINE", "ADMIN_SEEDING", "ADMIN_CONFIG"}

// Deps are the collaborators the steps call.
type Deps struct {
	Platform   *platform.API
	DataHub    *datahub.API
	Negotiator *auth.Negotiator
	Prompter   config.Prompter
	Logger     *telemetry.Logger
}

func (d Deps) logger() *telemetry.Logger {
	if d.Logger == nil {
		return telemetry.NopLogger()
	}
	return d.Logger.NewComponentLogger("steps")
}

// Catalogue registers every step into registry.
func Catalogue(registry *engine.Registry, deps Deps) error {
	logger := deps.logger()
	all := []engine.Step{
		newCreateRepository(deps, logger),
		newCreateSources(deps, logger),
		newCreateModel(deps, logger, IDCreateModelMapping, "ComponentMapping"),
		newCreateModel(deps, logger, IDCreateModelAccess, "DevAccountAccess"),
		newCreateModel(deps, logger, IDCreateModelLog, "PromotionLog"),
		newVerifyCredentials(deps, logger),
		newSeedDevAccess(deps, logger),
		newValidateRecords(deps, logger),
		newCreateFolders(deps, logger),
		newCaptureHTTPTemplate(deps, logger),
		newVerifyPhase2(deps, logger),
	}
	for _, step := range all {
		if err := registry.Register(step); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the full catalogue.
func NewRegistry(deps Deps) (*engine.Registry, error) {
	registry := engine.NewRegistry()
	if err := Catalogue(registry, deps); err != nil {
		return nil, err
	}
	return registry, nil
}

// meta carries the fixed identity of a step.
type meta struct {
	id    string
	name  string
	level engine.AutomationLevel
	deps  []string
}

func (m meta) ID() string { return m.id }

func (m meta) Name() string { return m.name }

func (m meta) Level() engine.AutomationLevel { return m.level }

func (m meta) DependsOn() []string { return m.deps }

// alreadyExists reports whether err is the 400/409 the API returns for a
// duplicate name.
func alreadyExists(err error) bool {
	var e *engine.EngineError
	if !errors.As(err, &e) {
		return false
	}
	if e.StatusCode != http.StatusBadRequest && e.StatusCode != http.StatusConflict {
		return false
	}
	return strings.Contains(strings.ToLower(e.Body), "already")
}
