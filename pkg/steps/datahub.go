package steps

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openfroyo/hubsetup/pkg/datahub"
	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/state"
	"github.com/openfroyo/hubsetup/pkg/telemetry"
	"github.com/openfroyo/hubsetup/pkg/templates"
)

const confirmRepositoryInstructions = `Verify the repository was created in the platform UI:

1. Navigate to Services > DataHub > Repositories
2. Look for the 'PromotionHub' repository in the list`

// createRepository creates the DataHub repository on a hub cloud.
type createRepository struct {
	meta
	deps   Deps
	logger *telemetry.Logger
}

func newCreateRepository(deps Deps, logger *telemetry.Logger) *createRepository {
	return &createRepository{
		meta:   meta{id: IDCreateRepository, name: "Create DataHub Repository", level: engine.LevelSemi},
		deps:   deps,
		logger: logger.WithStepID(IDCreateRepository),
	}
}

func (s *createRepository) Execute(ctx context.Context, st *state.Store, dryRun bool) (state.StepStatus, error) {
	if existing := st.ConfigString(state.ConfigRepoID); existing != "" {
		s.logger.WithField("repo_id", existing).Info("Repository already exists")
		if !dryRun {
			s.backfill(ctx, st)
		}
		return state.StatusCompleted, nil
	}
	if dryRun {
		s.logger.Infof("Would create DataHub repository %q", RepositoryName)
		return state.StatusCompleted, nil
	}
	if err := requireDataHub(s.deps); err != nil {
		return state.StatusFailed, err
	}

	clouds, err := s.deps.DataHub.HubClouds(ctx)
	if err != nil {
		return state.StatusFailed, fmt.Errorf("failed to fetch hub clouds: %w", err)
	}
	if len(clouds) == 0 {
		return state.StatusFailed, engine.NewConfigurationError(
			"no hub clouds found: ensure the account has DataHub provisioned and the API user "+
				"has the MDM - Repository Management privilege", nil)
	}
	cloud, err := s.chooseCloud(clouds, "Select a Hub Cloud for the repository:")
	if err != nil {
		return state.StatusFailed, err
	}
	if err := st.UpdateConfig(map[string]interface{}{state.ConfigHubCloudName: cloud.Name}); err != nil {
		return state.StatusFailed, err
	}

	s.logger.WithFields(map[string]interface{}{"cloud_id": cloud.ID, "cloud": cloud.Name}).Info("Creating repository")
	repoID, err := s.deps.DataHub.CreateRepository(ctx, cloud.ID, RepositoryName)
	if err != nil {
		return state.StatusFailed, fmt.Errorf("failed to create repository: %w", err)
	}
	// Recorded before waiting so a re-run never creates a second repository.
	if err := st.UpdateConfig(map[string]interface{}{state.ConfigRepoID: repoID}); err != nil {
		return state.StatusFailed, err
	}

	if err := s.waitCreated(ctx, repoID); err != nil {
		return state.StatusFailed, err
	}

	s.refreshHubURL(ctx, st)
	s.logger.WithField("repo_id", repoID).Info("Repository created")
	return state.StatusCompleted, nil
}

// waitCreated polls the repository status. The status endpoint often answers
// UNKNOWN for a healthy repository, so a poll timeout falls back to asking
// the operator.
func (s *createRepository) waitCreated(ctx context.Context, repoID string) error {
	err := s.deps.DataHub.WaitRepositoryCreated(ctx, repoID)
	if err == nil || !engine.IsTimeout(err) {
		return err
	}
	if s.deps.Prompter == nil {
		return err
	}
	s.logger.WithError(err).Warn("Repository status never reported SUCCESS, asking for confirmation")
	ok, perr := s.deps.Prompter.Confirm(confirmRepositoryInstructions, "Is the PromotionHub repository visible?")
	if perr != nil {
		return perr
	}
	if !ok {
		return engine.NewRemoteRequestError("repository creation not confirmed, re-run this step after verifying", nil).
			WithStep(s.id)
	}
	return nil
}

func (s *createRepository) chooseCloud(clouds []datahub.Cloud, question string) (datahub.Cloud, error) {
	if len(clouds) == 1 {
		return clouds[0], nil
	}
	if s.deps.Prompter == nil {
		return datahub.Cloud{}, engine.NewConfigurationError(
			fmt.Sprintf("%d hub clouds available and no prompter to choose one", len(clouds)), nil)
	}
	choices := make([]string, len(clouds))
	for i, c := range clouds {
		choices[i] = fmt.Sprintf("%s (%s)", c.Name, c.ID)
	}
	idx, err := s.deps.Prompter.Choose(question, choices)
	if err != nil {
		return datahub.Cloud{}, err
	}
	if idx < 0 || idx >= len(clouds) {
		return datahub.Cloud{}, engine.NewConfigurationError(fmt.Sprintf("invalid cloud choice %d", idx), nil)
	}
	return clouds[idx], nil
}

// backfill fills hub_cloud_url and hub_cloud_name for a repository created
// by an earlier run. Failures only warn; later steps report what is missing.
func (s *createRepository) backfill(ctx context.Context, st *state.Store) {
	if s.deps.DataHub == nil {
		return
	}
	if st.ConfigString(state.ConfigHubCloudURL) == "" {
		s.refreshHubURL(ctx, st)
	}
	if st.ConfigString(state.ConfigHubCloudName) != "" {
		return
	}
	clouds, err := s.deps.DataHub.HubClouds(ctx)
	if err != nil || len(clouds) == 0 {
		s.logger.WithError(err).Warn("Could not backfill hub cloud name")
		return
	}
	cloud, err := s.chooseCloud(clouds, "Select the Hub Cloud used for the PromotionHub repository:")
	if err != nil {
		s.logger.WithError(err).Warn("Could not backfill hub cloud name")
		return
	}
	if err := st.UpdateConfig(map[string]interface{}{state.ConfigHubCloudName: cloud.Name}); err != nil {
		s.logger.WithError(err).Warn("Could not save hub cloud name")
	}
}

func (s *createRepository) refreshHubURL(ctx context.Context, st *state.Store) {
	list, err := s.deps.DataHub.ListRepositories(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Could not fetch repository details")
		return
	}
	if list.BaseURL == "" {
		return
	}
	if err := st.UpdateConfig(map[string]interface{}{state.ConfigHubCloudURL: list.BaseURL}); err != nil {
		s.logger.WithError(err).Warn("Could not save hub cloud URL")
		return
	}
	s.logger.WithField("url", list.BaseURL).Info("Hub cloud URL recorded")
}

// createSources creates one DataHub source per entry of Sources.
type createSources struct {
	meta
	deps   Deps
	logger *telemetry.Logger
}

func newCreateSources(deps Deps, logger *telemetry.Logger) *createSources {
	return &createSources{
		meta: meta{
			id: IDCreateSources, name: "Create DataHub Sources", level: engine.LevelAuto,
			deps: []string{IDCreateRepository},
		},
		deps:   deps,
		logger: logger.WithStepID(IDCreateSources),
	}
}

func (s *createSources) Execute(ctx context.Context, st *state.Store, dryRun bool) (state.StepStatus, error) {
	remaining := st.RemainingItems(s.id, Sources)
	if len(remaining) == 0 {
		s.logger.Info("All sources already created")
		return state.StatusCompleted, nil
	}
	if dryRun {
		s.logger.WithField("sources", remaining).Info("Would create sources")
		return state.StatusCompleted, nil
	}
	if err := requireDataHub(s.deps); err != nil {
		return state.StatusFailed, err
	}

	for _, name := range remaining {
		if err := s.deps.DataHub.CreateSource(ctx, name); err != nil {
			if !alreadyExists(err) {
				return state.StatusFailed, fmt.Errorf("failed to create source %q: %w", name, err)
			}
			s.logger.WithField("source", name).Info("Source already exists")
		}
		// The source id is the name we chose.
		if err := st.StoreComponentID(state.CategorySources, name, name); err != nil {
			return state.StatusFailed, err
		}
		if err := st.MarkStepItemComplete(s.id, name); err != nil {
			return state.StatusFailed, err
		}
		s.logger.WithField("source", name).Info("Source created")
	}
	return state.StatusCompleted, nil
}

// createModel creates, publishes and deploys one model.
type createModel struct {
	meta
	model  string
	deps   Deps
	logger *telemetry.Logger
}

func newCreateModel(deps Deps, logger *telemetry.Logger, id, model string) *createModel {
	return &createModel{
		meta: meta{
			id: id, name: "Create Model - " + model, level: engine.LevelAuto,
			deps: []string{IDCreateSources},
		},
		model:  model,
		deps:   deps,
		logger: logger.WithStepID(id).WithField("model", model),
	}
}

func (s *createModel) Execute(ctx context.Context, st *state.Store, dryRun bool) (state.StepStatus, error) {
	existing, ok, err := st.ComponentID(state.CategoryModels, s.model)
	if err != nil {
		return state.StatusFailed, err
	}
	if ok && existing != "" {
		s.logger.WithField("model_id", existing).Info("Model already exists")
		// The universe id equals the model id; record operations need it.
		if st.UniverseIDs()[s.model] != existing {
			if err := st.StoreUniverseID(s.model, existing); err != nil {
				return state.StatusFailed, err
			}
			s.logger.Info("Re-synced universe id")
		}
		return state.StatusCompleted, nil
	}
	if dryRun {
		s.logger.Info("Would create model")
		return state.StatusCompleted, nil
	}
	if err := requireDataHub(s.deps); err != nil {
		return state.StatusFailed, err
	}

	spec, err := templates.LoadModelSpec(s.model)
	if err != nil {
		return state.StatusFailed, err
	}

	modelID, err := s.create(ctx, spec)
	if err != nil {
		return state.StatusFailed, err
	}

	if err := s.deps.DataHub.PublishModel(ctx, modelID); err != nil {
		if engine.StatusCode(err) != http.StatusBadRequest {
			return state.StatusFailed, fmt.Errorf("failed to publish model %q: %w", s.model, err)
		}
		s.logger.Info("Model already published")
	}

	deploymentID, err := s.deps.DataHub.DeployModel(ctx, modelID)
	switch {
	case err == nil:
		s.logger.WithField("deployment_id", deploymentID).Info("Deploying model")
		if err := s.deps.DataHub.WaitModelDeployed(ctx, modelID, deploymentID); err != nil {
			return state.StatusFailed, fmt.Errorf("model %q did not deploy: %w", s.model, err)
		}
	case engine.StatusCode(err) == http.StatusBadRequest:
		s.logger.Info("Model already deployed")
	default:
		return state.StatusFailed, fmt.Errorf("failed to deploy model %q: %w", s.model, err)
	}

	if err := st.StoreComponentID(state.CategoryModels, s.model, modelID); err != nil {
		return state.StatusFailed, err
	}
	if err := st.StoreUniverseID(s.model, modelID); err != nil {
		return state.StatusFailed, err
	}
	s.logger.WithField("model_id", modelID).Info("Model deployed")
	return state.StatusCompleted, nil
}

// create creates the model, recovering the id of a model that exists remotely
// but not in the state, as after a state reset.
func (s *createModel) create(ctx context.Context, spec *templates.ModelSpec) (string, error) {
	modelID, err := s.deps.DataHub.CreateModel(ctx, spec)
	if err == nil {
		s.logger.WithField("model_id", modelID).Info("Model created")
		return modelID, nil
	}
	if !alreadyExists(err) {
		return "", fmt.Errorf("failed to create model %q: %w", s.model, err)
	}

	s.logger.Info("Model already exists remotely, recovering its id")
	modelID, found, ferr := s.deps.DataHub.FindModel(ctx, s.model)
	if ferr != nil {
		return "", fmt.Errorf("failed to look up model %q: %w", s.model, ferr)
	}
	if !found {
		return "", engine.NewNotFoundError(
			fmt.Sprintf("model %q reportedly exists but is not in the model list", s.model), err,
		).WithStep(s.id)
	}
	s.logger.WithField("model_id", modelID).Info("Recovered model id")
	return modelID, nil
}

// verifyCredentials checks that the repository API accepts one of the
// available credential formats.
type verifyCredentials struct {
	meta
	deps   Deps
	logger *telemetry.Logger
}

func newVerifyCredentials(deps Deps, logger *telemetry.Logger) *verifyCredentials {
	return &verifyCredentials{
		meta: meta{
			id: IDVerifyCredentials, name: "Verify DataHub Credentials", level: engine.LevelValidate,
			deps: []string{IDCreateModelMapping, IDCreateModelAccess, IDCreateModelLog},
		},
		deps:   deps,
		logger: logger.WithStepID(IDVerifyCredentials),
	}
}

func (s *verifyCredentials) Execute(ctx context.Context, st *state.Store, dryRun bool) (state.StepStatus, error) {
	if dryRun {
		s.logger.Info("Would verify repository API credentials")
		return state.StatusCompleted, nil
	}
	if s.deps.Negotiator == nil {
		return state.StatusFailed, engine.NewConfigurationError("no credential negotiator configured", nil)
	}
	if _, ok := datahub.ProbeURL(st); !ok {
		return state.StatusFailed, engine.NewConfigurationError(
			"cannot verify credentials: hub_cloud_url or the universe ids are missing, complete steps 1.0 to 1.2 first", nil)
	}

	if !s.deps.Negotiator.Verify(ctx) {
		for _, a := range s.deps.Negotiator.Attempts() {
			s.logger.WithFields(map[string]interface{}{"format": a.Format, "status": a.Status}).Warn("Credential rejected")
		}
		return state.StatusFailed, engine.NewAuthenticationError(
			"the repository API rejected every credential format, re-run configure with a fresh hub token", nil,
		).WithCode(engine.ErrCodeUnauthorized)
	}
	s.logger.WithFields(map[string]interface{}{
		"format":    s.deps.Negotiator.Format(),
		"confirmed": s.deps.Negotiator.Confirmed(),
	}).Info("Repository API credentials verified")
	return state.StatusCompleted, nil
}

func requireDataHub(deps Deps) error {
	if deps.DataHub == nil {
		return engine.NewConfigurationError("no DataHub API configured", nil)
	}
	return nil
}
