package steps

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/state"
	"github.com/openfroyo/hubsetup/pkg/telemetry"
	"github.com/openfroyo/hubsetup/pkg/templates"
)

var componentIDRe = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// IsComponentID reports whether s looks like a platform component id.
func IsComponentID(s string) bool {
	return componentIDRe.MatchString(strings.TrimSpace(s))
}

const httpTemplateInstructions = `Create ONE HTTP Client Operation manually in the platform UI:

1. Go to Build > New Component > Connector > HTTP Client
2. Name it: PROMO - HTTP Op - GET Component
3. Place it in the Promoted/Operations folder
4. Configure: Method=GET, URL=/partner/api/rest/v1/{1}/Component/{2}
5. Save the component
6. Copy the component ID from the URL bar`

// createFolders creates the Promoted folder tree.
type createFolders struct {
	meta
	deps   Deps
	logger *telemetry.Logger
}

func newCreateFolders(deps Deps, logger *telemetry.Logger) *createFolders {
	return &createFolders{
		meta: meta{
			id: IDCreateFolders, name: "Create Folders", level: engine.LevelAuto,
			deps: []string{IDCreateRepository},
		},
		deps:   deps,
		logger: logger.WithStepID(IDCreateFolders),
	}
}

func (s *createFolders) Execute(ctx context.Context, st *state.Store, dryRun bool) (state.StepStatus, error) {
	folders, err := templates.Folders()
	if err != nil {
		return state.StatusFailed, err
	}
	names := make([]string, len(folders))
	for i, f := range folders {
		names[i] = f.Name
	}

	remaining := st.RemainingItems(s.id, names)
	if len(remaining) == 0 {
		s.logger.Info("All folders already created")
		return state.StatusCompleted, nil
	}
	if dryRun {
		s.logger.WithField("folders", remaining).Info("Would create folders")
		return state.StatusCompleted, nil
	}
	if err := requirePlatform(s.deps); err != nil {
		return state.StatusFailed, err
	}

	todo := make(map[string]bool, len(remaining))
	for _, name := range remaining {
		todo[name] = true
	}
	for _, f := range folders {
		if !todo[f.Name] {
			continue
		}
		parentID := ""
		if f.Parent != "" {
			id, ok, err := st.ComponentID(state.CategoryFolders, f.Parent)
			if err != nil {
				return state.StatusFailed, err
			}
			if !ok || id == "" {
				return state.StatusFailed, engine.NewMissingDependencyError(
					fmt.Sprintf("cannot create folder %q: parent %q not yet created", f.Name, f.Parent), nil,
				).WithStep(s.id)
			}
			parentID = id
		}

		folderID, err := s.deps.Platform.CreateFolder(ctx, f.Name, parentID)
		if err != nil {
			return state.StatusFailed, fmt.Errorf("failed to create folder %q: %w", f.Name, err)
		}
		if err := st.StoreComponentID(state.CategoryFolders, f.Name, folderID); err != nil {
			return state.StatusFailed, err
		}
		if err := st.MarkStepItemComplete(s.id, f.Name); err != nil {
			return state.StatusFailed, err
		}
		s.logger.WithFields(map[string]interface{}{"folder": f.Name, "folder_id": folderID}).Info("Folder created")
	}
	return state.StatusCompleted, nil
}

// captureHTTPTemplate has the operator build one HTTP operation and stores
// its XML as the template for the rest.
type captureHTTPTemplate struct {
	meta
	deps   Deps
	logger *telemetry.Logger
}

func newCaptureHTTPTemplate(deps Deps, logger *telemetry.Logger) *captureHTTPTemplate {
	return &captureHTTPTemplate{
		meta: meta{
			id: IDCaptureHTTPTemplate, name: "Capture HTTP Operation Template", level: engine.LevelManual,
			deps: []string{IDCreateFolders},
		},
		deps:   deps,
		logger: logger.WithStepID(IDCaptureHTTPTemplate),
	}
}

func (s *captureHTTPTemplate) Execute(ctx context.Context, st *state.Store, dryRun bool) (state.StepStatus, error) {
	if _, ok, err := st.DiscoveryTemplate(state.TemplateHTTPOperation); err != nil {
		return state.StatusFailed, err
	} else if ok {
		s.logger.Info("HTTP operation template already captured")
		return state.StatusCompleted, nil
	}
	if dryRun {
		s.logger.Info("Would guide the operator through creating an HTTP operation")
		return state.StatusCompleted, nil
	}
	if err := requirePlatform(s.deps); err != nil {
		return state.StatusFailed, err
	}
	if s.deps.Prompter == nil {
		return state.StatusFailed, engine.NewConfigurationError("this step needs an interactive terminal", nil).WithStep(s.id)
	}

	if err := s.deps.Prompter.Wait(httpTemplateInstructions); err != nil {
		return state.StatusFailed, err
	}
	id, err := s.deps.Prompter.Collect("Paste the component ID of the operation.", "HTTP Operation component ID", IsComponentID)
	if err != nil {
		return state.StatusFailed, err
	}
	id = strings.TrimSpace(id)

	xmlText, err := s.deps.Platform.GetComponent(ctx, id, "")
	if err != nil {
		return state.StatusFailed, fmt.Errorf("failed to export HTTP operation %s: %w", id, err)
	}
	if strings.TrimSpace(xmlText) == "" {
		return state.StatusFailed, engine.NewRemoteRequestError(
			fmt.Sprintf("empty response exporting HTTP operation %s", id), nil).WithStep(s.id)
	}

	if err := st.StoreDiscoveryTemplate(state.TemplateHTTPOperation, xmlText); err != nil {
		return state.StatusFailed, err
	}
	if err := st.StoreComponentID(state.CategoryHTTPOperations, HTTPTemplateOperation, id); err != nil {
		return state.StatusFailed, err
	}
	s.logger.WithField("component_id", id).Info("HTTP operation template captured")
	return state.StatusCompleted, nil
}

// verifyPhase2 checks that the folders and the captured operation exist.
type verifyPhase2 struct {
	meta
	deps   Deps
	logger *telemetry.Logger
}

func newVerifyPhase2(deps Deps, logger *telemetry.Logger) *verifyPhase2 {
	return &verifyPhase2{
		meta: meta{
			id: IDVerifyPhase2, name: "Verify Phase 2", level: engine.LevelValidate,
			deps: []string{IDVerifyCredentials, IDCaptureHTTPTemplate},
		},
		deps:   deps,
		logger: logger.WithStepID(IDVerifyPhase2),
	}
}

func (s *verifyPhase2) Execute(ctx context.Context, st *state.Store, dryRun bool) (state.StepStatus, error) {
	if dryRun {
		s.logger.Info("Would verify folders and components")
		return state.StatusCompleted, nil
	}
	if err := requirePlatform(s.deps); err != nil {
		return state.StatusFailed, err
	}

	folders, err := templates.Folders()
	if err != nil {
		return state.StatusFailed, err
	}
	var missing []string
	for _, f := range folders {
		if id, ok, err := st.ComponentID(state.CategoryFolders, f.Name); err != nil {
			return state.StatusFailed, err
		} else if !ok || id == "" {
			missing = append(missing, "folder "+f.Name)
		}
	}
	if _, ok, _ := st.ComponentID(state.CategoryHTTPOperations, HTTPTemplateOperation); !ok {
		missing = append(missing, "http operation "+HTTPTemplateOperation)
	}
	if len(missing) > 0 {
		return state.StatusFailed, engine.NewNotFoundError(
			"missing from state: "+strings.Join(missing, ", "), nil,
		).WithStep(s.id).WithDetail("missing", missing)
	}

	count, err := s.deps.Platform.CountComponentsByPrefix(ctx, ComponentPrefix)
	if err != nil {
		return state.StatusFailed, fmt.Errorf("failed to count components: %w", err)
	}
	if count == 0 {
		return state.StatusFailed, engine.NewNotFoundError(
			fmt.Sprintf("no components named %q* found on the platform", ComponentPrefix), nil,
		).WithStep(s.id)
	}
	s.logger.WithField("components", count).Info("Phase 2 verified")
	return state.StatusCompleted, nil
}

func requirePlatform(deps Deps) error {
	if deps.Platform == nil {
		return engine.NewConfigurationError("no platform API configured", nil)
	}
	return nil
}
