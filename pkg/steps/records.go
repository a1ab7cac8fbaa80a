package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/hubsetup/pkg/datahub"
	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/state"
	"github.com/openfroyo/hubsetup/pkg/telemetry"
	"github.com/openfroyo/hubsetup/pkg/templates"
)

// Record sources.
const (
	SeedSource       = "ADMIN_CONFIG"
	ValidationSource = "PROMOTION_ENGINE"
)

// Record models.
const (
	modelDevAccess = "DevAccountAccess"
	modelMapping   = "ComponentMapping"
)

// Fixed ids of the throwaway mapping written by the record check.
const (
	testDevComponentID = "test-crud-00000000"
	testDevAccountID   = "test-account-00000000"
)

const seedInstructions = `DevAccountAccess records map an SSO group to the dev accounts its members
may promote from. Have the SSO group id and name plus the dev account id and
name at hand for each record.`

// reauthorize drops the negotiated credentials when err is an authentication
// rejection, so the next record call negotiates again.
func reauthorize(deps Deps, logger *telemetry.Logger, err error) error {
	if !engine.IsAuthentication(err) {
		return err
	}
	if deps.Negotiator != nil {
		deps.Negotiator.Invalidate()
	}
	logger.WithError(err).Warn("Repository API rejected the credentials, dropped the cached format")
	return engine.NewAuthenticationError(
		"the repository API rejected the negotiated credentials, re-run step 1.3", err,
	).WithCode(engine.ErrCodeUnauthorized)
}

// seedDevAccess collects DevAccountAccess records from the operator and
// writes them to the repository. Each written record is an item of the step.
type seedDevAccess struct {
	meta
	deps   Deps
	logger *telemetry.Logger
}

func newSeedDevAccess(deps Deps, logger *telemetry.Logger) *seedDevAccess {
	return &seedDevAccess{
		meta: meta{
			id: IDSeedDevAccess, name: "Seed Dev Account Access Records", level: engine.LevelSemi,
			deps: []string{IDVerifyCredentials},
		},
		deps:   deps,
		logger: logger.WithStepID(IDSeedDevAccess),
	}
}

type devAccess struct {
	ssoGroupID, ssoGroupName     string
	devAccountID, devAccountName string
}

// entityID is the source entity id of the record.
func (r devAccess) entityID() string { return r.ssoGroupID + ":" + r.devAccountID }

func (s *seedDevAccess) Execute(ctx context.Context, st *state.Store, dryRun bool) (state.StepStatus, error) {
	if dryRun {
		s.logger.Infof("Would collect and create %s records", modelDevAccess)
		return state.StatusCompleted, nil
	}
	if err := requireDataHub(s.deps); err != nil {
		return state.StatusFailed, err
	}
	if s.deps.Prompter == nil {
		return state.StatusFailed, engine.NewConfigurationError("seeding records needs an interactive prompter", nil)
	}

	question := "Add a " + modelDevAccess + " record?"
	seeded := 0
	for {
		more, err := s.deps.Prompter.Confirm(seedInstructions, question)
		if err != nil {
			return state.StatusFailed, err
		}
		if !more {
			break
		}
		question = "Add another " + modelDevAccess + " record?"

		rec, err := s.collect()
		if err != nil {
			return state.StatusFailed, err
		}
		logger := s.logger.WithField("entity_id", rec.entityID())
		if len(st.RemainingItems(s.id, []string{rec.entityID()})) == 0 {
			logger.Info("Record already seeded")
			continue
		}

		xml, err := datahub.RenderRecord(templates.DevAccessRecord, map[string]string{
			"ID":               rec.entityID(),
			"SSO_GROUP_ID":     rec.ssoGroupID,
			"SSO_GROUP_NAME":   rec.ssoGroupName,
			"DEV_ACCOUNT_ID":   rec.devAccountID,
			"DEV_ACCOUNT_NAME": rec.devAccountName,
		})
		if err != nil {
			return state.StatusFailed, err
		}
		if err := s.deps.DataHub.CreateRecordWhenKnown(ctx, modelDevAccess, xml, SeedSource); err != nil {
			return state.StatusFailed, fmt.Errorf("failed to create %s record: %w", modelDevAccess, reauthorize(s.deps, s.logger, err))
		}
		if err := st.MarkStepItemComplete(s.id, rec.entityID()); err != nil {
			return state.StatusFailed, err
		}
		seeded++
		logger.Info("Record created")
	}

	s.logger.WithField("count", seeded).Info("Dev account access seeding finished")
	return state.StatusCompleted, nil
}

func (s *seedDevAccess) collect() (devAccess, error) {
	var rec devAccess
	fields := []struct {
		label string
		dst   *string
	}{
		{"SSO Group ID", &rec.ssoGroupID},
		{"SSO Group Name", &rec.ssoGroupName},
		{"Dev Account ID", &rec.devAccountID},
		{"Dev Account Name", &rec.devAccountName},
	}
	for _, f := range fields {
		v, err := s.deps.Prompter.Collect("", f.label, nonEmpty)
		if err != nil {
			return devAccess{}, err
		}
		*f.dst = strings.TrimSpace(v)
	}
	return rec, nil
}

func nonEmpty(s string) bool { return strings.TrimSpace(s) != "" }

// validateRecords writes a throwaway ComponentMapping, reads it back and
// deletes it again.
type validateRecords struct {
	meta
	deps   Deps
	logger *telemetry.Logger
}

func newValidateRecords(deps Deps, logger *telemetry.Logger) *validateRecords {
	return &validateRecords{
		meta: meta{
			id: IDValidateRecords, name: "Validate DataHub Records", level: engine.LevelValidate,
			deps: []string{IDVerifyCredentials},
		},
		deps:   deps,
		logger: logger.WithStepID(IDValidateRecords),
	}
}

func (s *validateRecords) Execute(ctx context.Context, _ *state.Store, dryRun bool) (status state.StepStatus, err error) {
	if dryRun {
		s.logger.Infof("Would create, query and delete a test %s record", modelMapping)
		return state.StatusCompleted, nil
	}
	if err := requireDataHub(s.deps); err != nil {
		return state.StatusFailed, err
	}

	op := telemetry.StartOperation(ctx, "steps.validate_records")
	defer func() { op.End(err) }()

	entityID := testDevComponentID + ":" + testDevAccountID
	xml, err := datahub.RenderRecord(templates.ComponentMappingRecord, map[string]string{
		"ID":                entityID,
		"DEV_COMPONENT_ID":  testDevComponentID,
		"DEV_ACCOUNT_ID":    testDevAccountID,
		"PROD_COMPONENT_ID": "test-prod-00000000",
		"COMPONENT_NAME":    "Record Check",
		"COMPONENT_TYPE":    "process",
		"PROD_ACCOUNT_ID":   "test-prod-account-00000000",
	})
	if err != nil {
		return state.StatusFailed, err
	}
	if err := s.deps.DataHub.CreateRecordWhenKnown(op.Ctx, modelMapping, xml, ValidationSource); err != nil {
		return state.StatusFailed, fmt.Errorf("failed to create test record: %w", reauthorize(s.deps, s.logger, err))
	}

	query, err := datahub.RenderRecord(templates.RecordQuery, map[string]string{
		"FIELD_ID": datahub.UniqueID("devComponentId"),
		"VALUE":    testDevComponentID,
	})
	if err != nil {
		return state.StatusFailed, err
	}
	result, err := s.deps.DataHub.QueryRecords(op.Ctx, modelMapping, query)
	if err != nil {
		return state.StatusFailed, fmt.Errorf("failed to query test record: %w", reauthorize(s.deps, s.logger, err))
	}
	if !strings.Contains(result, testDevComponentID) {
		return state.StatusFailed, engine.NewNotFoundError(
			"the test "+modelMapping+" record was created but the query did not return it", nil,
		).WithStep(s.id)
	}

	// The check already passed; a leftover test record only warns.
	if err := s.deps.DataHub.DeleteRecord(op.Ctx, modelMapping, entityID, ValidationSource); err != nil {
		s.logger.WithError(reauthorize(s.deps, s.logger, err)).Warn("Could not delete the test record")
	}
	s.logger.Info("Record create, query and delete verified")
	return state.StatusCompleted, nil
}
