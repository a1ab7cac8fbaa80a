package steps

import (
	"net/http"
	"strings"
	"testing"

	"github.com/openfroyo/hubsetup/pkg/auth"
	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/state"
)

// withUniverses records what steps 1.0 to 1.2 leave behind for record calls.
func withUniverses(t *testing.T, fx *fixture) {
	t.Helper()
	if err := fx.store.UpdateConfig(map[string]interface{}{state.ConfigHubCloudURL: fx.tenant.URL}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	for _, model := range []string{"ComponentMapping", "DevAccountAccess", "PromotionLog"} {
		if err := fx.store.StoreUniverseID(model, "u-"+model); err != nil {
			t.Fatalf("StoreUniverseID: %v", err)
		}
	}
}

func TestSeedDevAccess(t *testing.T) {
	fx := newFixture(t)
	withUniverses(t, fx)
	fx.prompter.queue = []bool{true, false}
	fx.prompter.answers = map[string]string{
		"SSO Group ID":     "grp-1",
		"SSO Group Name":   "Developers & Co",
		"Dev Account ID":   "dev-1",
		"Dev Account Name": "Dev One",
	}

	if status, err := fx.execute(t, IDSeedDevAccess, false); err != nil || status != state.StatusCompleted {
		t.Fatalf("Execute = %s, %v", status, err)
	}
	if len(fx.tenant.records) != 1 {
		t.Fatalf("record writes = %d", len(fx.tenant.records))
	}
	body := fx.tenant.records[0]
	for _, want := range []string{`<batch src="ADMIN_CONFIG">`, "<id>grp-1:dev-1</id>", "Developers &amp; Co"} {
		if !strings.Contains(body, want) {
			t.Errorf("record body missing %q:\n%s", want, body)
		}
	}
	if remaining := fx.store.RemainingItems(IDSeedDevAccess, []string{"grp-1:dev-1"}); len(remaining) != 0 {
		t.Errorf("remaining = %v", remaining)
	}

	// The same record again is skipped.
	fx.prompter.queue = []bool{true, false}
	if _, err := fx.execute(t, IDSeedDevAccess, false); err != nil {
		t.Fatalf("re-run: %v", err)
	}
	if len(fx.tenant.records) != 1 {
		t.Errorf("record writes after re-run = %d", len(fx.tenant.records))
	}
}

func TestSeedDevAccessNone(t *testing.T) {
	fx := newFixture(t)
	fx.prompter.confirm = false

	if status, err := fx.execute(t, IDSeedDevAccess, false); err != nil || status != state.StatusCompleted {
		t.Fatalf("Execute = %s, %v", status, err)
	}
	if fx.prompter.confirms != 1 || len(fx.tenant.calls) != 0 {
		t.Fatalf("confirms = %d, calls = %v", fx.prompter.confirms, fx.tenant.calls)
	}
}

func TestSeedDevAccessWaitsForModel(t *testing.T) {
	fx := newFixture(t)
	withUniverses(t, fx)
	fx.prompter.queue = []bool{true, false}
	fx.tenant.unknownEntity = 2

	if status, err := fx.execute(t, IDSeedDevAccess, false); err != nil || status != state.StatusCompleted {
		t.Fatalf("Execute = %s, %v", status, err)
	}
	if n := fx.tenant.hits("record"); n != 3 {
		t.Errorf("record calls = %d, want 3", n)
	}
}

func TestSeedDevAccessNeedsPrompter(t *testing.T) {
	fx := newFixture(t)
	fx.deps.Prompter = nil
	status, err := fx.execute(t, IDSeedDevAccess, false)
	if status != state.StatusFailed || !engine.IsConfiguration(err) {
		t.Fatalf("Execute = %s, %v", status, err)
	}
}

func TestValidateRecords(t *testing.T) {
	fx := newFixture(t)
	withUniverses(t, fx)

	if status, err := fx.execute(t, IDValidateRecords, false); err != nil || status != state.StatusCompleted {
		t.Fatalf("Execute = %s, %v", status, err)
	}
	if len(fx.tenant.records) != 2 {
		t.Fatalf("record writes = %d", len(fx.tenant.records))
	}
	if !strings.Contains(fx.tenant.records[0], "<devComponentId>test-crud-00000000</devComponentId>") {
		t.Errorf("create body = %s", fx.tenant.records[0])
	}
	if !strings.Contains(fx.tenant.records[1], `op="DELETE"`) || !strings.Contains(fx.tenant.records[1], `src="PROMOTION_ENGINE"`) {
		t.Errorf("delete body = %s", fx.tenant.records[1])
	}
}

func TestValidateRecordsQueryMiss(t *testing.T) {
	fx := newFixture(t)
	withUniverses(t, fx)
	fx.tenant.queryEmpty = true

	status, err := fx.execute(t, IDValidateRecords, false)
	if status != state.StatusFailed || !engine.IsNotFound(err) {
		t.Fatalf("Execute = %s, %v", status, err)
	}
	if len(fx.tenant.records) != 1 {
		t.Errorf("a failed check should not delete, writes = %d", len(fx.tenant.records))
	}
}

func TestRecordRejectionDropsCredentials(t *testing.T) {
	fx := newFixture(t)
	withUniverses(t, fx)
	if status, err := fx.execute(t, IDVerifyCredentials, false); err != nil || status != state.StatusCompleted {
		t.Fatalf("verify = %s, %v", status, err)
	}
	if fx.deps.Negotiator.Format() != auth.FormatAccountHub {
		t.Fatalf("format = %q", fx.deps.Negotiator.Format())
	}

	fx.tenant.recordStatus = http.StatusUnauthorized
	status, err := fx.execute(t, IDValidateRecords, false)
	if status != state.StatusFailed || !engine.IsAuthentication(err) {
		t.Fatalf("Execute = %s, %v", status, err)
	}
	if fx.deps.Negotiator.Format() != "" || fx.deps.Negotiator.Confirmed() {
		t.Errorf("negotiated format kept after rejection: %q", fx.deps.Negotiator.Format())
	}

	fx.prompter.queue = []bool{true, false}
	status, err = fx.execute(t, IDSeedDevAccess, false)
	if status != state.StatusFailed || !engine.IsAuthentication(err) {
		t.Fatalf("seed Execute = %s, %v", status, err)
	}
	if fx.deps.Negotiator.Format() != "" {
		t.Errorf("negotiated format kept after seed rejection: %q", fx.deps.Negotiator.Format())
	}
}
