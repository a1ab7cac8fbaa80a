package datahub

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openfroyo/hubsetup/pkg/auth"
	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/httpclient"
	"github.com/openfroyo/hubsetup/pkg/poll"
	"github.com/openfroyo/hubsetup/pkg/state"
	"github.com/openfroyo/hubsetup/pkg/templates"
)

type fakeTenant struct {
	config    map[string]string
	universes map[string]string
}

func (f fakeTenant) ConfigString(key string) string   { return f.config[key] }
func (f fakeTenant) UniverseIDs() map[string]string { return f.universes }

func testClient() *httpclient.Client {
	return httpclient.New(httpclient.Options{
		Authorization: httpclient.NewBoomiToken("ops", "tok"),
		MinInterval:   time.Millisecond,
		Backoff:       []time.Duration{},
	})
}

func newTestAPI(t *testing.T, tenant Tenant, handler http.Handler) (*API, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	fast := poll.Options{Name: "test", Interval: time.Millisecond, MaxAttempts: 3}
	return New(testClient(), Options{
		BaseURL:    srv.URL + "/mdm/api/rest/v1/acct",
		Tenant:     tenant,
		RepoPoll:   &fast,
		DeployPoll: &fast,
	}), srv.URL
}

func TestParseClouds(t *testing.T) {
	doc := "\ufeff" + `<?xml version="1.0"?>
<mdm:Clouds xmlns:mdm="http://mdm.api.platform.boomi.com/">
  <mdm:Cloud name="US East" cloudId="c-1" containerId="k-1"/>
  <Cloud containerId="k-2" cloudId="c-2" name="EU"/>
</mdm:Clouds>`
	clouds, err := ParseClouds(doc)
	if err != nil {
		t.Fatalf("ParseClouds: %v", err)
	}
	if len(clouds) != 2 {
		t.Fatalf("clouds = %+v", clouds)
	}
	if clouds[0] != (Cloud{ID: "c-1", ContainerID: "k-1", Name: "US East"}) || clouds[1].Name != "EU" {
		t.Fatalf("clouds = %+v", clouds)
	}

	if _, err := ParseClouds("<Clouds><Cloud"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestHubClouds(t *testing.T) {
	api, _ := newTestAPI(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mdm/api/rest/v1/acct/clouds" || r.Header.Get("Accept") != "application/xml" {
			t.Errorf("unexpected %s accept=%q", r.URL.Path, r.Header.Get("Accept"))
		}
		_, _ = io.WriteString(w, `<Clouds><Cloud cloudId="c-1" name="One"/></Clouds>`)
	}))
	clouds, err := api.HubClouds(context.Background())
	if err != nil || len(clouds) != 1 || clouds[0].ID != "c-1" {
		t.Fatalf("HubClouds = %+v, %v", clouds, err)
	}
}

func TestCreateRepository(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"uuid with bom", "\ufeff0a1b2c3d-0000-1111-2222-333344445555\n", "0a1b2c3d-0000-1111-2222-333344445555"},
		{"uuid in xml", `<id>ABCDEF01-0000-1111-2222-333344445555</id>`, "ABCDEF01-0000-1111-2222-333344445555"},
		{"bare text", "\ufeff repo-7 ", "repo-7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, _ := newTestAPI(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/mdm/api/rest/v1/acct/clouds/c-1/repositories/PromotionHub/create" {
					t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
				}
				_, _ = io.WriteString(w, tt.body)
			}))
			id, err := api.CreateRepository(context.Background(), "c-1", "PromotionHub")
			if err != nil || id != tt.want {
				t.Fatalf("CreateRepository = %q, %v", id, err)
			}
		})
	}

	api, _ := newTestAPI(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	if _, err := api.CreateRepository(context.Background(), "c-1", "X"); !engine.IsRemoteRequest(err) {
		t.Fatalf("expected remote request error for empty body, got %v", err)
	}
}

func TestWaitRepositoryCreated(t *testing.T) {
	var calls int32
	api, _ := newTestAPI(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			_, _ = io.WriteString(w, `<RepositoryStatus status="PENDING"/>`)
			return
		}
		_, _ = io.WriteString(w, `<RepositoryStatus status="SUCCESS"/>`)
	}))
	if err := api.WaitRepositoryCreated(context.Background(), "r-1"); err != nil {
		t.Fatalf("WaitRepositoryCreated: %v", err)
	}
}

func TestWaitRepositoryDeleted(t *testing.T) {
	var calls int32
	api, _ := newTestAPI(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = io.WriteString(w, `<RepositoryStatus status="DELETED"/>`)
	}))
	err := api.WaitRepositoryCreated(context.Background(), "r-1")
	if !engine.IsRemoteRequest(err) || engine.IsTimeout(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestRepositoryStatusUnknown(t *testing.T) {
	api, _ := newTestAPI(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<RepositoryStatus/>`)
	}))
	status, err := api.RepositoryStatus(context.Background(), "r-1")
	if err != nil || status != StatusUnknown {
		t.Fatalf("RepositoryStatus = %q, %v", status, err)
	}
}

func TestListRepositories(t *testing.T) {
	api, _ := newTestAPI(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<Repositories><Repository id="r-1" repositoryBaseUrl="https://c01.hub.example/"/></Repositories>`)
	}))
	list, err := api.ListRepositories(context.Background())
	if err != nil || list.BaseURL != "https://c01.hub.example" {
		t.Fatalf("ListRepositories = %+v, %v", list, err)
	}
}

func TestSources(t *testing.T) {
	var created string
	api, _ := newTestAPI(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mdm/api/rest/v1/acct/sources/create":
			body, _ := io.ReadAll(r.Body)
			created = string(body)
		case "/mdm/api/rest/v1/acct/sources":
			_, _ = io.WriteString(w, `<mdm:AccountSources><mdm:AccountSource><mdm:sourceId>ADMIN_CONFIG</mdm:sourceId></mdm:AccountSource>`+
				`<AccountSource><sourceId> PROMOTION_ENGINE </sourceId></AccountSource></mdm:AccountSources>`)
		default:
			http.NotFound(w, r)
		}
	}))
	ctx := context.Background()

	if err := api.CreateSource(ctx, "A&B"); err != nil {
		t.Fatalf("CreateSource: %v", err)
	}
	if strings.Count(created, "A&amp;B") != 2 {
		t.Errorf("create body = %s", created)
	}
	ids, err := api.ListSources(ctx)
	if err != nil || strings.Join(ids, ",") != "ADMIN_CONFIG,PROMOTION_ENGINE" {
		t.Fatalf("ListSources = %v, %v", ids, err)
	}
}

func TestCreateModel(t *testing.T) {
	var body string
	api, _ := newTestAPI(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		_, _ = io.WriteString(w, `<mdm:CreateModelResponse><mdm:id>m-9</mdm:id></mdm:CreateModelResponse>`)
	}))
	spec, err := templates.LoadModelSpec("ComponentMapping")
	if err != nil {
		t.Fatalf("LoadModelSpec: %v", err)
	}
	id, err := api.CreateModel(context.Background(), spec)
	if err != nil || id != "m-9" {
		t.Fatalf("CreateModel = %q, %v", id, err)
	}
	if !strings.Contains(body, "<mdm:name>ComponentMapping</mdm:name>") {
		t.Errorf("body = %s", body)
	}
}

func TestCreateModelWithoutID(t *testing.T) {
	api, _ := newTestAPI(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<ok/>`)
	}))
	spec := &templates.ModelSpec{ModelName: "X"}
	if _, err := api.CreateModel(context.Background(), spec); !engine.IsRemoteRequest(err) {
		t.Fatalf("expected remote request error, got %v", err)
	}
}

func TestModelRequestXML(t *testing.T) {
	spec := &templates.ModelSpec{
		ModelName: "Promo <Log>",
		Fields: []templates.Field{
			{Name: "id", Type: "String"},
			{Name: "devComponentId", Type: "String", Required: true},
			{Name: "count", Type: "Number"},
			{Name: "when", Type: "Date"},
			{Name: "ok", Type: "Boolean"},
			{Name: "misc", Type: "Blob"},
		},
		MatchRules: []templates.MatchRule{{Fields: []string{"devComponentId"}}},
		Sources:    []templates.Source{{Name: "A"}, {Name: "B"}},
	}
	out := ModelRequestXML(spec)

	wants := []string{
		`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`,
		`<mdm:name>Promo &lt;Log&gt;</mdm:name>`,
		`name="devComponentId" repeatable="false" required="true" type="STRING" uniqueId="DEV_COMPONENT_ID"`,
		`type="INTEGER" uniqueId="COUNT"`,
		`type="DATETIME"`,
		`type="BOOLEAN"`,
		`name="misc" repeatable="false" required="false" type="STRING"`,
		`<mdm:source id="A" type="Both" allowMultipleLinks="false" default="true">`,
		`<mdm:source id="B" type="Both" allowMultipleLinks="false" default="false">`,
		`<mdm:matchRule topLevelOperator="AND">`,
		`<mdm:fieldUniqueId>DEV_COMPONENT_ID</mdm:fieldUniqueId>`,
		`<mdm:dataQualitySteps/>`,
		`<mdm:tags/>`,
	}
	for _, want := range wants {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s", want)
		}
	}
	if strings.Contains(out, `name="id"`) {
		t.Error("id field should be skipped")
	}
	if !strings.HasSuffix(out, "</mdm:CreateModelRequest>") {
		t.Error("missing closing root element")
	}
}

func TestUniqueID(t *testing.T) {
	for in, want := range map[string]string{
		"devComponentId": "DEV_COMPONENT_ID",
		"name":           "NAME",
		"URL":            "U_R_L",
		"":               "",
	} {
		if got := UniqueID(in); got != want {
			t.Errorf("UniqueID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDeployModel(t *testing.T) {
	var query string
	tenant := fakeTenant{config: map[string]string{state.ConfigRepoID: "r-1"}}
	api, _ := newTestAPI(t, tenant, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_, _ = io.WriteString(w, `<mdm:UniverseDeployment><mdm:id>d-1</mdm:id></mdm:UniverseDeployment>`)
	}))
	id, err := api.DeployModel(context.Background(), "m-1")
	if err != nil || id != "d-1" || query != "repositoryId=r-1" {
		t.Fatalf("DeployModel = %q, %v (query %q)", id, err, query)
	}

	bare, _ := newTestAPI(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without a repository id")
	}))
	if _, err := bare.DeployModel(context.Background(), "m-1"); !engine.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestWaitModelDeployed(t *testing.T) {
	var calls int32
	api, _ := newTestAPI(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			_, _ = io.WriteString(w, `<mdm:status>PENDING</mdm:status>`)
			return
		}
		_, _ = io.WriteString(w, `<mdm:status>SUCCESS</mdm:status>`)
	}))
	if err := api.WaitModelDeployed(context.Background(), "m-1", "d-1"); err != nil {
		t.Fatalf("WaitModelDeployed: %v", err)
	}

	canceled, _ := newTestAPI(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<mdm:status>CANCELED</mdm:status>`)
	}))
	err := canceled.WaitModelDeployed(context.Background(), "m-1", "d-1")
	if !engine.IsRemoteRequest(err) || engine.IsTimeout(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestProbeURL(t *testing.T) {
	if _, ok := ProbeURL(fakeTenant{}); ok {
		t.Fatal("no hub url should give no target")
	}
	noUniverses := fakeTenant{config: map[string]string{state.ConfigHubCloudURL: "https://hub"}}
	if _, ok := ProbeURL(noUniverses); ok {
		t.Fatal("no universes should give no target")
	}

	tenant := fakeTenant{
		config:    map[string]string{state.ConfigHubCloudURL: "https://hub/"},
		universes: map[string]string{"PromotionLog": "u-3", "ComponentMapping": "u-1", "Empty": ""},
	}
	got, ok := ProbeURL(tenant)
	if !ok || got != "https://hub/mdm/universes/u-1/records/query" {
		t.Fatalf("ProbeURL = %q, %v", got, ok)
	}
}

func TestRecordsRequireConfiguration(t *testing.T) {
	ctx := context.Background()
	api := New(testClient(), Options{BaseURL: "http://unused"})
	if _, err := api.QueryRecords(ctx, "ComponentMapping", "<q/>"); !engine.IsConfiguration(err) {
		t.Fatalf("expected configuration error without hub url, got %v", err)
	}

	api = New(testClient(), Options{
		BaseURL: "http://unused",
		Tenant:  fakeTenant{config: map[string]string{state.ConfigHubCloudURL: "https://hub"}},
	})
	if _, err := api.CreateRecord(ctx, "ComponentMapping", "<r/>", ""); !engine.IsConfiguration(err) {
		t.Fatalf("expected configuration error without universe, got %v", err)
	}

	api = New(testClient(), Options{
		BaseURL: "http://unused",
		Tenant: fakeTenant{
			config:    map[string]string{state.ConfigHubCloudURL: "https://hub"},
			universes: map[string]string{"ComponentMapping": "u-1"},
		},
	})
	if _, err := api.QueryRecords(ctx, "ComponentMapping", "<q/>"); !engine.IsConfiguration(err) {
		t.Fatalf("expected configuration error without negotiator, got %v", err)
	}
}

func TestRecordsThroughNegotiator(t *testing.T) {
	var paths []string
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		paths = append(paths, r.URL.Path)
		bodies = append(bodies, string(b))
		_, _ = io.WriteString(w, `<RecordQueryResponse resultCount="0"/>`)
	}))
	t.Cleanup(srv.Close)

	tenant := fakeTenant{
		config:    map[string]string{state.ConfigHubCloudURL: srv.URL},
		universes: map[string]string{"ComponentMapping": "u-1"},
	}
	negotiator := auth.New(auth.Options{
		Credentials: func() auth.Credentials {
			return auth.Credentials{AccountID: "acct", HubUser: "hub", HubToken: "secret"}
		},
		ProbeTarget: func() (string, bool) { return ProbeURL(tenant) },
		ClientOptions: httpclient.Options{
			MinInterval: time.Millisecond,
			Backoff:     []time.Duration{},
		},
	})
	api := New(testClient(), Options{BaseURL: "http://unused", Tenant: tenant, Negotiator: negotiator})
	ctx := context.Background()

	if _, err := api.QueryRecords(ctx, "ComponentMapping", "<RecordQueryRequest/>"); err != nil {
		t.Fatalf("QueryRecords: %v", err)
	}
	if _, err := api.CreateRecord(ctx, "ComponentMapping", "  <ComponentMapping/>  ", "PROMOTION_ENGINE"); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if _, err := api.CreateRecord(ctx, "ComponentMapping", `<batch src="X"><ComponentMapping/></batch>`, "PROMOTION_ENGINE"); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	// One probe, then the three record calls.
	if len(paths) != 4 || paths[1] != "/mdm/universes/u-1/records/query" || paths[2] != "/mdm/universes/u-1/records" {
		t.Fatalf("paths = %v", paths)
	}
	if bodies[2] != "<batch src=\"PROMOTION_ENGINE\">\n<ComponentMapping/>\n</batch>" {
		t.Errorf("wrapped body = %q", bodies[2])
	}
	if bodies[3] != `<batch src="X"><ComponentMapping/></batch>` {
		t.Errorf("existing batch rewritten: %q", bodies[3])
	}
	if negotiator.Format() != auth.FormatGeneratedHub || !negotiator.Confirmed() {
		t.Errorf("format = %q confirmed = %v", negotiator.Format(), negotiator.Confirmed())
	}
}

func TestFindModel(t *testing.T) {
	api, _ := newTestAPI(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mdm/api/rest/v1/acct/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `<mdm:Models xmlns:mdm="http://mdm.api.platform.boomi.com/">`+
			`<mdm:Model><mdm:id>m-1</mdm:id><mdm:name>ComponentMapping</mdm:name></mdm:Model>`+
			`<mdm:Model><mdm:id> m-2 </mdm:id><mdm:name>PromotionLog</mdm:name></mdm:Model>`+
			`</mdm:Models>`)
	}))
	ctx := context.Background()

	id, ok, err := api.FindModel(ctx, "PromotionLog")
	if err != nil || !ok || id != "m-2" {
		t.Fatalf("FindModel = %q, %v, %v", id, ok, err)
	}
	if _, ok, err := api.FindModel(ctx, "Missing"); err != nil || ok {
		t.Fatalf("FindModel(Missing) = %v, %v", ok, err)
	}
}

func newRecordAPI(t *testing.T, handler http.Handler) *API {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tenant := fakeTenant{
		config:    map[string]string{state.ConfigHubCloudURL: srv.URL},
		universes: map[string]string{"DevAccountAccess": "u-2"},
	}
	negotiator := auth.New(auth.Options{
		Credentials: func() auth.Credentials {
			return auth.Credentials{AccountID: "acct", HubUser: "hub", HubToken: "secret"}
		},
		ProbeTarget: func() (string, bool) { return ProbeURL(tenant) },
		ClientOptions: httpclient.Options{
			MinInterval: time.Millisecond,
			Backoff:     []time.Duration{},
		},
	})
	fast := poll.Options{Name: "test", Interval: time.Millisecond, MaxAttempts: 3}
	return New(testClient(), Options{
		BaseURL:    "http://unused",
		Tenant:     tenant,
		Negotiator: negotiator,
		RecordPoll: &fast,
	})
}

func TestCreateRecordWhenKnownWaitsForModel(t *testing.T) {
	var creates int32
	api := newRecordAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/records/query") {
			return
		}
		if atomic.AddInt32(&creates, 1) < 3 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, "Entity of unknown type DevAccountAccess")
			return
		}
		_, _ = io.WriteString(w, "<ok/>")
	}))

	if err := api.CreateRecordWhenKnown(context.Background(), "DevAccountAccess", "<DevAccountAccess/>", "ADMIN_CONFIG"); err != nil {
		t.Fatalf("CreateRecordWhenKnown: %v", err)
	}
	if atomic.LoadInt32(&creates) != 3 {
		t.Fatalf("creates = %d, want 3", creates)
	}
}

func TestCreateRecordWhenKnownStopsOnOtherErrors(t *testing.T) {
	var creates int32
	api := newRecordAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/records/query") {
			return
		}
		atomic.AddInt32(&creates, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "missing required field ssoGroupId")
	}))

	err := api.CreateRecordWhenKnown(context.Background(), "DevAccountAccess", "<DevAccountAccess/>", "ADMIN_CONFIG")
	if !engine.IsRemoteRequest(err) || engine.IsTimeout(err) {
		t.Fatalf("expected the remote error, got %v", err)
	}
	if atomic.LoadInt32(&creates) != 1 {
		t.Fatalf("creates = %d, a field error should not be retried", creates)
	}
}

func TestDeleteRecordPostsDeleteBatch(t *testing.T) {
	var body string
	api := newRecordAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/records/query") {
			return
		}
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}))

	if err := api.DeleteRecord(context.Background(), "DevAccountAccess", "a&b:c", "ADMIN_CONFIG"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	want := "<batch src=\"ADMIN_CONFIG\">\n<DevAccountAccess op=\"DELETE\"><id>a&amp;b:c</id></DevAccountAccess>\n</batch>"
	if body != want {
		t.Fatalf("body = %q", body)
	}
}

func TestRenderRecordEscapesValues(t *testing.T) {
	got, err := RenderRecord(templates.DevAccessRecord, map[string]string{
		"ID":               "g<1>:d",
		"SSO_GROUP_ID":     "g<1>",
		"SSO_GROUP_NAME":   "R&D",
		"DEV_ACCOUNT_ID":   "d",
		"DEV_ACCOUNT_NAME": "Dev",
	})
	if err != nil {
		t.Fatalf("RenderRecord: %v", err)
	}
	for _, want := range []string{"<id>g&lt;1&gt;:d</id>", "<ssoGroupName>R&amp;D</ssoGroupName>"} {
		if !strings.Contains(got, want) {
			t.Errorf("record missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "{") {
		t.Errorf("unfilled placeholder in:\n%s", got)
	}
}

func TestIsUnknownEntity(t *testing.T) {
	err := engine.NewRemoteRequestError("POST failed", nil).WithResponse(400, "Entity of unknown type X", "u")
	if !IsUnknownEntity(err) {
		t.Fatal("expected unknown entity")
	}
	if IsUnknownEntity(engine.NewRemoteRequestError("POST failed", nil).WithResponse(403, "Entity of unknown type X", "u")) {
		t.Fatal("only a 400 counts")
	}
}
