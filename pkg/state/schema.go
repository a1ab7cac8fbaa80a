package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// SchemaVersion is written into every new state document.
const SchemaVersion = "1.0.0"

// DefaultFileName is the state document created in the working directory
// when no explicit path is given.
const DefaultFileName = ".boomi-setup-state.json"

// Keyed component categories map a logical name to a remote identifier.
const (
	CategoryModels         = "models"
	CategorySources        = "sources"
	CategoryStagingAreas   = "staging_areas"
	CategoryFolders        = "folders"
	CategoryConnections    = "connections"
	CategoryHTTPOperations = "http_operations"
	CategoryDHOperations   = "dh_operations"
	CategoryProfiles       = "profiles"
	CategoryScripts        = "scripts"
	CategoryFSSOperations  = "fss_operations"
	CategoryProcesses      = "processes"
)

// Scalar component categories hold exactly one remote identifier.
const (
	CategoryFlowService = "flow_service"
)

// Discovery template keys.
const (
	TemplateHTTPOperation = "http_operation_template_xml"
	TemplateDHOperation   = "dh_operation_template_xml"
	TemplateFSSOperation  = "fss_operation_template_xml"
	TemplateProfile       = "profile_template_xml"
)

// Config keys with defaults.
const (
	ConfigAccountID        = "boomi_account_id"
	ConfigRepoID           = "boomi_repo_id"
	ConfigCloudBaseURL     = "cloud_base_url"
	ConfigFSSEnvironmentID = "fss_environment_id"
	ConfigDataHubToken     = "datahub_token"
	ConfigDataHubUser      = "datahub_user"
	ConfigHubCloudURL      = "hub_cloud_url"
	ConfigHubCloudName     = "hub_cloud_name"
	ConfigUniverseIDs      = "universe_ids"
)

// DefaultCloudBaseURL is the platform API host used when none is configured.
const DefaultCloudBaseURL = "https://api.boomi.com"

var keyedCategories = []string{
	CategoryModels,
	CategorySources,
	CategoryStagingAreas,
	CategoryFolders,
	CategoryConnections,
	CategoryHTTPOperations,
	CategoryDHOperations,
	CategoryProfiles,
	CategoryScripts,
	CategoryFSSOperations,
	CategoryProcesses,
}

var scalarCategories = []string{
	CategoryFlowService,
}

var discoveryKeys = []string{
	TemplateHTTPOperation,
	TemplateDHOperation,
	TemplateFSSOperation,
	TemplateProfile,
}

var (
	// ErrUnknownCategory is returned for a component category outside the known set.
	ErrUnknownCategory = errors.New("unknown component category")

	// ErrUnknownTemplate is returned for a discovery key outside the known set.
	ErrUnknownTemplate = errors.New("unknown discovery template key")

	// ErrNotFound is returned when a state document does not exist.
	ErrNotFound = errors.New("state file not found")
)

// Categories returns all known component categories, keyed first.
func Categories() []string {
	out := make([]string, 0, len(keyedCategories)+len(scalarCategories))
	out = append(out, keyedCategories...)
	return append(out, scalarCategories...)
}

// IsScalarCategory reports whether category holds a single identifier.
func IsScalarCategory(category string) bool {
	for _, c := range scalarCategories {
		if c == category {
			return true
		}
	}
	return false
}

func isKeyedCategory(category string) bool {
	for _, c := range keyedCategories {
		if c == category {
			return true
		}
	}
	return false
}

func isDiscoveryKey(key string) bool {
	for _, k := range discoveryKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Document is the on-disk state schema.
type Document struct {
	Version            string                 `json:"version"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
	Config             map[string]interface{} `json:"config"`
	ComponentIDs       *ComponentIDs          `json:"component_ids"`
	Steps              map[string]*StepRecord `json:"steps"`
	DiscoveryTemplates map[string]*string     `json:"discovery_templates"`
}

// StepRecord is the persisted execution record of a single step.
type StepRecord struct {
	Status         StepStatus `json:"status"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Error          string     `json:"error,omitempty"`
	CompletedItems []string   `json:"completed_items,omitempty"`
}

func (r *StepRecord) hasItem(item string) bool {
	for _, i := range r.CompletedItems {
		if i == item {
			return true
		}
	}
	return false
}

// newDocument returns a fresh document with every default populated.
func newDocument(now time.Time) *Document {
	doc := &Document{
		Version:   SchemaVersion,
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc.backfill()
	return doc
}

// defaultConfig returns the config section of a new document.
func defaultConfig() map[string]interface{} {
	return map[string]interface{}{
		ConfigAccountID:        "",
		ConfigRepoID:           "",
		ConfigCloudBaseURL:     DefaultCloudBaseURL,
		ConfigFSSEnvironmentID: "",
		ConfigDataHubToken:     "",
		ConfigDataHubUser:      "",
		ConfigHubCloudURL:      "",
		ConfigHubCloudName:     "",
		ConfigUniverseIDs:      map[string]interface{}{},
	}
}

// backfill adds any section, category, template key or config default missing
// from a document written by an older schema.
func (d *Document) backfill() {
	if d.Version == "" {
		d.Version = SchemaVersion
	}
	if d.Config == nil {
		d.Config = make(map[string]interface{})
	}
	for k, v := range defaultConfig() {
		if _, ok := d.Config[k]; !ok {
			d.Config[k] = v
		}
	}
	if d.ComponentIDs == nil {
		d.ComponentIDs = newComponentIDs()
	}
	d.ComponentIDs.backfill()
	if d.Steps == nil {
		d.Steps = make(map[string]*StepRecord)
	}
	for id, rec := range d.Steps {
		if rec == nil {
			delete(d.Steps, id)
		}
	}
	if d.DiscoveryTemplates == nil {
		d.DiscoveryTemplates = make(map[string]*string)
	}
	for _, k := range discoveryKeys {
		if _, ok := d.DiscoveryTemplates[k]; !ok {
			d.DiscoveryTemplates[k] = nil
		}
	}
}

// ComponentIDs is the categorized registry of remote identifiers.
// Keyed categories serialize as objects, scalar categories as a string or null.
type ComponentIDs struct {
	keyed  map[string]map[string]string
	scalar map[string]*string
	// extra preserves categories written by a newer schema.
	extra map[string]json.RawMessage
}

func newComponentIDs() *ComponentIDs {
	c := &ComponentIDs{}
	c.backfill()
	return c
}

func (c *ComponentIDs) backfill() {
	if c.keyed == nil {
		c.keyed = make(map[string]map[string]string)
	}
	if c.scalar == nil {
		c.scalar = make(map[string]*string)
	}
	for _, cat := range keyedCategories {
		if c.keyed[cat] == nil {
			c.keyed[cat] = make(map[string]string)
		}
	}
	for _, cat := range scalarCategories {
		if _, ok := c.scalar[cat]; !ok {
			c.scalar[cat] = nil
		}
	}
}

// Names returns the sorted logical names registered in a keyed category.
func (c *ComponentIDs) Names(category string) []string {
	names := make([]string, 0, len(c.keyed[category]))
	for name := range c.keyed[category] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON implements json.Marshaler.
func (c *ComponentIDs) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(c.keyed)+len(c.scalar)+len(c.extra))
	for k, v := range c.extra {
		out[k] = v
	}
	for k, v := range c.keyed {
		out[k] = v
	}
	for k, v := range c.scalar {
		out[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. A known category stored with the
// wrong shape is rejected.
func (c *ComponentIDs) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.keyed = make(map[string]map[string]string)
	c.scalar = make(map[string]*string)
	c.extra = make(map[string]json.RawMessage)

	for cat, msg := range raw {
		switch {
		case isKeyedCategory(cat):
			var m map[string]string
			if err := json.Unmarshal(msg, &m); err != nil {
				return fmt.Errorf("component category %s must be an object of strings: %w", cat, err)
			}
			c.keyed[cat] = m
		case IsScalarCategory(cat):
			var s *string
			if err := json.Unmarshal(msg, &s); err != nil {
				return fmt.Errorf("component category %s must be a string or null: %w", cat, err)
			}
			c.scalar[cat] = s
		default:
			c.extra[cat] = msg
		}
	}
	return nil
}
