package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/hubsetup/pkg/auth"
	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/state"
)

// Settings are the tenant values the setup steps run against.
type Settings struct {
	AccountID        string `validate:"required" label:"Boomi Account ID"`
	RepoID           string
	CloudBaseURL     string `validate:"required,url" label:"Cloud base URL"`
	FSSEnvironmentID string `validate:"required" label:"FSS Environment ID"`

	// User and Token are the platform API credentials. They are never persisted.
	User  string `validate:"required" label:"Boomi API Username"`
	Token string `validate:"required" label:"Boomi API Token"`

	HubCloudURL  string `validate:"omitempty,url" label:"Hub cloud URL"`
	HubCloudName string
	HubUser      string
	HubToken     string

	// UniverseIDs maps a deployed model name to its universe id.
	UniverseIDs map[string]string
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if label := f.Tag.Get("label"); label != "" {
			return label
		}
		return f.Name
	})
	return v
}

// Validate reports every missing or malformed field as one configuration error.
func (s *Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return engine.NewConfigurationError("failed to validate settings", err)
	}

	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			problems = append(problems, fmt.Sprintf("%s is required", fe.Field()))
		case "url":
			problems = append(problems, fmt.Sprintf("%s must be a URL, got %q", fe.Field(), fe.Value()))
		default:
			problems = append(problems, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return engine.NewConfigurationError("incomplete configuration: "+strings.Join(problems, "; "), nil).
		WithCode(engine.ErrCodeValidation).
		WithDetail("problems", problems)
}

// IsComplete reports whether the settings are enough to run the setup.
func (s *Settings) IsComplete() bool {
	return s.Validate() == nil
}

// Missing returns the labels of required fields that are empty.
func (s *Settings) Missing() []string {
	var missing []string
	var verrs validator.ValidationErrors
	if errors.As(validate.Struct(s), &verrs) {
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				missing = append(missing, fe.Field())
			}
		}
	}
	return missing
}

// HasCredentials reports whether platform API credentials are present.
func (s *Settings) HasCredentials() bool {
	return s.User != "" && s.Token != ""
}

// ToStateConfig returns the fields persisted in the state file's config section.
// Neither the platform nor the DataHub credentials are included.
func (s *Settings) ToStateConfig() map[string]interface{} {
	universes := make(map[string]interface{}, len(s.UniverseIDs))
	for model, id := range s.UniverseIDs {
		universes[model] = id
	}
	return map[string]interface{}{
		state.ConfigAccountID:        s.AccountID,
		state.ConfigRepoID:           s.RepoID,
		state.ConfigCloudBaseURL:     s.CloudBaseURL,
		state.ConfigFSSEnvironmentID: s.FSSEnvironmentID,
		state.ConfigHubCloudURL:      s.HubCloudURL,
		state.ConfigHubCloudName:     s.HubCloudName,
		state.ConfigUniverseIDs:      universes,
	}
}

// Credentials returns the secrets the auth negotiator builds candidates from.
func (s *Settings) Credentials() auth.Credentials {
	return auth.Credentials{
		AccountID: s.AccountID,
		User:      s.User,
		Token:     s.Token,
		HubUser:   s.HubUser,
		HubToken:  s.HubToken,
	}
}

// PlatformBaseURL is the Platform API root for the account.
func (s *Settings) PlatformBaseURL() string {
	return fmt.Sprintf("%s/partner/api/rest/v1/%s", strings.TrimRight(s.CloudBaseURL, "/"), s.AccountID)
}

// DataHubBaseURL is the DataHub platform API root for the account.
func (s *Settings) DataHubBaseURL() string {
	return fmt.Sprintf("%s/mdm/api/rest/v1/%s", strings.TrimRight(s.CloudBaseURL, "/"), s.AccountID)
}

// Masked returns a copy safe to print, with secrets shortened.
func (s *Settings) Masked() Settings {
	m := *s
	m.Token = mask(s.Token)
	m.HubToken = mask(s.HubToken)
	return m
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:4] + "****"
}
