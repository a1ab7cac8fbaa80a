package config

import (
	"os"
	"strings"

	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/state"
)

// Environment variables read by Load.
const (
	EnvUser           = "BOOMI_USER"
	EnvToken          = "BOOMI_TOKEN"
	EnvAccount        = "BOOMI_ACCOUNT"
	EnvRepo           = "BOOMI_REPO"
	EnvFSSEnvironment = "BOOMI_FSS_ENVIRONMENT"
	EnvHubUser        = "BOOMI_HUB_USER"
	EnvHubToken       = "BOOMI_HUB_TOKEN"
	EnvCloudURL       = "BOOMI_CLOUD_URL"
)

// LoadOptions controls how Settings are assembled.
type LoadOptions struct {
	// StateConfig is the config section of the state file, if any.
	StateConfig map[string]interface{}

	// Env looks up environment variables. Defaults to os.Getenv.
	Env func(string) string

	// Prompter asks for missing fields when Interactive is set.
	Prompter Prompter

	Interactive bool
}

type field struct {
	label  string
	env    string
	key    string
	secret bool
	prompt bool
	target func(*Settings) *string
}

// fields lists each setting in prompt order with its env var and state key.
// An empty key means the value is never read from state.
var fields = []field{
	{label: "Boomi Account ID", env: EnvAccount, key: state.ConfigAccountID, prompt: true,
		target: func(s *Settings) *string { return &s.AccountID }},
	{label: "Repository ID", env: EnvRepo, key: state.ConfigRepoID,
		target: func(s *Settings) *string { return &s.RepoID }},
	{label: "Cloud base URL", env: EnvCloudURL, key: state.ConfigCloudBaseURL,
		target: func(s *Settings) *string { return &s.CloudBaseURL }},
	{label: "FSS Environment ID", env: EnvFSSEnvironment, key: state.ConfigFSSEnvironmentID, prompt: true,
		target: func(s *Settings) *string { return &s.FSSEnvironmentID }},
	{label: "Boomi API Username", env: EnvUser, prompt: true,
		target: func(s *Settings) *string { return &s.User }},
	{label: "Boomi API Token", env: EnvToken, secret: true, prompt: true,
		target: func(s *Settings) *string { return &s.Token }},
	{label: "Hub cloud URL", key: state.ConfigHubCloudURL,
		target: func(s *Settings) *string { return &s.HubCloudURL }},
	{label: "Hub cloud name", key: state.ConfigHubCloudName,
		target: func(s *Settings) *string { return &s.HubCloudName }},
	{label: "DataHub user", env: EnvHubUser, key: state.ConfigDataHubUser,
		target: func(s *Settings) *string { return &s.HubUser }},
	{label: "DataHub token", env: EnvHubToken, key: state.ConfigDataHubToken, secret: true,
		target: func(s *Settings) *string { return &s.HubToken }},
}

// Load assembles Settings from the environment, then the state config, then
// prompts for required fields that are still empty.
func Load(opts LoadOptions) (*Settings, error) {
	env := opts.Env
	if env == nil {
		env = os.Getenv
	}

	s := &Settings{UniverseIDs: make(map[string]string)}
	for _, f := range fields {
		dst := f.target(s)
		if f.env != "" {
			if v := strings.TrimSpace(env(f.env)); v != "" {
				*dst = v
				continue
			}
		}
		if f.key != "" {
			if v, ok := opts.StateConfig[f.key].(string); ok && v != "" {
				*dst = v
			}
		}
	}
	if s.CloudBaseURL == "" {
		s.CloudBaseURL = state.DefaultCloudBaseURL
	}
	s.CloudBaseURL = strings.TrimRight(s.CloudBaseURL, "/")

	if raw, ok := opts.StateConfig[state.ConfigUniverseIDs].(map[string]interface{}); ok {
		for model, id := range raw {
			if str, ok := id.(string); ok {
				s.UniverseIDs[model] = str
			}
		}
	}

	if opts.Interactive {
		if opts.Prompter == nil {
			return nil, engine.NewConfigurationError("interactive configuration requested without a prompter", nil)
		}
		for _, f := range fields {
			dst := f.target(s)
			if !f.prompt || *dst != "" {
				continue
			}
			v, err := opts.Prompter.Prompt(f.label, f.secret)
			if err != nil {
				return nil, engine.NewConfigurationError("failed to read "+f.label, err)
			}
			*dst = strings.TrimSpace(v)
		}
	}

	return s, nil
}
