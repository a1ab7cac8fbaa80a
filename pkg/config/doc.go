// Package config resolves the tenant settings the setup needs and the
// tool's own runtime configuration.
//
// # Tenant settings
//
// Settings are assembled in three layers, highest priority first:
//
//  1. environment variables (BOOMI_USER, BOOMI_TOKEN, BOOMI_ACCOUNT, ...)
//  2. the config section of the state file
//  3. interactive prompts, for fields still missing
//
// API credentials never come from or go to the state file. ToStateConfig
// returns the subset that is safe to persist.
//
// # Tool configuration
//
// File is the optional YAML document passed with --config. It controls
// logging, metrics, tracing, HTTP pacing, the auth probe status set and the
// run journal. Defaults apply when no file is given:
//
//	logging:
//	  level: info
//	  format: console
//	http:
//	  min_interval: 120ms
//	  backoff: [1s, 2s, 4s]
//	journal:
//	  enabled: true
//	  path: .boomi-setup-journal.db
package config
