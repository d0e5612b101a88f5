// Package config loads the alertd configuration file (config.yaml).
//
// Top-level sections:
//   - processor: ports, API auth, schedule, lookup timeout, platform API,
//     state backend and message buses
//   - alerts: webhook destination and the rule set: channel alerts,
//     offline detection and tag thresholds
//
// Secrets are never stored in the file: webhook URLs, API keys, tokens and
// DSNs are read from the environment variables the file names (url_env,
// key_env, token_env, dsn_env).
//
// Load(path) applies defaults before unmarshalling, then validates ranges
// and enums. Watch(ctx, path, onChange) reloads the file on change; Holder
// publishes the current Config to concurrent readers.
package config
