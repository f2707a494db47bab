// Package config loads the durastep configuration.
//
// A configuration file is YAML. Before it is decoded the document is checked
// against a closed CUE definition (see SchemaRegistry), so misspelled keys
// and malformed durations are reported with their path instead of being
// silently ignored. The decoded values are layered over Default, then
// DURASTEP_* environment variables are applied and the result is validated
// with struct tags:
//
//	DURASTEP_LISTEN_ADDR   server.address
//	DURASTEP_STORAGE       storage.kind
//	DURASTEP_DB_PATH       storage.path
//	DURASTEP_LOG_LEVEL     telemetry.logging.level
//	DURASTEP_FAILURE_RATE  simulation.failure_rate
//
// Watcher reloads the file on change. The server uses it to update the
// simulated step delays and failure rate without a restart.
package config
