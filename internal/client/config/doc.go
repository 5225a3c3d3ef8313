// Package config loads runtime configuration for the client shell.
//
// Sources & precedence
//
//  1. Built-in defaults (struct tags, applied with creasty/defaults).
//  2. Optional JSON or YAML file selected via -c or -config. Files ending in
//     .yaml or .yml are read as YAML, anything else as JSON.
//  3. BT_* environment variables.
//  4. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-u string   backend base URL
//	-k string   API key
//	-d string   path of the local database
//	-i int      reachability probe interval (seconds)
//	-l string   log level
//
// # File schema
//
// Durations use timex.Duration, so values can be strings like "3s" or
// integer nanoseconds:
//
//	{
//	  "backend_url": "https://example.org",
//	  "probe_timeout": "3s",
//	  "send_attempts": 3
//	}
package config
