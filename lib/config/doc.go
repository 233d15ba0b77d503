// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the Lectern client configuration.
//
// Configuration comes from a single YAML file located by the
// LECTERN_CONFIG environment variable or a --config flag. There is no
// fallback discovery and environment variables do not override file
// values; the file is the single source of truth. The only expansion
// performed is ${VAR} substitution in paths for portability.
//
// The connection endpoints (token service, automation worker, diagram
// generator) are required inputs: Validate rejects a configuration
// that omits any of them rather than falling back to a default host.
package config
