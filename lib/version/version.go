// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of the client binary.
package version

// version is set at build time via
// -ldflags "-X github.com/lectern-ai/lectern/lib/version.version=v1.2.3".
var version = "dev"

// Info returns the build version string.
func Info() string { return version }
