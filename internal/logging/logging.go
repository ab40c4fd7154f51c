/*
Copyright 2026 The linkerd2-proxy Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logging holds the shared logr verbosity conventions.
package logging

const (
	// DEFAULT is the default logging level.
	DEFAULT = 1
	// VERBOSE is used when a more detailed view of the proxy's operation is
	// needed, e.g. one line per watched stream transition.
	VERBOSE = 2
	// DEBUG is used for high-frequency diagnostics such as per-update logs.
	DEBUG = 3
	// TRACE is the most verbose level and may log request-scoped state.
	TRACE = 4
)
