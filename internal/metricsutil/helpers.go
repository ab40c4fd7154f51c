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

// Package metricsutil provides helpers shared by the metric-exposing packages.
package metricsutil

import (
	"fmt"

	compbasemetrics "k8s.io/component-base/metrics"
)

// HelpMsgWithStability prepends the stability level to a metric's help message
// so scrape consumers can tell maturity guarantees apart.
func HelpMsgWithStability(msg string, stabilityLevel compbasemetrics.StabilityLevel) string {
	return fmt.Sprintf("[%v] %v", stabilityLevel, msg)
}
