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

package httpmetrics

import (
	"net/http"
)

// TargetFunc derives the metrics key for a request. Returning false skips
// recording for that request.
type TargetFunc[T Key] func(*http.Request) (T, bool)

// ClassifyFunc maps a completed response's status code to its
// classification value.
type ClassifyFunc[C Key] func(status int) C

// Handler wraps next so every completed request is recorded against its
// target's record. The record's handle is held for the duration of the
// request, which shields the record from eviction while the request is in
// flight.
func (r *Requests[T, C]) Handler(next http.Handler, target TargetFunc[T], classify ClassifyFunc[C]) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		key, ok := target(req)
		if !ok {
			next.ServeHTTP(w, req)
			return
		}
		handle := r.GetOrCreate(key)
		defer handle.Release()

		start := r.clock.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, req)

		status := rec.status
		if status == 0 {
			// The inner handler wrote nothing; net/http serves that as 200.
			status = http.StatusOK
		}
		handle.Metrics().RecordResponse(status, classify(status), r.clock.Since(start))
	})
}

// statusRecorder captures the status code written by the inner handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
