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

package strategy

import (
	"math"
	"net/netip"

	"github.com/kailun-qin/linkerd2-proxy/api/destination"
)

// Strategy is the immutable snapshot distributed to watch readers. Readers
// must treat it, including its label maps, as read-only.
type Strategy struct {
	// Addr is the destination the snapshot concerns.
	Addr   netip.AddrPort
	Detect Detect
	Target Target
}

// Detect selects how the proxy discovers the protocol spoken on a
// connection.
type Detect uint8

const (
	// DetectClient sniffs the client's first bytes to pick a protocol.
	DetectClient Detect = iota
	// DetectOpaque forwards bytes without protocol detection.
	DetectOpaque
)

func (d Detect) String() string {
	if d == DetectOpaque {
		return "opaque"
	}
	return "client"
}

// Target is the routing decision carried by a snapshot. It is a closed set:
// TargetEndpoint, TargetConcrete, or TargetLogical.
type Target interface {
	isTarget()
}

// TargetEndpoint routes directly to a single endpoint address.
type TargetEndpoint struct {
	Addr netip.AddrPort
}

// TargetConcrete routes through a named concrete service.
type TargetConcrete struct {
	Authority    string
	MetricLabels map[string]string
}

// TargetLogical routes through a logical aggregate; its shape is reserved.
type TargetLogical struct{}

func (TargetEndpoint) isTarget() {}
func (TargetConcrete) isTarget() {}
func (TargetLogical) isTarget()  {}

// newStrategy builds a snapshot from a decoded response. Whenever the
// response omits or malforms a field, the snapshot falls back to client-side
// protocol detection and a direct endpoint target at the requested address.
func newStrategy(addr netip.AddrPort, res *destination.StrategyResponse) Strategy {
	s := Strategy{Addr: addr, Detect: DetectClient, Target: TargetEndpoint{Addr: addr}}
	if res == nil {
		return s
	}
	if res.Detect != nil && res.Detect.Opaque != nil {
		s.Detect = DetectOpaque
	}
	s.Target = newTarget(addr, res.Target)
	return s
}

func newTarget(addr netip.AddrPort, t *destination.Target) Target {
	switch {
	case t == nil:
		return TargetEndpoint{Addr: addr}
	case t.Endpoint != nil:
		return TargetEndpoint{Addr: endpointAddr(addr, t.Endpoint)}
	case t.Concrete != nil:
		return TargetConcrete{Authority: t.Concrete.Authority, MetricLabels: t.Concrete.MetricLabels}
	case t.Logical != nil:
		return TargetLogical{}
	default:
		return TargetEndpoint{Addr: addr}
	}
}

// endpointAddr decodes an endpoint's address, keeping the requested address
// when the wire form does not carry a usable one.
func endpointAddr(fallback netip.AddrPort, e *destination.EndpointTarget) netip.AddrPort {
	if e.Addr == nil || e.Addr.Addr == nil || e.Addr.Addr.Port > math.MaxUint16 {
		return fallback
	}
	ip, err := netip.ParseAddr(e.Addr.Addr.IP)
	if err != nil {
		return fallback
	}
	return netip.AddrPortFrom(ip, uint16(e.Addr.Addr.Port))
}
