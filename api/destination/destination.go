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

// Package destination defines the message types exchanged with the destination
// service's strategy API. The wire encoding and transport are owned by the RPC
// layer; consumers of this package only see decoded messages.
package destination

// StrategyRequest asks the destination service for the routing strategy of a
// single target address.
type StrategyRequest struct {
	// Target is the address the proxy is routing for.
	Target *TCPAddress
	// ContextToken is an opaque token relayed to the control plane, e.g. to
	// scope responses to the proxy's identity.
	ContextToken string
}

// StrategyResponse is one update on a strategy stream. Either field may be
// absent; the client applies defaults in that case.
type StrategyResponse struct {
	Detect *ProtocolDetection
	Target *Target
}

// ProtocolDetection selects how the proxy should determine a connection's
// protocol. Exactly one of the fields should be set.
type ProtocolDetection struct {
	Client *ClientDetection
	Opaque *OpaqueDetection
}

// ClientDetection indicates the proxy should sniff the client's first bytes.
type ClientDetection struct{}

// OpaqueDetection indicates the connection must be forwarded without protocol
// detection.
type OpaqueDetection struct{}

// Target describes where traffic for the requested address should be sent.
// Exactly one of the fields should be set.
type Target struct {
	Endpoint *EndpointTarget
	Concrete *ConcreteTarget
	Logical  *LogicalTarget
}

// EndpointTarget routes directly to a single endpoint.
type EndpointTarget struct {
	Addr *WeightedAddr
}

// ConcreteTarget routes to a named, load-balanced concrete destination.
type ConcreteTarget struct {
	Authority    string
	MetricLabels map[string]string
}

// LogicalTarget routes to a logical aggregate of concrete destinations.
// Its routing fields are reserved and not yet consumed by the proxy.
type LogicalTarget struct {
	MetricLabels map[string]string
}

// WeightedAddr is an endpoint address with a load-balancing weight.
type WeightedAddr struct {
	Addr   *TCPAddress
	Weight uint32
}

// TCPAddress is a serialized socket address. IP is textual and may fail to
// parse, in which case clients fall back to their request address.
type TCPAddress struct {
	IP   string
	Port uint32
}
