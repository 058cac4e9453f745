// Package gsb implements the routing core of a generic service bus
// (GSB) client: a local registry that maps hierarchical addresses to
// typed or raw handlers, and a broker-client connection that spans the
// same addressing scheme across a length-framed binary protocol.
//
// Callers bind handlers on a Router with Bind/BindStream/BindRaw/
// BindRawDual, and invoke services by address with Forward/Push/
// StreamingForward. When no local handler matches, the Router
// transparently hands the call to a connected broker (see ConnectBroker
// and Router.AttachRemote).
package gsb
