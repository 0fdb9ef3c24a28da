// Package servly is a configurable convenience layer over net/http for
// talking to versioned backend services through a gateway.
//
// A Service composes request URLs from gateway, service name, version and
// endpoint, attaches the stored access token, and handles auth failures: when
// a request comes back with a refresh status (401 by default), one token
// refresh is performed no matter how many requests failed concurrently, and
// every failed request is replayed once with the new token. A mock registry
// lets the client serve canned or scripted responses without a network, and
// endpoints can be marked public so no credentials are ever attached to them.
//
// Concurrency: a Service is safe for concurrent use once constructed.
package servly
