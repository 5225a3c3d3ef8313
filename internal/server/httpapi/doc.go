// Package httpapi exposes the reference server over HTTP: the REST resource
// reads, the idempotent send procedure, authentication, the realtime
// websocket feed, a health check file and Prometheus metrics.
//
// Every route except the health check and metrics requires the apikey
// header (or query parameter). Chat message routes additionally require a
// bearer access token.
package httpapi
