// Package metrics defines the Prometheus collectors for huddle. They are
// registered on the default registry and served by the server's metrics
// endpoint.
package metrics
