// Package observability provides the logger and Prometheus metrics for
// extension points and plugin lifecycles.
package observability
