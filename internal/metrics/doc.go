/*
Package metrics provides Prometheus instrumentation for the mount.

A Collector owns a private registry and exposes it over HTTP together
with a /health endpoint. All recording methods are nil-safe so
components can hold a *Collector unconditionally; a nil collector
records nothing.
*/
package metrics
