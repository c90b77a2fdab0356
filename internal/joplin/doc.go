/*
Package joplin implements the HTTP client for the Joplin clipper
service.

The client discovers the service by probing a small range of ports
(the configured one may be taken by another application), verifies the
authorization token, and then exposes typed accessors for folders,
notes, tags, resources and the change-event feed. Paginated resources
are accumulated transparently; callers always receive complete slices.

All methods take a context and honor its cancellation in addition to
the per-request timeout.
*/
package joplin
