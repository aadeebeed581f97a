// Package server hosts the Fiber HTTP surface in front of the image cache.
// It wires the recover and request-id middlewares, the access log, and the
// GET /image endpoint that resolves a source URI through the coordinator and
// streams the cached file. Maintenance routes under /-/ live in the routes
// subpackage and are registered on the same app.
package server
