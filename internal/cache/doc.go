// Package cache maps remote image URIs onto a flat directory of
// content-addressed files (<BaseDir>/<sha1(uri)><ext>). The Coordinator owns
// the in-memory registry of entries, collapses concurrent fetches for the same
// URI, publishes downloads through a staging file + rename, and implements the
// maintenance operations (full clear, age sweep, size accounting). Storage and
// Fetcher are injected capabilities so the package never touches the network
// or the OS filesystem directly.
package cache
