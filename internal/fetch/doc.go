// Package fetch implements the cache.Fetcher capability over HTTP. Downloads
// stream straight into the staging path handed over by the coordinator, with
// bounded retries for transport failures and retryable upstream statuses, and
// an optional MD5 computed on the fly as a checksum hint.
package fetch
