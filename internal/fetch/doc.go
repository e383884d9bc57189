// Package fetch issues the single HTTP GET behind a download attempt.
//
// A non-zero offset is sent as an open-ended byte range. The response's
// Content-Length is the number of remaining bytes, so the total size of the
// resource is offset plus remaining. A server that answers a ranged request
// with 200 OK has ignored the range; the returned Response then reports an
// offset of zero and the caller must start over.
package fetch
