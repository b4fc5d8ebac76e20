// Package requestid generates per-request correlation IDs for the API
// middleware; the ID travels on the X-Request-ID header and the audit log.
package requestid

import "github.com/google/uuid"

// New returns a fresh request correlation ID.
func New() string {
	return uuid.New().String()
}
