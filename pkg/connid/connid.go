// Package connid generates identifiers for individual connection attempts.
// The IDs appear in logs and on the outbound X-Request-ID header so one
// attempt can be correlated across client and server.
package connid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New generates a connection attempt ID with format: timestamp-uuidprefix
// Example: 1737039600123-a2b3c4d5
func New() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
