package records

import (
	"strings"
	"time"

	"github.com/rs/xid"
)

// ReferencePrefix starts every locally generated reference
const ReferencePrefix = "RAD-LOCAL-"

// ReferenceGenerator produces a new local reference for a record created at t
type ReferenceGenerator func(t time.Time) string

// NewLocalReference returns RAD-LOCAL-YYYYMMDD-XXXXXXXX. The suffix is the
// process id and counter portion of an xid, so references made in the same
// millisecond by the same process never collide, and references from one
// process roughly sort by creation order.
func NewLocalReference(t time.Time) string {
	id := xid.NewWithTime(t).String()
	return ReferencePrefix + t.UTC().Format("20060102") + "-" + strings.ToUpper(id[12:])
}
