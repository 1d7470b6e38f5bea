package s3

import (
	"strings"
	"time"

	"github.com/permafrost-sh/permafrost/pkg/gateway/objstore"
)

// restoreExpiryLayout is the ambiguous RFC-1123-with-GMT format S3 uses in
// the x-amz-restore header's expiry-date field.
const restoreExpiryLayout = "Mon, 2 Jan 2006 15:04:05 MST"

// parseRestoreHeader decodes the x-amz-restore header. Formats:
//
//	ongoing-request="true"
//	ongoing-request="false", expiry-date="Fri, 21 Dec 2012 00:00:00 GMT"
//
// An empty header means no restore has been requested.
func parseRestoreHeader(header string) (objstore.RestoreState, *time.Time) {
	if header == "" {
		return objstore.RestoreNone, nil
	}

	ongoing := strings.Contains(header, `ongoing-request="true"`)
	if ongoing {
		return objstore.RestoreInProgress, nil
	}

	var expiry *time.Time
	if idx := strings.Index(header, `expiry-date="`); idx >= 0 {
		rest := header[idx+len(`expiry-date="`):]
		if end := strings.Index(rest, `"`); end >= 0 {
			if parsed, err := time.Parse(restoreExpiryLayout, rest[:end]); err == nil {
				expiry = &parsed
			}
		}
	}
	return objstore.RestoreDone, expiry
}
