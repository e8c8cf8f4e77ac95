// Package highlight runs the full highlight pipeline for one source video:
// compress, upload and analyze, then extract one clip per highlight range.
package highlight

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KeyTimeFormat is the timestamp layout embedded in job keys.
const KeyTimeFormat = "2006-01-02-15-04-05"

const maxUserIDLen = 64

// JobContext identifies one pipeline run. It is fixed before compression
// starts and never changes afterwards.
type JobContext struct {
	ID         string
	UserID     string
	Timestamp  time.Time
	Key        string // "{UserID}-{Timestamp}"; temp file name, blob key and log key
	SourcePath string
}

// NewJobContext captures now once and derives the job key from it.
func NewJobContext(userID, sourcePath string, now time.Time) (JobContext, error) {
	return newJobContext(uuid.NewString(), userID, sourcePath, now)
}

func newJobContext(id, userID, sourcePath string, ts time.Time) (JobContext, error) {
	user := SanitizeUserID(userID)
	if user == "" {
		return JobContext{}, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(sourcePath) == "" {
		return JobContext{}, fmt.Errorf("source path is required")
	}
	ts = ts.Truncate(time.Second)
	return JobContext{
		ID:         id,
		UserID:     user,
		Timestamp:  ts,
		Key:        user + "-" + ts.Format(KeyTimeFormat),
		SourcePath: sourcePath,
	}, nil
}

// ArtifactName is the temporary compressed file name.
func (j JobContext) ArtifactName() string {
	return j.Key + ".mp4"
}

// SanitizeUserID keeps letters, digits, '_' and '.', replacing anything else
// with '_', so the key is safe as a file name and object key.
func SanitizeUserID(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if strings.Trim(out, "._") == "" {
		return ""
	}
	if len(out) > maxUserIDLen {
		out = out[:maxUserIDLen]
	}
	return out
}
