package media

import (
	"strings"
)

// NormalizeStoragePath extracts the bare object path from a stored media
// path. Legacy rows stored full URLs; newer rows store only the path after
// the bucket segment. Both forms resolve to the same object path.
func NormalizeStoragePath(mediaPath, bucket string) string {
	if !strings.HasPrefix(mediaPath, "http") {
		return mediaPath
	}

	marker := "/" + bucket + "/"
	if idx := strings.Index(mediaPath, marker); idx >= 0 {
		return mediaPath[idx+len(marker):]
	}
	return mediaPath
}
