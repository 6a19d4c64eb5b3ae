package storage

import (
	"path"
	"strconv"
)

// ClipsDir is the subdirectory holding original clip payloads.
const ClipsDir = "clips"

// ClipPath returns where the payload of clip id lives. Clips are spread over
// 256 buckets so no directory grows without bound.
func ClipPath(id int64) string {
	bucket := strconv.FormatInt(id%256, 16)
	if len(bucket) == 1 {
		bucket = "0" + bucket
	}
	return path.Join(ClipsDir, bucket, strconv.FormatInt(id, 10))
}
