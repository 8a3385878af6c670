// Package storage provides durable blob backends for finished recording
// files. Backends satisfy BlobStore; callers never see backend types.
package storage

import (
	"context"
	"path"
	"strings"
	"time"
)

// BlobStore is the durable object storage capability used by the recording
// lifecycle. Upload must remove the local scratch file only after the remote
// write is acknowledged; on failure the scratch file stays intact so the
// caller can retry. Delete is idempotent: removing a missing object is not
// an error.
type BlobStore interface {
	Upload(ctx context.Context, localPath, objectName string) (url string, size int64, err error)
	SignedDownloadURL(ctx context.Context, objectName string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, objectName string) error
}

// contentTypes maps recording file extensions to MIME types.
var contentTypes = map[string]string{
	".webm": "video/webm",
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".ogg":  "video/ogg",
	".m4a":  "audio/mp4",
	".opus": "audio/opus",
	".wav":  "audio/wav",
}

// ContentTypeForFilename returns the MIME type for a recording filename extension.
func ContentTypeForFilename(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// RecordingObjectName returns the object key: recordings/{room_id}/{recording_id}{ext}.
func RecordingObjectName(roomID, recordingID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" {
		ext = ".webm"
	}
	return path.Join("recordings", roomID, recordingID+ext)
}
