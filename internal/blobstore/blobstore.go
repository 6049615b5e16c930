// Package blobstore stores the original bytes of uploaded files.
//
// Objects are addressed by path. Paths are built from system-generated
// segments only:
//
//	{user_id}/{collection_id}/{file_id}/{sanitized filename}
//
// so that deleting a collection is a prefix delete of
// {user_id}/{collection_id}/.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidPath is returned for paths that could escape their prefix.
	ErrInvalidPath = errors.New("invalid object path")

	// ErrPresignUnsupported is returned by stores that cannot hand out URLs.
	ErrPresignUnsupported = errors.New("presigned URLs not supported by this store")

	// ErrPartialDelete is returned when a prefix delete left objects behind.
	ErrPartialDelete = errors.New("some objects were not deleted")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Path         string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// Store is the blob store consumed by the lifecycle coordinator.
type Store interface {
	// Put stores size bytes read from r at path, replacing any existing object.
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) (ObjectInfo, error)

	// Get opens the object at path. The caller closes the reader.
	Get(ctx context.Context, path string) (io.ReadCloser, ObjectInfo, error)

	// Delete removes the object. A missing object is not an error.
	Delete(ctx context.Context, path string) error

	// DeleteByPrefix removes every object under prefix and returns how many.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)

	// Presign returns a time-limited download URL.
	Presign(ctx context.Context, path string, ttl time.Duration) (string, error)

	// Bucket names the bucket or root the store writes to.
	Bucket() string
}

// ObjectPath returns the object path for a file.
func ObjectPath(userID, collectionID, fileID, filename string) (string, error) {
	for _, seg := range []string{userID, collectionID, fileID} {
		if err := validateSegment(seg); err != nil {
			return "", err
		}
	}
	return path.Join(userID, collectionID, fileID, SanitizeFilename(filename)), nil
}

// CollectionPrefix returns the prefix holding every object of a collection.
func CollectionPrefix(userID, collectionID string) (string, error) {
	for _, seg := range []string{userID, collectionID} {
		if err := validateSegment(seg); err != nil {
			return "", err
		}
	}
	return userID + "/" + collectionID + "/", nil
}

// FilePrefix returns the prefix holding every object of one file.
func FilePrefix(userID, collectionID, fileID string) (string, error) {
	prefix, err := CollectionPrefix(userID, collectionID)
	if err != nil {
		return "", err
	}
	if err := validateSegment(fileID); err != nil {
		return "", err
	}
	return prefix + fileID + "/", nil
}

func validateSegment(seg string) error {
	switch {
	case seg == "":
		return fmt.Errorf("%w: empty segment", ErrInvalidPath)
	case seg == "." || seg == "..":
		return fmt.Errorf("%w: relative segment %q", ErrInvalidPath, seg)
	case strings.ContainsAny(seg, "/\\\x00"):
		return fmt.Errorf("%w: segment %q contains a separator", ErrInvalidPath, seg)
	}
	return nil
}

// ValidatePath rejects absolute paths, empty segments and dot segments.
// A trailing slash is allowed for prefixes.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("%w: leading slash", ErrInvalidPath)
	}
	for _, seg := range strings.Split(strings.TrimSuffix(p, "/"), "/") {
		if err := validateSegment(seg); err != nil {
			return err
		}
	}
	return nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

const maxFilenameLen = 200

// SanitizeFilename keeps the base name and replaces anything outside
// [A-Za-z0-9._-] with an underscore.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	if len(name) > maxFilenameLen {
		ext := path.Ext(name)
		if len(ext) > 20 {
			ext = ""
		}
		name = name[:maxFilenameLen-len(ext)] + ext
	}
	return name
}
