package blobstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileSystemStore keeps objects as files under a root directory:
//
//	<root>/
//	  objects/<path>        object bytes
//	  meta/<path>.json      content type and etag
type FileSystemStore struct {
	bucket     string
	root       string
	objectsDir string
	metaDir    string
}

var _ Store = (*FileSystemStore)(nil)

type fsMeta struct {
	ContentType string `json:"content_type"`
	ETag        string `json:"etag"`
}

// NewFileSystemStore creates the directory layout under root.
func NewFileSystemStore(bucket, root string) (*FileSystemStore, error) {
	if root == "" {
		return nil, errors.New("filesystem blob store requires a root directory")
	}
	objectsDir := filepath.Join(root, "objects")
	metaDir := filepath.Join(root, "meta")

	for _, dir := range []string{objectsDir, metaDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create blob directory: %w", err)
		}
	}

	return &FileSystemStore{
		bucket:     bucket,
		root:       root,
		objectsDir: objectsDir,
		metaDir:    metaDir,
	}, nil
}

func (s *FileSystemStore) objectFile(p string) string {
	return filepath.Join(s.objectsDir, filepath.FromSlash(p))
}

func (s *FileSystemStore) metaFile(p string) string {
	return filepath.Join(s.metaDir, filepath.FromSlash(p)+".json")
}

// Put writes the object atomically (temp file + rename).
func (s *FileSystemStore) Put(_ context.Context, p string, r io.Reader, size int64, contentType string) (ObjectInfo, error) {
	if err := ValidatePath(p); err != nil {
		return ObjectInfo{}, err
	}

	dest := s.objectFile(p)
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to create object directory: %w", err)
	}

	hash := md5.New()
	written, err := writeFileAtomic(dest, io.TeeReader(r, hash), size)
	if err != nil {
		return ObjectInfo{}, err
	}

	meta := fsMeta{ContentType: contentType, ETag: hex.EncodeToString(hash.Sum(nil))}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return ObjectInfo{}, err
	}
	metaPath := s.metaFile(p)
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o750); err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to create meta directory: %w", err)
	}
	if err := os.WriteFile(metaPath, metaBytes, 0o640); err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to write object metadata: %w", err)
	}

	return ObjectInfo{
		Path:         p,
		Size:         written,
		ContentType:  contentType,
		ETag:         meta.ETag,
		LastModified: time.Now().UTC(),
	}, nil
}

// Get opens the object file.
func (s *FileSystemStore) Get(_ context.Context, p string) (io.ReadCloser, ObjectInfo, error) {
	if err := ValidatePath(p); err != nil {
		return nil, ObjectInfo{}, err
	}

	f, err := os.Open(s.objectFile(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, ObjectInfo{}, fmt.Errorf("failed to open object: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ObjectInfo{}, fmt.Errorf("failed to stat object: %w", err)
	}

	info := ObjectInfo{Path: p, Size: st.Size(), LastModified: st.ModTime().UTC()}
	if b, err := os.ReadFile(s.metaFile(p)); err == nil {
		var meta fsMeta
		if json.Unmarshal(b, &meta) == nil {
			info.ContentType = meta.ContentType
			info.ETag = meta.ETag
		}
	}
	return f, info, nil
}

// Delete removes the object and its metadata. Missing is not an error.
func (s *FileSystemStore) Delete(_ context.Context, p string) error {
	if err := ValidatePath(p); err != nil {
		return err
	}
	for _, f := range []string{s.objectFile(p), s.metaFile(p)} {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete object: %w", err)
		}
	}
	return nil
}

// DeleteByPrefix removes every object whose path starts with prefix.
func (s *FileSystemStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if err := ValidatePath(prefix); err != nil {
		return 0, err
	}

	// a prefix that stops mid-segment is matched from its parent directory
	dir := s.objectFile(prefix)
	if !strings.HasSuffix(prefix, "/") {
		dir = filepath.Dir(dir)
	}

	var paths []string
	err := filepath.WalkDir(dir, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.objectsDir, file)
		if err != nil {
			return err
		}
		p := filepath.ToSlash(rel)
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("listing objects under %s: %w", prefix, err)
	}

	for i, p := range paths {
		if err := s.Delete(ctx, p); err != nil {
			return i, err
		}
	}

	if strings.HasSuffix(prefix, "/") {
		_ = os.RemoveAll(s.objectFile(prefix))
		_ = os.RemoveAll(filepath.Join(s.metaDir, filepath.FromSlash(prefix)))
	}
	return len(paths), nil
}

// Presign is not supported on the filesystem; callers stream via Get.
func (s *FileSystemStore) Presign(context.Context, string, time.Duration) (string, error) {
	return "", ErrPresignUnsupported
}

// Bucket returns the configured bucket name.
func (s *FileSystemStore) Bucket() string { return s.bucket }

// writeFileAtomic copies r into a temp file next to dest and renames it
// into place. size < 0 skips the size check.
func writeFileAtomic(dest string, r io.Reader, size int64) (int64, error) {
	tmpFile, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if size >= 0 && written != size {
		return 0, fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return written, nil
}
