package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces path with data via a synced sibling temp file, so
// readers see either the old document or the new one.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	steps := []struct {
		what string
		run  func() error
	}{
		{"write", func() error { _, werr := tmp.Write(data); return werr }},
		{"sync", tmp.Sync},
		{"chmod", func() error { return tmp.Chmod(perm) }},
		{"close", tmp.Close},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return fmt.Errorf("%s temp file: %w", step.what, err)
		}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// ErrCopyMismatch reports that a copied file does not match its source.
var ErrCopyMismatch = errors.New("copy verification failed")

// CopyFileVerified copies src to dst, then re-reads dst from disk and compares
// size and SHA-256 with what was read from src. dst is removed on mismatch.
// The hex digest is returned on success.
func CopyFileVerified(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create destination dir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create destination: %w", err)
	}

	sourceHash := sha256.New()
	copied, copyErr := io.Copy(out, io.TeeReader(in, sourceHash))
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}

	want := hex.EncodeToString(sourceHash.Sum(nil))
	size, got, err := digestFile(dst)
	if err != nil {
		return "", err
	}
	if size != copied || got != want {
		_ = os.Remove(dst)
		return "", fmt.Errorf("%w: %s has %d bytes (%s), source read %d bytes (%s)",
			ErrCopyMismatch, dst, size, got[:12], copied, want[:12])
	}
	return want, nil
}

// FileSHA256 returns the hex SHA-256 digest of the file at path.
func FileSHA256(path string) (string, error) {
	_, digest, err := digestFile(path)
	return digest, err
}

func digestFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("hash %s: %w", path, err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
