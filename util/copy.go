package util

import (
	"fmt"
	"io"
	"os"
)

// CopyFile copies a single regular file from src to dest.
// The destination is created or truncated if it already exists.
// File permission bits from the source are preserved on the copy.
func CopyFile(src string, dest string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file %q: %w", src, err)
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file %q: %w", src, err)
	}
	if !srcInfo.Mode().IsRegular() {
		return fmt.Errorf("source path %q is not a regular file", src)
	}

	// Create or truncate the destination file with the source file mode.
	// os.O_TRUNC prevents leftover bytes if the previous file was larger.
	destFile, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create destination file %q: %w", dest, err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy file content from %q to %q: %w", src, dest, err)
	}

	return nil
}
