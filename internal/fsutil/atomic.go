// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsutil holds small filesystem helpers shared by the stores.
package fsutil

import (
	"fmt"
	"io"
	"os"

	"github.com/google/renameio/v2"
)

// WriteFileAtomic writes data to path so that readers see either the old or
// the new content, never a partial file. The data is fsynced before rename.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return WriteAtomic(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteAtomic streams content produced by write into path atomically.
func WriteAtomic(path string, perm os.FileMode, write func(io.Writer) error) error {
	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(perm))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	// Cleanup is a no-op once the file has been committed.
	defer func() { _ = pendingFile.Cleanup() }()

	if err := write(pendingFile); err != nil {
		return fmt.Errorf("write pending file: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}
