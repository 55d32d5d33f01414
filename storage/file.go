// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"os"

	"github.com/hashicorp/go-hclog"
)

var _ BlockDev = (*FileStorage)(nil)

// FileStorage is a pre-allocated regular file used as a block device. Its
// unique ID is the (access driver, path) pair; the path doubles as the
// device path and there is no kernel minor.
type FileStorage struct {
	logger hclog.Logger

	driver  string
	devPath string
}

func newFileStorage(logger hclog.Logger, id FileID, children []BlockDev) (*FileStorage, error) {
	if len(children) != 0 {
		return nil, newProgrammerError("file devices take no children, got %d", len(children))
	}
	if id.Path == "" {
		return nil, newProgrammerError("invalid file device id %q", id.String())
	}
	return &FileStorage{
		logger:  logger.Named("storage.file").With("path", id.Path),
		driver:  id.Driver,
		devPath: id.Path,
	}, nil
}

// createFileStorage allocates the backing file at its full size.
func createFileStorage(logger hclog.Logger, id FileID, children []BlockDev, sizeMiB int64) (*FileStorage, error) {
	fs, err := newFileStorage(logger, id, children)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(fs.devPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, newDeviceError("file.create", "could not create %q: %v", fs.devPath, err)
	}
	defer f.Close()
	if err := f.Truncate(sizeMiB * 1024 * 1024); err != nil {
		return nil, newDeviceError("file.create", "could not size %q: %v", fs.devPath, err)
	}
	return fs, nil
}

func (fs *FileStorage) Children() []BlockDev { return nil }
func (fs *FileStorage) DevPath() string      { return fs.devPath }
func (fs *FileStorage) Major() *int          { return nil }
func (fs *FileStorage) Minor() *int          { return nil }

// Assemble checks that the backing file is in place.
func (fs *FileStorage) Assemble(ctx context.Context) error {
	if _, err := os.Stat(fs.devPath); err != nil {
		return newDeviceError("file.assemble", "backing file %q does not exist", fs.devPath)
	}
	return nil
}

// Attach reports whether the backing file exists.
func (fs *FileStorage) Attach(ctx context.Context) (bool, error) {
	_, err := os.Stat(fs.devPath)
	return err == nil, nil
}

// Open is a no-op for file devices.
func (fs *FileStorage) Open(ctx context.Context, force bool) error {
	return nil
}

// Close is a no-op for file devices.
func (fs *FileStorage) Close(ctx context.Context) error {
	return nil
}

// Shutdown is a no-op: the file stays in place across shutdowns.
func (fs *FileStorage) Shutdown(ctx context.Context) error {
	return nil
}

// Remove unlinks the backing file. Removing a file that is already gone
// succeeds.
func (fs *FileStorage) Remove(ctx context.Context) error {
	err := os.Remove(fs.devPath)
	if err != nil && !os.IsNotExist(err) {
		return newDeviceError("file.remove", "can't remove %q: %v", fs.devPath, err)
	}
	return nil
}

// Rename is not supported for file devices.
func (fs *FileStorage) Rename(ctx context.Context, id UniqueID) error {
	return newProgrammerError("can't rename a file device")
}

// SetSyncSpeed is a no-op for file devices.
func (fs *FileStorage) SetSyncSpeed(ctx context.Context, kbps int) error {
	return nil
}

// SyncStatus always reports a healthy, non-mirrored device.
func (fs *FileStorage) SyncStatus(ctx context.Context) (SyncStatus, error) {
	return SyncStatus{}, nil
}

// SetInfo is a no-op: there is no backing store to tag.
func (fs *FileStorage) SetInfo(ctx context.Context, text string) error {
	return nil
}
