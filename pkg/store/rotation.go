package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"go.uber.org/zap"
)

// blockSize is the unit of the current to backup copy.
const blockSize = 512

// rotation implements the current/backup file pair: every write first copies
// current to backup, every load falls back to a valid backup and promotes it.
type rotation struct {
	fs      FS
	current string
	backup  string
	log     *zap.SugaredLogger
}

func readAll(fsys FS, name string) ([]byte, error) {
	r, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// load returns the content of the first valid file. fs.ErrNotExist is returned
// when neither file exists.
func (r *rotation) load(valid func([]byte) error) ([]byte, error) {
	data, curErr := readAll(r.fs, r.current)
	if curErr == nil {
		if curErr = valid(data); curErr == nil {
			return data, nil
		}
	}

	bak, err := readAll(r.fs, r.backup)
	if err != nil {
		if errors.Is(curErr, fs.ErrNotExist) && errors.Is(err, fs.ErrNotExist) {
			return nil, curErr
		}
		return nil, fmt.Errorf("load %s: %w", r.current, curErr)
	}
	if err := valid(bak); err != nil {
		return nil, fmt.Errorf("load %s: backup: %w", r.current, err)
	}

	r.log.Warnw("restored from backup", "file", r.current, "reason", curErr)
	if err := r.promote(); err != nil {
		r.log.Errorw("promote backup", "file", r.backup, "error", err)
	}
	return bak, nil
}

// promote replaces current by the backup and drops the stale backup.
func (r *rotation) promote() error {
	if err := r.fs.Remove(r.current); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return r.fs.Rename(r.backup, r.current)
}

// write saves data as the new current after backing up the old one.
func (r *rotation) write(data []byte) error {
	if err := r.copyBackup(); err != nil {
		return fmt.Errorf("backup %s: %w", r.current, err)
	}
	w, err := r.fs.Create(r.current)
	if err != nil {
		return fmt.Errorf("create %s: %w", r.current, err)
	}
	for off := 0; off < len(data); off += blockSize {
		end := min(off+blockSize, len(data))
		if _, err := w.Write(data[off:end]); err != nil {
			w.Close()
			return fmt.Errorf("write %s: %w", r.current, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", r.current, err)
	}
	return nil
}

func (r *rotation) copyBackup() error {
	src, err := r.fs.Open(r.current)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := r.fs.Create(r.backup)
	if err != nil {
		return err
	}
	if _, err := io.CopyBuffer(dst, src, make([]byte, blockSize)); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
