package conn

import (
	"context"
	"fmt"
	"os"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// DefaultBackupPages is the number of pages copied per backup step.
const DefaultBackupPages = 64

// BackupTo streams a consistent copy of the live database to destPath
// using the engine's online backup API. Pages are copied in bounded steps
// with the connection mutex released between steps, so readers and the
// writer are never blocked for the whole backup. It fails with
// ErrDestinationExists if destPath already exists.
func (c *Conn) BackupTo(ctx context.Context, destPath string, pagesPerStep int) error {
	if pagesPerStep <= 0 {
		pagesPerStep = DefaultBackupPages
	}
	if _, err := os.Stat(destPath); err == nil {
		return ErrDestinationExists
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("conn: stat backup destination: %w", err)
	}

	d := &sqlite3.SQLiteDriver{}
	dc, err := d.Open("file:" + destPath)
	if err != nil {
		return fmt.Errorf("conn: open backup destination: %w", err)
	}
	dest := dc.(*sqlite3.SQLiteConn)

	cleanup := func() {
		dest.Close()
		os.Remove(destPath)
		os.Remove(destPath + "-wal")
		os.Remove(destPath + "-shm")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cleanup()
		return ErrClosed
	}
	bk, err := dest.Backup("main", c.sqlite, "main")
	c.mu.Unlock()
	if err != nil {
		cleanup()
		return fmt.Errorf("conn: start backup: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			bk.Finish()
			cleanup()
			return err
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			bk.Finish()
			cleanup()
			return ErrClosed
		}
		done, err := bk.Step(pagesPerStep)
		c.mu.Unlock()

		if err != nil {
			bk.Finish()
			cleanup()
			return fmt.Errorf("conn: backup step: %w", err)
		}
		if done {
			break
		}
	}

	if err := bk.Finish(); err != nil {
		cleanup()
		return fmt.Errorf("conn: finish backup: %w", err)
	}
	if err := dest.Close(); err != nil {
		return fmt.Errorf("conn: close backup destination: %w", err)
	}
	c.log.Info("backup complete", zap.String("from", c.path), zap.String("to", destPath))
	return nil
}

// DeleteDatabase removes the database at path along with its -wal and -shm
// companions, ignoring files that do not exist.
func DeleteDatabase(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("conn: delete %s: %w", p, err)
		}
	}
	return nil
}
