package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// busyTimeoutMS is the SQLite busy timeout for the device store.
const busyTimeoutMS = 10000

// deviceStore owns the SQLite database holding the linked-device keys.
type deviceStore struct {
	db        *sql.DB
	container *sqlstore.Container
}

// openDeviceStore opens (creating if needed) the device database at path and
// applies the whatsmeow schema. A single connection serialises writes.
func openDeviceStore(ctx context.Context, path string, log waLog.Logger) (*deviceStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("whatsapp: create directory %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	container := sqlstore.NewWithDB(db, "sqlite", log)
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("whatsapp: upgrade device store: %w", err)
	}
	return &deviceStore{db: db, container: container}, nil
}

// device returns the stored device, or a fresh unpaired one.
func (s *deviceStore) device(ctx context.Context) (*store.Device, error) {
	dev, err := s.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: load device: %w", err)
	}
	return dev, nil
}

func (s *deviceStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
