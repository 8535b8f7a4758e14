// Package meow implements transport.Factory on top of whatsmeow. Each
// instance keeps its device credentials in its own sqlite file under the
// sessions directory.
package meow

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.uber.org/zap"

	"github.com/talkincode/wamux/internal/transport"
)

const sessionFile = "session.db"

type session struct {
	db        *sql.DB
	container *sqlstore.Container
}

type Factory struct {
	dir string

	mu       sync.Mutex
	sessions map[string]*session
}

func NewFactory(sessionsDir string) *Factory {
	return &Factory{
		dir:      sessionsDir,
		sessions: make(map[string]*session),
	}
}

func (f *Factory) sessionDir(id string) string {
	return filepath.Join(f.dir, id)
}

// open returns the credential store of id, creating and migrating it on
// first use.
func (f *Factory) open(id string) (*session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		return s, nil
	}
	dir := f.sessionDir(id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.Join(dir, sessionFile))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	db.SetMaxOpenConns(1)
	container := sqlstore.NewWithDB(db, "sqlite3", newLogger("store").Sub(id))
	if err := container.Upgrade(context.Background()); err != nil {
		_ = db.Close()
		zap.L().Error("meow: sqlstore upgrade failed", zap.String("instance", id), zap.Error(err))
		return nil, fmt.Errorf("upgrade session store: %w", err)
	}
	s := &session{db: db, container: container}
	f.sessions[id] = s
	return s, nil
}

// Provision creates the credential store of a new instance.
func (f *Factory) Provision(id string) error {
	_, err := f.open(id)
	return err
}

func (f *Factory) New(id string, emit func(transport.Event)) (transport.Transport, error) {
	s, err := f.open(id)
	if err != nil {
		return nil, err
	}
	device, err := s.container.GetFirstDevice(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	cli := whatsmeow.NewClient(device, newLogger("client").Sub(id))
	cli.EnableAutoReconnect = false
	t := &Transport{id: id, cli: cli, emit: emit}
	cli.AddEventHandler(t.handle)
	return t, nil
}

// Purge closes and removes the credential store of id.
func (f *Factory) Purge(id string) error {
	f.mu.Lock()
	s := f.sessions[id]
	delete(f.sessions, id)
	f.mu.Unlock()
	if s != nil {
		if err := s.db.Close(); err != nil {
			zap.L().Warn("meow: close session store failed", zap.String("instance", id), zap.Error(err))
		}
	}
	if err := os.RemoveAll(f.sessionDir(id)); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}
	return nil
}

// Close releases every open credential store.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var first error
	for id, s := range f.sessions {
		if err := s.db.Close(); err != nil && first == nil {
			first = err
		}
		delete(f.sessions, id)
	}
	return first
}
