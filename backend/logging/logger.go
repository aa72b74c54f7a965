package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"onvifsimple/gover/backend/config"
)

var debugEnabled atomic.Bool

// Manager routes the standard logger to stderr, plus a dated file under
// LogDir when one is configured. Stdout is reserved for the SOAP response.
type Manager struct {
	mu       sync.Mutex
	file     *os.File
	filePath string
	console  io.Writer
}

func New(cfg config.Config) (*Manager, error) {
	manager := &Manager{console: os.Stderr}
	if err := manager.Update(cfg); err != nil {
		return nil, err
	}
	return manager, nil
}

func (m *Manager) Update(cfg config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	debugEnabled.Store(cfg.Debug)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	logDir := strings.TrimSpace(cfg.LogDir)
	if logDir == "" {
		m.closeFileLocked()
		log.SetOutput(m.console)
		return nil
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.SetOutput(m.console)
		return err
	}
	targetPath := filepath.Join(logDir, "onvif-"+time.Now().Format("20060102")+".log")
	if m.file != nil && m.filePath == targetPath {
		log.SetOutput(io.MultiWriter(m.console, m.file))
		return nil
	}
	m.closeFileLocked()
	file, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.SetOutput(m.console)
		return err
	}
	m.file = file
	m.filePath = targetPath
	log.SetOutput(io.MultiWriter(m.console, file))
	Debugf("[logger] file logging enabled: %s", targetPath)
	return nil
}

func (m *Manager) closeFileLocked() {
	if m.file != nil {
		_ = m.file.Close()
	}
	m.file = nil
	m.filePath = ""
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.SetOutput(m.console)
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	m.filePath = ""
	return err
}

// Debugf logs only when the config enables debug output.
func Debugf(format string, args ...any) {
	if debugEnabled.Load() {
		log.Printf(format, args...)
	}
}
