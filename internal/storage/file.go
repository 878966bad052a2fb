package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "reviewbot/pkg/logx"
)

// fileStore appends JSON Lines records.
//
// Files:
//   - <prefix>.deliveries.jsonl
//   - <prefix>.cycles.jsonl
type fileStore struct {
	log logx.Logger

	mu         sync.Mutex
	deliveries *os.File
	cycles     *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	df, err := openAppend(prefix + ".deliveries.jsonl")
	if err != nil {
		return nil, err
	}
	cf, err := openAppend(prefix + ".cycles.jsonl")
	if err != nil {
		_ = df.Close()
		return nil, err
	}
	log.Debug("file journal opened", logx.String("prefix", prefix))
	return &fileStore{log: log, deliveries: df, cycles: cf}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.deliveries != nil {
		err1 = s.deliveries.Close()
		s.deliveries = nil
	}
	if s.cycles != nil {
		err2 = s.cycles.Close()
		s.cycles = nil
	}
	return errors.Join(err1, err2)
}

func (s *fileStore) AppendDelivery(ctx context.Context, r DeliveryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveries == nil {
		return errors.New("delivery journal closed")
	}
	return json.NewEncoder(s.deliveries).Encode(r)
}

func (s *fileStore) AppendCycle(ctx context.Context, r CycleRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycles == nil {
		return errors.New("cycle journal closed")
	}
	return json.NewEncoder(s.cycles).Encode(r)
}
