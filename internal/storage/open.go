package storage

import (
	"context"
	"errors"
	"strings"

	logx "reviewbot/pkg/logx"
)

// Store is the journal API used by the notifier and the poller.
type Store interface {
	AppendDelivery(ctx context.Context, r DeliveryRecord) error
	AppendCycle(ctx context.Context, r CycleRecord) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

type cycleIDKey struct{}

// WithCycleID tags ctx with the id of the poll cycle being processed so
// deliveries made under it can be correlated in the journal.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey{}, id)
}

func CycleIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(cycleIDKey{}).(string)
	return id
}
