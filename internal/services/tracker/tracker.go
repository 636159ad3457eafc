// Package tracker keeps a durable registry of wallet addresses users asked
// the bot to watch. Actual on-chain activity webhooks are an external
// concern; the registry is what completed tracking flows write to.
package tracker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultTrackerDir   = "./wal/tracked"
	trackerSegmentLimit = 1000
	trackerMaxSegments  = 100
	trackedKeyPrefix    = "tracked_"
)

// Entry is one tracked wallet registration.
type Entry struct {
	UserID    string    `json:"user_id"`
	Wallet    string    `json:"wallet"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry is a WAL-backed wallet tracking registry. The latest record per
// (user, wallet) pair wins on replay.
type Registry struct {
	mu     sync.RWMutex
	wal    *gowal.Wal
	logger *zap.Logger
	latest map[string]Entry // key: userID + "/" + wallet
}

// NewRegistry opens the registry under dir, replaying existing segments.
func NewRegistry(logger *zap.Logger, dir string) (*Registry, error) {
	if dir == "" {
		dir = defaultTrackerDir
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "tracked_",
		SegmentThreshold: trackerSegmentLimit,
		MaxSegments:      trackerMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init tracker WAL")
	}

	r := &Registry{wal: wal, logger: logger, latest: make(map[string]Entry)}
	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, trackedKeyPrefix) {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(msg.Value, &entry); err != nil {
			logger.Error("skipping corrupt tracked-wallet record", zap.String("key", msg.Key), zap.Error(err))
			continue
		}
		r.latest[entryKey(entry.UserID, entry.Wallet)] = entry
	}
	return r, nil
}

// Track registers a wallet for the user. Re-tracking an already tracked
// wallet refreshes the timestamp and is not an error.
func (r *Registry) Track(_ context.Context, userID, wallet string) error {
	if !domain.IsValidAddress(wallet) {
		return domain.ErrInvalidAddress
	}
	return r.write(Entry{UserID: userID, Wallet: wallet, Active: true, UpdatedAt: time.Now().UTC()})
}

// Untrack deactivates a tracked wallet.
func (r *Registry) Untrack(_ context.Context, userID, wallet string) error {
	r.mu.RLock()
	_, ok := r.latest[entryKey(userID, wallet)]
	r.mu.RUnlock()
	if !ok {
		return errors.Errorf("wallet %s is not tracked", wallet)
	}
	return r.write(Entry{UserID: userID, Wallet: wallet, Active: false, UpdatedAt: time.Now().UTC()})
}

// TrackedBy returns the user's active tracked wallets.
func (r *Registry) TrackedBy(_ context.Context, userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var wallets []string
	for _, entry := range r.latest {
		if entry.UserID == userID && entry.Active {
			wallets = append(wallets, entry.Wallet)
		}
	}
	return wallets
}

// Close closes the underlying WAL.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wal.Close()
}

func (r *Registry) write(entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal tracked-wallet entry")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	nextIndex := r.wal.CurrentIndex() + 1
	if err := r.wal.Write(nextIndex, trackedKeyPrefix+entryKey(entry.UserID, entry.Wallet), payload); err != nil {
		return errors.Wrap(err, "append tracked-wallet entry")
	}
	r.latest[entryKey(entry.UserID, entry.Wallet)] = entry
	return nil
}

func entryKey(userID, wallet string) string {
	return userID + "/" + wallet
}
