// Package broadcast fans an admin message out to every stored account.
package broadcast

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/papertrade/internal/metrics"
	"github.com/vadiminshakov/papertrade/internal/services/conversation"
	"github.com/vadiminshakov/papertrade/internal/storage/accounts"
	"go.uber.org/zap"
)

// Report summarizes one broadcast: per-user delivery failures are counted
// and returned to the admin explicitly, never silently dropped. There is no
// retry; a failed user simply misses this broadcast.
type Report struct {
	Delivered int
	Failed    []string
}

// String formats the report for the admin.
func (r Report) String() string {
	if len(r.Failed) == 0 {
		return fmt.Sprintf("Broadcast delivered to %d users.", r.Delivered)
	}
	return fmt.Sprintf("Broadcast delivered to %d users, failed for %d: %v", r.Delivered, len(r.Failed), r.Failed)
}

// Service delivers broadcasts through the chat transport.
type Service struct {
	store     accounts.Store
	responder conversation.Responder
	logger    *zap.Logger
}

// NewService creates the broadcast service.
func NewService(logger *zap.Logger, store accounts.Store, responder conversation.Responder) (*Service, error) {
	if store == nil {
		return nil, errors.New("account store is required")
	}
	if responder == nil {
		return nil, errors.New("responder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, responder: responder, logger: logger}, nil
}

// Send delivers text to every stored account and reports the outcome.
func (s *Service) Send(ctx context.Context, text string) (Report, error) {
	users, err := s.store.List(ctx)
	if err != nil {
		return Report{}, errors.Wrap(err, "list accounts for broadcast")
	}

	var report Report
	for _, user := range users {
		if err := s.responder.DeliverPrompt(ctx, user.ID, text, nil); err != nil {
			metrics.BroadcastFailures.Inc()
			s.logger.Warn("broadcast delivery failed",
				zap.String("user", user.ID),
				zap.Error(err))
			report.Failed = append(report.Failed, user.ID)
			continue
		}
		report.Delivered++
	}

	s.logger.Info("broadcast finished",
		zap.Int("delivered", report.Delivered),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}
