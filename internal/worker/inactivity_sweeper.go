package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/livechat-service/internal/config"
	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/observability"
	"github.com/spec-kit/livechat-service/internal/persistence"
	"github.com/spec-kit/livechat-service/internal/repository"
	"github.com/spec-kit/livechat-service/internal/service"
)

const (
	sweepLeaseKey = "sweeper:lease"

	inactivityWarningNotice = "Are you still there? This chat will be closed automatically soon."
	inactivityClosureNotice = "This chat was closed due to inactivity. Send a new message to start another conversation."
)

// LeaseAcquirer hands out a cross-process lock for one sweep.
type LeaseAcquirer interface {
	AcquireLease(ctx context.Context, key string, ttl time.Duration) (*persistence.Lease, error)
}

// SweepStats summarizes one pass.
type SweepStats struct {
	Skipped bool
	Scanned int
	Warned  int
	Cleared int
	Closed  int
	Failed  int
}

// InactivitySweeper warns idle conversations and closes the ones whose owner
// did not answer the warning in time.
type InactivitySweeper struct {
	cfg             config.SweeperConfig
	conversations   repository.ConversationRepository
	messages        repository.MessageRepository
	conversationSvc *service.ConversationService
	messageSvc      *service.MessageService
	notifications   *service.NotificationService
	lease           LeaseAcquirer
	metrics         *observability.Metrics
	logger          *zap.Logger
	now             func() time.Time
	running         atomic.Bool
}

// SweeperDependencies bundles collaborators. Lease may be nil.
type SweeperDependencies struct {
	Config              config.SweeperConfig
	ConversationRepo    repository.ConversationRepository
	MessageRepo         repository.MessageRepository
	ConversationService *service.ConversationService
	MessageService      *service.MessageService
	NotificationService *service.NotificationService
	Lease               LeaseAcquirer
	Metrics             *observability.Metrics
	Logger              *zap.Logger
	Now                 func() time.Time
}

// NewInactivitySweeper creates the sweeper.
func NewInactivitySweeper(deps SweeperDependencies) *InactivitySweeper {
	cfg := deps.Config
	defaults := config.DefaultSweeperConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.InactivityThreshold <= 0 {
		cfg.InactivityThreshold = defaults.InactivityThreshold
	}
	if cfg.WarningGrace <= 0 {
		cfg.WarningGrace = defaults.WarningGrace
	}
	if cfg.OperatorGrace <= 0 {
		cfg.OperatorGrace = defaults.OperatorGrace
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &InactivitySweeper{
		cfg:             cfg,
		conversations:   deps.ConversationRepo,
		messages:        deps.MessageRepo,
		conversationSvc: deps.ConversationService,
		messageSvc:      deps.MessageService,
		notifications:   deps.NotificationService,
		lease:           deps.Lease,
		metrics:         deps.Metrics,
		logger:          logger,
		now:             now,
	}
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (w *InactivitySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	w.logger.Info("inactivity sweeper started",
		zap.Duration("interval", w.cfg.Interval),
		zap.Duration("threshold", w.cfg.InactivityThreshold))

	for {
		stats := w.SweepOnce(ctx)
		if stats.Warned+stats.Closed+stats.Cleared+stats.Failed > 0 {
			w.logger.Info("inactivity sweep finished",
				zap.Int("scanned", stats.Scanned),
				zap.Int("warned", stats.Warned),
				zap.Int("cleared", stats.Cleared),
				zap.Int("closed", stats.Closed),
				zap.Int("failed", stats.Failed))
		}
		select {
		case <-ctx.Done():
			w.logger.Info("inactivity sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce runs a single pass. A pass that overlaps a running one, or that
// cannot take the cross-process lease, is skipped.
func (w *InactivitySweeper) SweepOnce(ctx context.Context) SweepStats {
	if !w.running.CompareAndSwap(false, true) {
		w.metrics.RecordSweepRun("skipped")
		return SweepStats{Skipped: true}
	}
	defer w.running.Store(false)

	if w.cfg.LeaseEnabled && w.lease != nil {
		lease, err := w.lease.AcquireLease(ctx, sweepLeaseKey, w.cfg.LeaseTTL)
		if err != nil {
			w.logger.Warn("acquire sweep lease", zap.Error(err))
			w.metrics.RecordSweepRun("error")
			return SweepStats{Skipped: true}
		}
		if lease == nil {
			w.metrics.RecordSweepRun("locked")
			return SweepStats{Skipped: true}
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				w.logger.Warn("release sweep lease", zap.Error(err))
			}
		}()
	}

	active, err := w.conversations.ListActive(ctx)
	if err != nil {
		w.logger.Error("list active conversations", zap.Error(err))
		w.metrics.RecordSweepRun("error")
		return SweepStats{}
	}

	stats := SweepStats{Scanned: len(active)}
	for i := range active {
		if ctx.Err() != nil {
			break
		}
		action, err := w.sweepConversation(ctx, &active[i])
		if err != nil {
			stats.Failed++
			w.metrics.RecordSweepAction("failed")
			w.logger.Error("sweep conversation", zap.String("conversation_id", active[i].ID), zap.Error(err))
			continue
		}
		switch action {
		case "warned":
			stats.Warned++
		case "cleared":
			stats.Cleared++
		case "closed":
			stats.Closed++
		default:
			continue
		}
		w.metrics.RecordSweepAction(action)
	}
	w.metrics.RecordSweepRun("ok")
	return stats
}

func (w *InactivitySweeper) sweepConversation(ctx context.Context, conv *domain.Conversation) (string, error) {
	now := w.now()
	if warnedAt := conv.Metadata.InactivityWarningSentAt; warnedAt != nil {
		return w.resolveWarning(ctx, conv, *warnedAt, now)
	}

	latest, err := w.messages.Latest(ctx, conv.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if latest.IsFromEndUser() {
		return "", nil
	}
	age := now.Sub(latest.CreatedAt)
	if w.isOperatorMessage(latest) && age < w.cfg.OperatorGrace {
		return "", nil
	}
	if age < w.cfg.InactivityThreshold {
		return "", nil
	}
	if err := w.warn(ctx, conv, now); err != nil {
		return "", err
	}
	return "warned", nil
}

func (w *InactivitySweeper) resolveWarning(ctx context.Context, conv *domain.Conversation, warnedAt, now time.Time) (string, error) {
	if now.Sub(warnedAt) < w.cfg.WarningGrace {
		return "", nil
	}

	replied, err := w.messages.EndUserMessageSince(ctx, conv.ID, warnedAt)
	if err != nil {
		return "", err
	}
	if replied {
		return "cleared", w.conversations.SetInactivityWarning(ctx, conv.ID, nil)
	}

	latest, err := w.messages.Latest(ctx, conv.ID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	if latest != nil && w.isOperatorMessage(latest) && now.Sub(latest.CreatedAt) < w.cfg.OperatorGrace {
		return "cleared", w.conversations.SetInactivityWarning(ctx, conv.ID, nil)
	}

	closed, err := w.conversationSvc.CloseInactive(ctx, conv, inactivityClosureNotice)
	if err != nil || !closed {
		return "", err
	}
	w.logger.Info("conversation closed for inactivity", zap.String("conversation_id", conv.ID))
	return "closed", nil
}

func (w *InactivitySweeper) warn(ctx context.Context, conv *domain.Conversation, now time.Time) error {
	msg, err := w.messageSvc.PostSystem(ctx, conv.ID, inactivityWarningNotice, &domain.MessageMetadata{Kind: domain.MetadataInactivityWarning})
	if err != nil {
		return err
	}
	w.messageSvc.Announce(msg)

	if err := w.conversations.SetInactivityWarning(ctx, conv.ID, &now); err != nil {
		return err
	}

	_, err = w.notifications.Dispatch(ctx, service.NotificationInput{
		RecipientID:    conv.OwnerID,
		ConversationID: conv.ID,
		TicketID:       conv.TicketID,
		Sender:         domain.Principal{ExternalID: domain.SystemSenderID, DisplayName: "System"},
		Preview:        inactivityWarningNotice,
		Type:           domain.NotificationInactivityWarning,
	})
	if err != nil {
		w.logger.Warn("notify inactivity warning", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
	return nil
}

func (w *InactivitySweeper) isOperatorMessage(m *domain.Message) bool {
	return m.Type != domain.MessageTypeSystem && !m.IsFromAI && m.SenderRole.IsOperator()
}
