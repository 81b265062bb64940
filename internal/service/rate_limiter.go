package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/livechat-service/internal/config"
	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/events"
	"github.com/spec-kit/livechat-service/internal/observability"
	"github.com/spec-kit/livechat-service/internal/repository"
)

const (
	windowShards    = 32
	windowRetention = time.Hour
)

// UploadDecision is the verdict for one image upload.
type UploadDecision struct {
	Allowed       bool
	Reason        string
	ShouldBan     bool
	WarningsSoFar int
	BannedUntil   *time.Time
}

type uploadEntry struct {
	at   time.Time
	size int64
}

// uploadWindow is one principal's trailing hour of accepted uploads. A window
// marked dead has been evicted by the janitor and must not be reused.
type uploadWindow struct {
	mu      sync.Mutex
	entries []uploadEntry
	dead    bool
}

func (w *uploadWindow) prune(now time.Time) {
	cutoff := now.Add(-windowRetention)
	keep := w.entries[:0]
	for _, e := range w.entries {
		if e.at.After(cutoff) {
			keep = append(keep, e)
		}
	}
	w.entries = keep
}

func (w *uploadWindow) totals(now time.Time, span time.Duration) (count int, bytes int64) {
	cutoff := now.Add(-span)
	for _, e := range w.entries {
		if e.at.After(cutoff) {
			count++
			bytes += e.size
		}
	}
	return count, bytes
}

type windowShard struct {
	mu      sync.Mutex
	windows map[string]*uploadWindow
}

// RateLimiter guards image uploads with sliding windows per principal and
// escalates repeated violations to warnings and then a temporary ban.
type RateLimiter struct {
	cfg        config.ChatConfig
	users      repository.UserRepository
	messages   repository.MessageRepository
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
	shards     [windowShards]windowShard
}

// RateLimiterDependencies bundles collaborators.
type RateLimiterDependencies struct {
	Config      config.ChatConfig
	UserRepo    repository.UserRepository
	MessageRepo repository.MessageRepository
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Now         func() time.Time
}

// NewRateLimiter creates the limiter.
func NewRateLimiter(deps RateLimiterDependencies) *RateLimiter {
	rl := &RateLimiter{
		cfg:        deps.Config,
		users:      deps.UserRepo,
		messages:   deps.MessageRepo,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     nopLogger(deps.Logger),
		now:        clockOrNow(deps.Now),
	}
	for i := range rl.shards {
		rl.shards[i].windows = make(map[string]*uploadWindow)
	}
	return rl
}

func (rl *RateLimiter) shardFor(principalID string) *windowShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(principalID))
	return &rl.shards[h.Sum32()%windowShards]
}

// lockWindow returns the principal's window with its lock held.
func (rl *RateLimiter) lockWindow(principalID string) *uploadWindow {
	shard := rl.shardFor(principalID)
	for {
		shard.mu.Lock()
		w, ok := shard.windows[principalID]
		if !ok {
			w = &uploadWindow{}
			shard.windows[principalID] = w
		}
		shard.mu.Unlock()

		w.mu.Lock()
		if !w.dead {
			return w
		}
		w.mu.Unlock()
	}
}

// CheckUpload evaluates an upload of sizeBytes into conversationID. Checks for
// the same principal are serialized. Internal errors fail open.
func (rl *RateLimiter) CheckUpload(ctx context.Context, principal domain.Principal, conversationID string, sizeBytes int64) UploadDecision {
	if principal.Role == domain.RoleAdmin {
		rl.metrics.RecordUploadDecision("bypass")
		return UploadDecision{Allowed: true}
	}

	w := rl.lockWindow(principal.ExternalID)
	defer w.mu.Unlock()

	now := rl.now()
	w.prune(now)

	if sizeBytes > rl.cfg.MaxImageBytes {
		return rl.violation(ctx, principal, now, fmt.Sprintf("image exceeds the %d byte limit", rl.cfg.MaxImageBytes))
	}

	minuteCount, minuteBytes := w.totals(now, time.Minute)
	hourCount, hourBytes := w.totals(now, time.Hour)

	if minuteCount+1 > rl.cfg.MaxImagesPerMinute {
		return rl.violation(ctx, principal, now, fmt.Sprintf("more than %d images per minute", rl.cfg.MaxImagesPerMinute))
	}
	if hourCount+1 > rl.cfg.MaxImagesPerHour {
		return rl.violation(ctx, principal, now, fmt.Sprintf("more than %d images per hour", rl.cfg.MaxImagesPerHour))
	}
	if minuteBytes+sizeBytes > rl.cfg.MaxBytesPerMinute {
		return rl.violation(ctx, principal, now, "image volume per minute exceeded")
	}
	if hourBytes+sizeBytes > rl.cfg.MaxBytesPerHour {
		return rl.violation(ctx, principal, now, "image volume per hour exceeded")
	}

	if conversationID != "" && rl.messages != nil {
		recent, err := rl.messages.CountImagesSince(ctx, conversationID, principal.ExternalID, now.Add(-rl.cfg.SuspiciousWindow))
		if err != nil {
			rl.logger.Warn("count recent images, failing open",
				zap.String("principal_id", principal.ExternalID),
				zap.String("conversation_id", conversationID),
				zap.Error(err))
		} else if recent > rl.cfg.SuspiciousImages {
			return rl.violation(ctx, principal, now, "suspicious image activity")
		}
	}

	w.entries = append(w.entries, uploadEntry{at: now, size: sizeBytes})
	rl.metrics.RecordUploadDecision("allowed")
	return UploadDecision{Allowed: true}
}

func (rl *RateLimiter) violation(ctx context.Context, principal domain.Principal, now time.Time, reason string) UploadDecision {
	user, err := rl.users.GetByExternalID(ctx, principal.ExternalID)
	if err != nil {
		rl.failOpen("load user", principal, err)
		return UploadDecision{Allowed: true}
	}

	warnings := user.ImageUploadWarnings
	if user.LastImageWarningAt == nil || now.Sub(*user.LastImageWarningAt) > rl.cfg.WarningReset {
		warnings = 0
	}
	warnings++
	reason = fmt.Sprintf("%s (warning %d/%d)", reason, warnings, rl.cfg.MaxWarnings)

	if err := rl.users.SaveUploadWarnings(ctx, principal.ExternalID, warnings, &now); err != nil {
		rl.failOpen("save warnings", principal, err)
		return UploadDecision{Allowed: true}
	}

	// The violation that reaches MaxWarnings bans: with the default of 3 the
	// third violation inside the reset window is the last one tolerated.
	if warnings >= rl.cfg.MaxWarnings {
		until := now.Add(rl.cfg.BanDuration)
		if err := rl.users.Ban(ctx, principal.ExternalID, reason, now, until); err != nil {
			rl.failOpen("ban user", principal, err)
			return UploadDecision{Allowed: true}
		}
		rl.metrics.RecordUploadDecision("banned")
		rl.logger.Warn("user banned for image flooding",
			zap.String("principal_id", principal.ExternalID),
			zap.Time("banned_until", until))
		publishEvent(ctx, rl.dispatcher, rl.logger, events.EventUserBanned, principal.ExternalID, systemActor,
			events.UserBannedPayload{Reason: reason, BannedUntil: until})
		return UploadDecision{Reason: reason, ShouldBan: true, WarningsSoFar: warnings, BannedUntil: &until}
	}

	rl.metrics.RecordUploadDecision("rejected")
	publishEvent(ctx, rl.dispatcher, rl.logger, events.EventUserWarned, principal.ExternalID, systemActor,
		events.UserWarnedPayload{Warnings: warnings, Reason: reason})
	return UploadDecision{Reason: reason, WarningsSoFar: warnings}
}

func (rl *RateLimiter) failOpen(step string, principal domain.Principal, err error) {
	rl.metrics.RecordUploadDecision("fail_open")
	rl.logger.Error("rate limiter failing open",
		zap.String("step", step),
		zap.String("principal_id", principal.ExternalID),
		zap.Error(err))
}

// PruneIdle evicts windows with no entries in the last hour and returns how
// many were removed. Windows busy with a check are skipped.
func (rl *RateLimiter) PruneIdle() int {
	now := rl.now()
	removed := 0
	for i := range rl.shards {
		shard := &rl.shards[i]
		shard.mu.Lock()
		for id, w := range shard.windows {
			if !w.mu.TryLock() {
				continue
			}
			w.prune(now)
			if len(w.entries) == 0 {
				w.dead = true
				delete(shard.windows, id)
				removed++
			}
			w.mu.Unlock()
		}
		shard.mu.Unlock()
	}
	return removed
}

// RunJanitor prunes idle windows until ctx is cancelled.
func (rl *RateLimiter) RunJanitor(ctx context.Context) {
	interval := rl.cfg.JanitorInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rl.PruneIdle(); n > 0 {
				rl.logger.Debug("pruned idle upload windows", zap.Int("count", n))
			}
		}
	}
}

// WindowCount reports how many principals currently hold a window.
func (rl *RateLimiter) WindowCount() int {
	total := 0
	for i := range rl.shards {
		rl.shards[i].mu.Lock()
		total += len(rl.shards[i].windows)
		rl.shards[i].mu.Unlock()
	}
	return total
}
