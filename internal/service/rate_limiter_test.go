package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/livechat-service/internal/config"
	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/repository"
)

type failingImageCounter struct {
	repository.MessageRepository
}

func (failingImageCounter) CountImagesSince(context.Context, string, string, time.Time) (int, error) {
	return 0, errors.New("message store unavailable")
}

func seedImageMessages(t *testing.T, f *fixture, conversationID string, sender domain.Principal, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := f.store.Messages.Create(f.ctx, &domain.Message{
			ConversationID: conversationID,
			SenderID:       sender.ExternalID,
			SenderName:     sender.DisplayName,
			SenderRole:     sender.Role,
			Type:           domain.MessageTypeImage,
			CreatedAt:      f.clock.Now(),
		})
		if err != nil {
			t.Fatalf("seed image message: %v", err)
		}
	}
}

func TestCheckUploadAllowsFiveThenWarns(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.principal("u1", domain.RoleUser)

	for i := 0; i < 5; i++ {
		if d := f.limiter.CheckUpload(f.ctx, user, "", 1024); !d.Allowed {
			t.Fatalf("upload %d rejected: %s", i+1, d.Reason)
		}
	}
	d := f.limiter.CheckUpload(f.ctx, user, "", 1024)
	if d.Allowed {
		t.Fatal("sixth upload within a minute should be rejected")
	}
	if d.WarningsSoFar != 1 || d.ShouldBan {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestThirdViolationBans(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.principal("u1", domain.RoleUser)

	for i := 0; i < 5; i++ {
		f.limiter.CheckUpload(f.ctx, user, "", 1024)
	}
	var last UploadDecision
	for i := 0; i < 3; i++ {
		last = f.limiter.CheckUpload(f.ctx, user, "", 1024)
	}
	if !last.ShouldBan || last.WarningsSoFar != 3 || last.BannedUntil == nil {
		t.Fatalf("third violation should ban: %+v", last)
	}
	want := f.clock.Now().Add(48 * time.Hour)
	if diff := last.BannedUntil.Sub(want); diff < -time.Second || diff > time.Second {
		t.Fatalf("bannedUntil %v, want about %v", last.BannedUntil, want)
	}
	stored, err := f.store.Users.GetByExternalID(f.ctx, user.ExternalID)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	if !stored.BanActive(f.clock.Now()) {
		t.Fatal("user should be banned in storage")
	}
}

func TestWarningsResetAfterQuietPeriod(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.principal("u1", domain.RoleUser)

	for i := 0; i < 6; i++ {
		f.limiter.CheckUpload(f.ctx, user, "", 1024)
	}
	f.clock.Advance(2 * time.Hour)
	for i := 0; i < 5; i++ {
		if d := f.limiter.CheckUpload(f.ctx, user, "", 1024); !d.Allowed {
			t.Fatalf("upload after quiet period rejected: %s", d.Reason)
		}
	}
	if d := f.limiter.CheckUpload(f.ctx, user, "", 1024); d.WarningsSoFar != 1 {
		t.Fatalf("stale warnings should reset, got %d", d.WarningsSoFar)
	}
}

func TestOversizedImageIsAViolation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.principal("u1", domain.RoleUser)

	d := f.limiter.CheckUpload(f.ctx, user, "", 6*1024*1024)
	if d.Allowed || d.WarningsSoFar != 1 {
		t.Fatalf("oversized upload should warn: %+v", d)
	}
}

func TestAdminBypassesLimits(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	admin := f.principal("a1", domain.RoleAdmin)

	for i := 0; i < 50; i++ {
		if d := f.limiter.CheckUpload(f.ctx, admin, "", 10*1024*1024); !d.Allowed {
			t.Fatalf("admin upload %d rejected", i+1)
		}
	}
	if f.limiter.WindowCount() != 0 {
		t.Fatal("admins should not hold a window")
	}
}

func TestConcurrentChecksRespectMinuteLimit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.principal("u1", domain.RoleUser)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.limiter.CheckUpload(f.ctx, user, "", 1).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 5 {
		t.Fatalf("allowed %d concurrent uploads, want 5", allowed)
	}
}

func TestPruneIdleRemovesQuietWindows(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.limiter.CheckUpload(f.ctx, f.principal("u1", domain.RoleUser), "", 1)
	f.limiter.CheckUpload(f.ctx, f.principal("u2", domain.RoleUser), "", 1)

	if n := f.limiter.PruneIdle(); n != 0 {
		t.Fatalf("fresh windows pruned: %d", n)
	}
	f.clock.Advance(61 * time.Minute)
	if n := f.limiter.PruneIdle(); n != 2 {
		t.Fatalf("pruned %d windows, want 2", n)
	}
	if f.limiter.WindowCount() != 0 {
		t.Fatal("windows left after prune")
	}
}

func TestSuspiciousImageActivityIsAViolation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.principal("u1", domain.RoleUser)
	conv := f.conversation(user)

	seedImageMessages(t, f, conv.ID, user, 5)
	if d := f.limiter.CheckUpload(f.ctx, user, conv.ID, 1024); !d.Allowed {
		t.Fatalf("five stored images should still pass: %+v", d)
	}

	seedImageMessages(t, f, conv.ID, user, 1)
	d := f.limiter.CheckUpload(f.ctx, user, conv.ID, 1024)
	if d.Allowed || d.WarningsSoFar != 1 || d.ShouldBan {
		t.Fatalf("six stored images should warn once: %+v", d)
	}

	f.clock.Advance(6 * time.Minute)
	if d := f.limiter.CheckUpload(f.ctx, user, conv.ID, 1024); !d.Allowed {
		t.Fatalf("images outside the window should not count: %+v", d)
	}
}

func TestSuspiciousImageCheckFailsOpen(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.principal("u1", domain.RoleUser)
	conv := f.conversation(user)
	seedImageMessages(t, f, conv.ID, user, 10)

	limiter := NewRateLimiter(RateLimiterDependencies{
		Config:      config.DefaultChatConfig(),
		UserRepo:    f.store.Users,
		MessageRepo: failingImageCounter{MessageRepository: f.store.Messages},
		Now:         f.clock.Now,
	})
	if d := limiter.CheckUpload(f.ctx, user, conv.ID, 1024); !d.Allowed {
		t.Fatalf("store failure should not block uploads: %+v", d)
	}
	stored, err := f.store.Users.GetByExternalID(f.ctx, user.ExternalID)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	if stored.ImageUploadWarnings != 0 {
		t.Fatalf("warnings = %d, want 0", stored.ImageUploadWarnings)
	}
}
