package service

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spec-kit/livechat-service/internal/domain"
	apperrors "github.com/spec-kit/livechat-service/pkg/util/errorutil"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

func TestImageUploadDeduplicatesWithinConversation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	owner := f.principal("user-1", domain.RoleUser)
	conv := f.conversation(owner)

	first, err := f.images.Upload(f.ctx, owner, ImageUpload{ConversationID: conv.ID, Filename: "dir/shot.png", Data: pngBytes})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if first.MimeType != "image/png" || first.Filename != "shot.png" || !strings.HasSuffix(first.URL, first.ID) {
		t.Fatalf("unexpected response %+v", first)
	}

	second, err := f.images.Upload(f.ctx, owner, ImageUpload{ConversationID: conv.ID, Filename: "other.png", Data: pngBytes})
	if err != nil {
		t.Fatalf("second Upload: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("identical bytes stored twice: %s vs %s", first.ID, second.ID)
	}
}

func TestImageUploadRejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	owner := f.principal("user-1", domain.RoleUser)
	conv := f.conversation(owner)

	_, err := f.images.Upload(f.ctx, owner, ImageUpload{ConversationID: conv.ID, Data: []byte("plain text, not an image")})
	if !apperrors.HasCode(err, "VALIDATION_FAILED") {
		t.Fatalf("expected validation error, got %v", err)
	}

	stranger := f.principal("user-2", domain.RoleUser)
	if _, err := f.images.Upload(f.ctx, stranger, ImageUpload{ConversationID: conv.ID, Data: pngBytes}); !apperrors.HasCode(err, "NOT_FOUND") {
		t.Fatalf("expected not found for foreign conversation, got %v", err)
	}

	now := f.clock.Now()
	if err := f.store.Users.Ban(f.ctx, owner.ExternalID, "flood", now, now.Add(48*time.Hour)); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if _, err := f.images.Upload(f.ctx, owner, ImageUpload{ConversationID: conv.ID, Data: pngBytes}); !apperrors.HasCode(err, apperrors.CodeUserBanned) {
		t.Fatalf("expected USER_BANNED, got %v", err)
	}

	f.clock.Advance(49 * time.Hour)
	if _, err := f.images.Upload(f.ctx, owner, ImageUpload{ConversationID: conv.ID, Data: pngBytes}); err != nil {
		t.Fatalf("expired ban should allow upload: %v", err)
	}
}

func TestImageGetVisibility(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	owner := f.principal("user-1", domain.RoleUser)
	stranger := f.principal("user-2", domain.RoleUser)
	operator := f.principal("sup-1", domain.RoleSupport)
	conv := f.conversation(owner)

	img, err := f.images.Upload(f.ctx, owner, ImageUpload{ConversationID: conv.ID, Data: pngBytes})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got, err := f.images.Get(f.ctx, operator, img.ID); err != nil || !bytes.Equal(got.Data, pngBytes) {
		t.Fatalf("operator Get: %v", err)
	}
	if _, err := f.images.Get(f.ctx, stranger, img.ID); !apperrors.HasCode(err, "NOT_FOUND") {
		t.Fatalf("expected not found for stranger, got %v", err)
	}
}
