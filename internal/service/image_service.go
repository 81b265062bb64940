package service

import (
	"context"
	"encoding/hex"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/spec-kit/livechat-service/internal/api/dto"
	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/repository"
	apperrors "github.com/spec-kit/livechat-service/pkg/util/errorutil"
)

const imageURLPrefix = "/api/images/"

var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
}

// ImageService stores uploaded images. Identical bytes uploaded twice into
// the same conversation resolve to the first stored image.
type ImageService struct {
	images        repository.ImageRepository
	users         repository.UserRepository
	conversations *ConversationService
	logger        *zap.Logger
	maxBytes      int64
	now           func() time.Time
}

// ImageDependencies bundles collaborators.
type ImageDependencies struct {
	ImageRepo           repository.ImageRepository
	UserRepo            repository.UserRepository
	ConversationService *ConversationService
	Logger              *zap.Logger
	MaxBytes            int64
	Now                 func() time.Time
}

// ImageUpload is one uploaded file.
type ImageUpload struct {
	ConversationID string
	Filename       string
	Data           []byte
}

// NewImageService creates the service.
func NewImageService(deps ImageDependencies) *ImageService {
	return &ImageService{
		images:        deps.ImageRepo,
		users:         deps.UserRepo,
		conversations: deps.ConversationService,
		logger:        nopLogger(deps.Logger),
		maxBytes:      deps.MaxBytes,
		now:           clockOrNow(deps.Now),
	}
}

// Upload validates and stores an image for a conversation the principal can
// access. Banned principals cannot upload.
func (s *ImageService) Upload(ctx context.Context, principal domain.Principal, upload ImageUpload) (*dto.ImageResponse, error) {
	if len(upload.Data) == 0 {
		return nil, apperrors.NewValidationError("image file required", nil)
	}
	if s.maxBytes > 0 && int64(len(upload.Data)) > s.maxBytes {
		return nil, apperrors.NewValidationError("image too large", map[string]any{
			"size":      len(upload.Data),
			"max_bytes": s.maxBytes,
		})
	}
	mimeType := http.DetectContentType(upload.Data)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if _, ok := allowedImageTypes[mimeType]; !ok {
		return nil, apperrors.NewValidationError("unsupported image type", map[string]any{"mime_type": mimeType})
	}
	if err := s.ensureNotBanned(ctx, principal); err != nil {
		return nil, err
	}
	conv, err := s.conversations.GetForPrincipal(ctx, principal, upload.ConversationID)
	if err != nil {
		return nil, err
	}

	sum := blake2b.Sum256(upload.Data)
	checksum := hex.EncodeToString(sum[:])
	existing, err := s.images.FindByChecksum(ctx, conv.ID, checksum)
	if err == nil {
		return imageResponse(existing), nil
	}
	if !isNotFound(err) {
		return nil, apperrors.MapError(err)
	}

	filename := strings.TrimSpace(upload.Filename)
	if filename != "" {
		filename = filepath.Base(filename)
	}
	img := &domain.Image{
		ConversationID: conv.ID,
		UploaderID:     principal.ExternalID,
		Filename:       filename,
		MimeType:       mimeType,
		Size:           int64(len(upload.Data)),
		Checksum:       checksum,
		Data:           upload.Data,
		CreatedAt:      s.now(),
	}
	if err := s.images.Create(ctx, img); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.logger.Info("image stored",
		zap.String("image_id", img.ID),
		zap.String("conversation_id", conv.ID),
		zap.Int64("size", img.Size))
	return imageResponse(img), nil
}

// Get loads an image with its bytes. Operators see every image; end users
// only images of their own conversations.
func (s *ImageService) Get(ctx context.Context, principal domain.Principal, id string) (*domain.Image, error) {
	if err := validID(id, "image"); err != nil {
		return nil, err
	}
	img, err := s.images.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "image", map[string]any{"image_id": id})
	}
	if principal.Role.IsOperator() || img.UploaderID == principal.ExternalID {
		return img, nil
	}
	if _, err := s.conversations.GetForPrincipal(ctx, principal, img.ConversationID); err != nil {
		return nil, apperrors.NewNotFound("image", map[string]any{"image_id": id})
	}
	return img, nil
}

func (s *ImageService) ensureNotBanned(ctx context.Context, principal domain.Principal) error {
	if principal.Role == domain.RoleAdmin {
		return nil
	}
	user, err := s.users.GetByExternalID(ctx, principal.ExternalID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return apperrors.MapError(err)
	}
	if !user.BanActive(s.now()) {
		return nil
	}
	details := map[string]any{}
	if user.BannedUntil != nil {
		details[detailBannedUntil] = *user.BannedUntil
	}
	return apperrors.NewStateError(apperrors.CodeUserBanned, "you are temporarily banned from uploading images", details)
}

func imageResponse(img *domain.Image) *dto.ImageResponse {
	return &dto.ImageResponse{
		ID:        img.ID,
		URL:       imageURLPrefix + img.ID,
		Filename:  img.Filename,
		MimeType:  img.MimeType,
		Size:      img.Size,
		CreatedAt: img.CreatedAt,
	}
}
