package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/livechat-service/internal/service"
	apperrors "github.com/spec-kit/livechat-service/pkg/util/errorutil"
)

const imageFormField = "image"

// ImagesHandler accepts multipart uploads and serves stored images.
type ImagesHandler struct {
	images   *service.ImageService
	maxBytes int64
}

// NewImagesHandler constructs handler.
func NewImagesHandler(images *service.ImageService, maxBytes int64) *ImagesHandler {
	return &ImagesHandler{images: images, maxBytes: maxBytes}
}

// Upload POST /api/images.
func (h *ImagesHandler) Upload(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	header, err := c.FormFile(imageFormField)
	if err != nil {
		return apperrors.NewValidationError("image file required", map[string]any{"field": imageFormField})
	}
	if h.maxBytes > 0 && header.Size > h.maxBytes {
		return apperrors.NewValidationError("image too large", map[string]any{
			"size":      header.Size,
			"max_bytes": h.maxBytes,
		})
	}
	file, err := header.Open()
	if err != nil {
		return apperrors.NewValidationError("unreadable image file", nil)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return apperrors.NewValidationError("unreadable image file", nil)
	}

	resp, err := h.images.Upload(c.UserContext(), principal, service.ImageUpload{
		ConversationID: c.FormValue("conversationId"),
		Filename:       header.Filename,
		Data:           data,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": resp})
}

// Get GET /api/images/:id.
func (h *ImagesHandler) Get(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	img, err := h.images.Get(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, img.MimeType)
	c.Set(fiber.HeaderCacheControl, "private, max-age=86400")
	if img.Filename != "" {
		c.Set(fiber.HeaderContentDisposition, "inline; filename="+strconv.Quote(img.Filename))
	}
	return c.Send(img.Data)
}
