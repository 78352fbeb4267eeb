package storage

import (
	"fmt"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"finserv-backend/internal/resource"
	"finserv-backend/internal/store"
)

// Handler serves document upload and download. Metadata lives in the uploads
// collection; file content lives in LocalStorage. The upload id is what
// customers put into an application's documents map.
type Handler struct {
	files store.Collection
	disk  *LocalStorage
}

func NewHandler(files store.Collection, disk *LocalStorage) *Handler {
	return &Handler{files: files, disk: disk}
}

// RegisterRoutes mounts upload/download under r. When ownerOnly is set,
// downloads are restricted to the uploading user.
func (h *Handler) RegisterRoutes(r fiber.Router, ownerOnly bool) {
	if ownerOnly {
		r.Post("/uploads", h.Upload)
	}
	r.Get("/uploads/:id", h.download(ownerOnly))
}

// Upload handles a multipart form with a single "file" part.
func (h *Handler) Upload(c *fiber.Ctx) error {
	actor := resource.ActorFromCtx(c)
	if actor == nil {
		return resource.UnauthenticatedError("Unauthorized: user id required")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return resource.ValidationError([]resource.ErrorDetail{
			{Field: "file", Rule: "required", Message: "a file part is required"},
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	fileID := uuid.New().String()
	path, err := h.disk.Save(c.Context(), actor.ID, fileID, fileHeader.Filename, src)
	if err != nil {
		return fmt.Errorf("save upload: %w", err)
	}

	rec, err := h.files.Insert(c.Context(), store.Record{
		"id":          fileID,
		"user":        actor.ID,
		"name":        fileHeader.Filename,
		"size":        fileHeader.Size,
		"contentType": fileHeader.Header.Get("Content-Type"),
		"path":        path,
	})
	if err != nil {
		return fmt.Errorf("record upload: %w", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "upload created successfully",
		"data":    store.ApplySelect(rec, "-path"),
	})
}

func (h *Handler) download(ownerOnly bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor := resource.ActorFromCtx(c)
		if actor == nil {
			return resource.UnauthenticatedError("Unauthorized: user id required")
		}

		rec, err := h.files.FindByID(c.Context(), c.Params("id"))
		if err != nil {
			return resource.NotFoundError("upload")
		}
		if owner, _ := rec["user"].(string); ownerOnly && owner != actor.ID {
			return resource.NotFoundError("upload")
		}

		path, _ := rec["path"].(string)
		f, err := h.disk.Open(c.Context(), path)
		if err != nil {
			return resource.NotFoundError("upload")
		}
		defer f.Close()

		if ct, _ := rec["contentType"].(string); ct != "" {
			c.Set(fiber.HeaderContentType, ct)
		}
		name, _ := rec["name"].(string)
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))

		data, err := io.ReadAll(f)
		if err != nil {
			return fmt.Errorf("read upload: %w", err)
		}
		return c.Send(data)
	}
}
