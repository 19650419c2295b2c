package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fundilink/fundi-backend/internal/http/handlers/common"
	"github.com/fundilink/fundi-backend/internal/storage"
)

type MediaHandler struct {
	photos *storage.PhotoStorage
}

func NewMediaHandler(photos *storage.PhotoStorage) *MediaHandler {
	return &MediaHandler{photos: photos}
}

// Upload handles POST /api/media. Accepts a multipart "file" field and
// returns the stored relative path for embedding in progress entries.
func (h *MediaHandler) Upload(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		common.RespondBadRequest(c, "file field is required")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		common.RespondBadRequest(c, "failed to open upload")
		return
	}
	defer f.Close()

	path, size, err := h.photos.Save(c.Request.Context(), userID, fileHeader.Filename, f)
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"path": path,
		"url":  "/media/" + path,
		"size": size,
	})
}
