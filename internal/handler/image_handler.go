package handler

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/presensia/presensia-api/pkg/errors"
	"github.com/presensia/presensia-api/pkg/response"
)

type imageOpener interface {
	Open(filename string) (*os.File, error)
}

// ImageHandler serves rendered QR PNG artifacts.
type ImageHandler struct {
	images imageOpener
}

// NewImageHandler creates a new handler.
func NewImageHandler(images imageOpener) *ImageHandler {
	return &ImageHandler{images: images}
}

// Serve streams a stored QR image. Images are short-lived artifacts; a
// missing file means the token was cleaned up.
func (h *ImageHandler) Serve(c *gin.Context) {
	name := c.Param("name")
	if name == "" || !strings.HasSuffix(name, ".png") {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid image name"))
		return
	}

	file, err := h.images.Open(name)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "QR image not found"))
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "QR image not found"))
		return
	}

	c.Header("Content-Type", "image/png")
	http.ServeContent(c.Writer, c.Request, name, info.ModTime(), file)
}
