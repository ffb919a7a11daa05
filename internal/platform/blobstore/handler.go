package blobstore

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Content-Disposition types used when serving blobs.
const (
	DispositionInline     = "inline"
	DispositionAttachment = "attachment"
)

// Handler serves stored blobs over HTTP.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/files/:id", h.handleGet)
}

func (h *Handler) handleGet(c echo.Context) error {
	rc, meta, err := h.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return Stream(c, rc, meta, DispositionInline)
}

// Stream writes rc to the response with the blob's content type and the given
// disposition, then closes rc. A read error after the headers were sent is
// returned to the caller; the response is already committed at that point.
func Stream(c echo.Context, rc io.ReadCloser, meta Metadata, disposition string) error {
	defer rc.Close()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`%s; filename="%s"`, disposition, quoteFileName(meta.FileName)))
	return c.Stream(http.StatusOK, contentType, rc)
}

func quoteFileName(name string) string {
	return strings.NewReplacer(`"`, `'`, "\r", "", "\n", "").Replace(name)
}
