package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/Rogrei/diagnostik-chat/internal/storage"
	"github.com/Rogrei/diagnostik-chat/internal/utils"
	"github.com/gin-gonic/gin"
)

type AudioHandler struct {
	store  storage.AudioStore
	signer storage.Signer
}

// NewAudioHandler serves stored artifacts. When signer is set the client is
// redirected to a short-lived signed URL instead of streaming through us.
func NewAudioHandler(store storage.AudioStore, signer storage.Signer) *AudioHandler {
	return &AudioHandler{store: store, signer: signer}
}

func (h *AudioHandler) Serve(c *gin.Context) {
	const op = "AudioHandler.Serve"

	name, err := storage.NameFromURL(c.Param("name"))
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid file name", err))
		return
	}

	if h.signer != nil {
		u, err := h.signer.SignedGetURL(c.Request.Context(), name, 15*time.Minute)
		if err != nil {
			writeError(c, utils.E(utils.CodeInternal, op, "failed to sign audio url", err))
			return
		}
		c.Redirect(http.StatusFound, u)
		return
	}

	rc, err := h.store.Open(c.Request.Context(), storage.PublicURL(name))
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			writeError(c, utils.E(utils.CodeNotFound, op, "audio file not found", err))
			return
		}
		writeError(c, utils.E(utils.CodeInternal, op, "failed to open audio file", err))
		return
	}
	defer rc.Close()

	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "audio/webm"
	}
	c.Header("Content-Type", ct)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, rc)
}
