package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Rogrei/diagnostik-chat/internal/services"
	"github.com/Rogrei/diagnostik-chat/internal/timeline"
	"github.com/Rogrei/diagnostik-chat/internal/utils"
	"github.com/gin-gonic/gin"
)

type TranscribeHandler struct {
	imports   services.ImportService
	runs      services.TranscriptionRunService
	maxUpload int64
}

func NewTranscribeHandler(imports services.ImportService, runs services.TranscriptionRunService, maxUploadBytes int64) *TranscribeHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 << 20
	}
	return &TranscribeHandler{imports: imports, runs: runs, maxUpload: maxUploadBytes}
}

type TranscribeResponse struct {
	Success  bool   `json:"success"`
	AudioURL string `json:"audio_url"`
	Segments int    `json:"segments"`
}

type QueuedResponse struct {
	Success  bool   `json:"success"`
	AudioURL string `json:"audio_url"`
	Queued   bool   `json:"queued"`
}

type RetryResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Segments int    `json:"segments"`
}

// Chunk imports a short recording uploaded while the interview is running.
func (h *TranscribeHandler) Chunk(c *gin.Context) {
	h.upload(c, timeline.ModeChunkRealtime, "TranscribeHandler.Chunk")
}

// Full imports the complete recording. With ?async=true the upload is
// stored and queued and the response is 202.
func (h *TranscribeHandler) Full(c *gin.Context) {
	h.upload(c, timeline.ModeFullRecordingPostHoc, "TranscribeHandler.Full")
}

func (h *TranscribeHandler) upload(c *gin.Context, mode timeline.Mode, op string) {
	interviewID := c.Query("interviewId")
	if interviewID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "interviewId query parameter is required", nil))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, utils.E(utils.CodeInvalidArgument, op, "file too large (max "+strconv.FormatInt(h.maxUpload>>20, 10)+"MB)", err))
			return
		}
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "missing multipart field 'file'", err))
		return
	}

	file, err := fh.Open()
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, op, "failed to open upload", err))
		return
	}
	defer file.Close()

	in := services.UploadInput{
		InterviewID: interviewID,
		Mode:        mode,
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Audio:       file,
	}

	if mode == timeline.ModeFullRecordingPostHoc && c.Query("async") == "true" {
		audioURL, err := h.imports.Enqueue(c.Request.Context(), in)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, QueuedResponse{Success: true, AudioURL: audioURL, Queued: true})
		return
	}

	res, err := h.imports.ImportUpload(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, TranscribeResponse{Success: true, AudioURL: res.AudioURL, Segments: res.Segments})
}

func (h *TranscribeHandler) Retry(c *gin.Context) {
	res, err := h.imports.Retry(c.Request.Context(), c.Param("turnId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, RetryResponse{
		Success:  true,
		Message:  "Transcription updated (" + strconv.Itoa(res.Inserted) + " turns)",
		Segments: res.Segments,
	})
}

func (h *TranscribeHandler) Runs(c *gin.Context) {
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	rows, err := h.runs.ListByInterview(c.Request.Context(), c.Param("interviewId"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}
