package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com"

// Whisper calls the OpenAI audio transcription endpoint with
// response_format=verbose_json so that segment offsets come back.
type Whisper struct {
	// BaseURL defaults to https://api.openai.com.
	BaseURL  string
	APIKey   string
	Model    string
	Language string

	HTTPClient *http.Client
}

func NewWhisper(apiKey, baseURL, model, language string) *Whisper {
	if model == "" {
		model = "whisper-1"
	}
	return &Whisper{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		Language:   language,
		HTTPClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (w *Whisper) Name() string { return "whisper" }

func (w *Whisper) Close() error { return nil }

type whisperResp struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (w *Whisper) Transcribe(ctx context.Context, audio io.Reader, fileName string) (*Transcription, error) {
	if w.APIKey == "" {
		return nil, errors.New("whisper: OPENAI_API_KEY is not set")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{
		"model":           w.Model,
		"response_format": "verbose_json",
	}
	if w.Language != "" {
		fields["language"] = w.Language
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}

	if fileName == "" {
		fileName = "audio.webm"
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(fileName))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return nil, fmt.Errorf("whisper: read audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL()+"/v1/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("whisper: http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var parsed whisperResp
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("whisper: parse response: %w", err)
	}

	out := &Transcription{
		Text:     parsed.Text,
		Language: parsed.Language,
		Duration: parsed.Duration,
		Segments: make([]Segment, 0, len(parsed.Segments)),
	}
	for _, s := range parsed.Segments {
		out.Segments = append(out.Segments, Segment{ID: s.ID, Start: s.Start, End: s.End, Text: s.Text})
	}
	return out, nil
}

func (w *Whisper) baseURL() string {
	if w.BaseURL == "" {
		return defaultOpenAIBaseURL
	}
	return strings.TrimRight(w.BaseURL, "/")
}

func (w *Whisper) httpClient() *http.Client {
	if w.HTTPClient == nil {
		return http.DefaultClient
	}
	return w.HTTPClient
}
