package stt

import (
	"context"
	"io"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
)

// GoogleSpeech maps Cloud Speech results onto segments: one segment per
// result, bounded by its first and last word offsets.
type GoogleSpeech struct {
	c *speech.Client

	Language     string
	Encoding     speechpb.RecognitionConfig_AudioEncoding
	SampleRateHz int32
}

func NewGoogleSpeech(ctx context.Context, language string, opts ...option.ClientOption) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if language == "" {
		language = "sv-SE"
	}
	// Browser MediaRecorder uploads are webm/opus at 48kHz.
	return &GoogleSpeech{
		c:            c,
		Language:     language,
		Encoding:     speechpb.RecognitionConfig_WEBM_OPUS,
		SampleRateHz: 48000,
	}, nil
}

func (g *GoogleSpeech) Name() string { return "google" }

func (g *GoogleSpeech) Close() error { return g.c.Close() }

func (g *GoogleSpeech) Transcribe(ctx context.Context, audio io.Reader, _ string) (*Transcription, error) {
	content, err := io.ReadAll(audio)
	if err != nil {
		return nil, err
	}

	op, err := g.c.LongRunningRecognize(ctx, &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   g.Encoding,
			SampleRateHertz:            g.SampleRateHz,
			LanguageCode:               g.Language,
			EnableAutomaticPunctuation: true,
			EnableWordTimeOffsets:      true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: content},
		},
	})
	if err != nil {
		return nil, err
	}
	resp, err := op.Wait(ctx)
	if err != nil {
		return nil, err
	}

	return transcriptionFromResults(resp.GetResults(), g.Language), nil
}

func transcriptionFromResults(results []*speechpb.SpeechRecognitionResult, language string) *Transcription {
	out := &Transcription{Language: language}
	var texts []string
	var prevEnd float64

	for _, r := range results {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		text := strings.TrimSpace(alt.GetTranscript())
		resultEnd := r.GetResultEndTime().AsDuration().Seconds()

		start, end := prevEnd, resultEnd
		if words := alt.GetWords(); len(words) > 0 {
			start = words[0].GetStartTime().AsDuration().Seconds()
			end = words[len(words)-1].GetEndTime().AsDuration().Seconds()
		}
		if r.GetLanguageCode() != "" {
			out.Language = r.GetLanguageCode()
		}
		prevEnd = resultEnd

		if text == "" {
			continue
		}
		out.Segments = append(out.Segments, Segment{ID: len(out.Segments), Start: start, End: end, Text: text})
		texts = append(texts, text)
		if end > out.Duration {
			out.Duration = end
		}
	}
	out.Text = strings.Join(texts, " ")
	return out
}
