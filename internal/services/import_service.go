package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/Rogrei/diagnostik-chat/internal/cache"
	"github.com/Rogrei/diagnostik-chat/internal/events"
	"github.com/Rogrei/diagnostik-chat/internal/models"
	"github.com/Rogrei/diagnostik-chat/internal/providers/stt"
	pgrepo "github.com/Rogrei/diagnostik-chat/internal/repositories/postgres"
	"github.com/Rogrei/diagnostik-chat/internal/storage"
	"github.com/Rogrei/diagnostik-chat/internal/timeline"
	"github.com/Rogrei/diagnostik-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

type DuplicatePolicy string

const (
	AllowDuplicate  DuplicatePolicy = "allow-duplicate"
	RejectDuplicate DuplicatePolicy = "reject-duplicate"
)

// RetryPolicy selects the placement policy used when an artifact is
// transcribed again.
type RetryPolicy string

const (
	RetryChunk  RetryPolicy = "chunk"
	RetryOrigin RetryPolicy = "origin"
)

type ImportOptions struct {
	Settings  timeline.Settings
	Duplicate DuplicatePolicy
	Retry     RetryPolicy
	TempDir   string
	LockTTL   time.Duration
}

type UploadInput struct {
	InterviewID string
	Mode        timeline.Mode
	FileName    string
	ContentType string
	Audio       io.Reader
}

type ImportResult struct {
	AudioURL string `json:"audio_url"`
	// Segments is the raw segment count returned by the transcription service.
	Segments int `json:"segments"`
	Inserted int `json:"inserted"`
}

type RetryResult struct {
	InterviewID string `json:"interview_id"`
	AudioURL    string `json:"audio_url"`
	Segments    int    `json:"segments"`
	Inserted    int    `json:"inserted"`
	Replaced    int64  `json:"replaced"`
}

// TranscribeJob is a stored artifact waiting for asynchronous transcription.
type TranscribeJob struct {
	InterviewID string `json:"interview_id"`
	AudioURL    string `json:"audio_url"`
	Mode        string `json:"mode"`
}

type TranscribeQueue interface {
	Enqueue(ctx context.Context, job TranscribeJob) error
}

// ImportService turns audio artifacts into timeline turns: direct uploads,
// queued artifacts and retries of an artifact already on the timeline.
type ImportService interface {
	ImportUpload(ctx context.Context, in UploadInput) (*ImportResult, error)
	// Enqueue stores the upload and queues it for ImportStored.
	Enqueue(ctx context.Context, in UploadInput) (string, error)
	ImportStored(ctx context.Context, job TranscribeJob) (*ImportResult, error)
	Retry(ctx context.Context, turnID string) (*RetryResult, error)
}

type importService struct {
	interviews pgrepo.InterviewRepository
	turns      pgrepo.TurnRepository
	stt        stt.Provider
	store      storage.AudioStore
	locker     cache.Locker
	queue      TranscribeQueue
	runs       TranscriptionRunService
	notify     *Notifier
	opts       ImportOptions
	cleaner    *timeline.Cleaner
	log        *logrus.Logger
	clock      func() time.Time
}

// NewImportService wires the importer. locker and queue may be nil: retries
// are then not mutually excluded and Enqueue reports UNAVAILABLE.
func NewImportService(
	interviews pgrepo.InterviewRepository,
	turns pgrepo.TurnRepository,
	provider stt.Provider,
	store storage.AudioStore,
	locker cache.Locker,
	queue TranscribeQueue,
	runs TranscriptionRunService,
	notify *Notifier,
	opts ImportOptions,
	log *logrus.Logger,
) ImportService {
	if locker == nil {
		locker = cache.Noop{}
	}
	if log == nil {
		log = logrus.New()
	}
	if runs == nil {
		runs = NewTranscriptionRunService(nil, 0, log)
	}
	if notify == nil {
		notify = NewNotifier(nil, nil, 0, log)
	}
	if opts.Duplicate == "" {
		opts.Duplicate = AllowDuplicate
	}
	if opts.Retry == "" {
		opts.Retry = RetryChunk
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	return &importService{
		interviews: interviews,
		turns:      turns,
		stt:        provider,
		store:      store,
		locker:     locker,
		queue:      queue,
		runs:       runs,
		notify:     notify,
		opts:       opts,
		cleaner:    timeline.NewCleaner(opts.Settings.NonSpeechMarker),
		log:        log,
		clock:      time.Now,
	}
}

func (s *importService) ImportUpload(ctx context.Context, in UploadInput) (*ImportResult, error) {
	const op = "ImportService.ImportUpload"

	base, err := s.validateUpload(ctx, op, in)
	if err != nil {
		return nil, err
	}

	sp, err := storage.Spool(s.opts.TempDir, in.Audio)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to buffer upload", err)
	}
	defer s.removeSpool(sp)

	name := artifactName(in.Mode, in.InterviewID, in.FileName, sp.SHA256)
	audioURL := storage.PublicURL(name)
	if err := s.checkDuplicate(ctx, op, in.InterviewID, audioURL); err != nil {
		return nil, err
	}

	f, err := sp.Open()
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to read upload", err)
	}
	defer f.Close()

	tr, run, err := s.transcribe(ctx, op, in.InterviewID, audioURL, string(in.Mode), f, name)
	if err != nil {
		return nil, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to rewind upload", err)
	}
	if audioURL, err = s.store.Save(ctx, name, in.ContentType, f); err != nil {
		run.Fail(ctx, err)
		return nil, utils.E(utils.CodeInternal, op, "failed to store audio file", err)
	}

	inserted, err := s.insert(ctx, in.Mode, in.InterviewID, audioURL, base, sourceFor(in.Mode), tr)
	if err != nil {
		// chunk rows are inserted one by one; earlier rows may have landed
		s.notify.Invalidate(ctx, in.InterviewID)
		run.Fail(ctx, err)
		return nil, utils.E(utils.CodeInternal, op, "failed to save turns", err)
	}
	run.Done(ctx, tr, inserted)

	s.log.WithFields(logrus.Fields{
		"interview_id": in.InterviewID,
		"audio_url":    audioURL,
		"mode":         in.Mode,
		"segments":     len(tr.Segments),
		"inserted":     inserted,
	}).Info("audio imported")

	s.notify.TimelineChanged(ctx, events.Event{
		Type:        events.TypeTurnsImported,
		InterviewID: in.InterviewID,
		AudioURL:    audioURL,
		Mode:        string(in.Mode),
		Count:       inserted,
	})
	return &ImportResult{AudioURL: audioURL, Segments: len(tr.Segments), Inserted: inserted}, nil
}

func (s *importService) Enqueue(ctx context.Context, in UploadInput) (string, error) {
	const op = "ImportService.Enqueue"

	if s.queue == nil {
		return "", utils.E(utils.CodeUnavailable, op, "asynchronous transcription is not configured", nil)
	}
	if _, err := s.validateUpload(ctx, op, in); err != nil {
		return "", err
	}

	sp, err := storage.Spool(s.opts.TempDir, in.Audio)
	if err != nil {
		return "", utils.E(utils.CodeInternal, op, "failed to buffer upload", err)
	}
	defer s.removeSpool(sp)

	name := artifactName(in.Mode, in.InterviewID, in.FileName, sp.SHA256)
	if err := s.checkDuplicate(ctx, op, in.InterviewID, storage.PublicURL(name)); err != nil {
		return "", err
	}

	f, err := sp.Open()
	if err != nil {
		return "", utils.E(utils.CodeInternal, op, "failed to read upload", err)
	}
	defer f.Close()

	audioURL, err := s.store.Save(ctx, name, in.ContentType, f)
	if err != nil {
		return "", utils.E(utils.CodeInternal, op, "failed to store audio file", err)
	}

	job := TranscribeJob{InterviewID: in.InterviewID, AudioURL: audioURL, Mode: string(in.Mode)}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return "", utils.E(utils.CodeUnavailable, op, "failed to queue transcription", err)
	}

	s.notify.Publish(ctx, events.Event{
		Type:        events.TypeStatus,
		InterviewID: in.InterviewID,
		AudioURL:    audioURL,
		Mode:        string(in.Mode),
		Status:      "queued",
	})
	return audioURL, nil
}

func (s *importService) ImportStored(ctx context.Context, job TranscribeJob) (*ImportResult, error) {
	const op = "ImportService.ImportStored"

	mode, err := timeline.ParseMode(job.Mode)
	if err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "invalid mode", err)
	}
	if job.InterviewID == "" || job.AudioURL == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "interview_id and audio_url are required", nil)
	}

	var base time.Time
	if mode == timeline.ModeFullRecordingPostHoc {
		if base, err = s.interviewStart(ctx, op, job.InterviewID); err != nil {
			return nil, err
		}
	}

	rc, err := s.openArtifact(ctx, op, job.AudioURL)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	name, _ := storage.NameFromURL(job.AudioURL)
	tr, run, err := s.transcribe(ctx, op, job.InterviewID, job.AudioURL, job.Mode, rc, name)
	if err != nil {
		return nil, err
	}

	inserted, err := s.insert(ctx, mode, job.InterviewID, job.AudioURL, base, sourceFor(mode), tr)
	if err != nil {
		// chunk rows are inserted one by one; earlier rows may have landed
		s.notify.Invalidate(ctx, job.InterviewID)
		run.Fail(ctx, err)
		return nil, utils.E(utils.CodeInternal, op, "failed to save turns", err)
	}
	run.Done(ctx, tr, inserted)

	s.notify.TimelineChanged(ctx, events.Event{
		Type:        events.TypeTurnsImported,
		InterviewID: job.InterviewID,
		AudioURL:    job.AudioURL,
		Mode:        job.Mode,
		Count:       inserted,
	})
	return &ImportResult{AudioURL: job.AudioURL, Segments: len(tr.Segments), Inserted: inserted}, nil
}

func (s *importService) Retry(ctx context.Context, turnID string) (*RetryResult, error) {
	const op = "ImportService.Retry"

	if turnID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "turnId is required", nil)
	}
	turn, err := s.turns.GetByID(ctx, turnID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "turn not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load turn", err)
	}
	if turn.AudioURL == nil || *turn.AudioURL == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "turn has no associated audio file", nil)
	}
	audioURL := *turn.AudioURL
	mode := s.retryMode(turn)

	release, err := s.locker.Acquire(ctx, cache.ArtifactLockKey(turn.InterviewID, audioURL), s.opts.LockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLocked) {
			return nil, utils.E(utils.CodeConflict, op, "a retry for this audio file is already running", err)
		}
		return nil, utils.E(utils.CodeUnavailable, op, "failed to lock audio file", err)
	}
	defer release()

	var base time.Time
	if mode == timeline.ModeFullRecordingPostHoc {
		if base, err = s.interviewStart(ctx, op, turn.InterviewID); err != nil {
			return nil, err
		}
	}

	rc, err := s.openArtifact(ctx, op, audioURL)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	name, _ := storage.NameFromURL(audioURL)
	tr, run, err := s.transcribe(ctx, op, turn.InterviewID, audioURL, models.TurnSourceRetry, rc, name)
	if err != nil {
		return nil, err
	}

	anchored, plain := s.buildTurns(mode, turn.InterviewID, audioURL, base, models.TurnSourceRetry, tr)
	replaced, err := s.turns.ReplaceArtifact(ctx, turn.InterviewID, audioURL, anchored, plain)
	if err != nil {
		run.Fail(ctx, err)
		return nil, utils.E(utils.CodeInternal, op, "failed to replace turns", err)
	}
	inserted := len(anchored) + len(plain)
	run.Done(ctx, tr, inserted)

	s.log.WithFields(logrus.Fields{
		"interview_id": turn.InterviewID,
		"turn_id":      turnID,
		"audio_url":    audioURL,
		"mode":         mode,
		"replaced":     replaced,
		"inserted":     inserted,
	}).Info("audio retranscribed")

	s.notify.TimelineChanged(ctx, events.Event{
		Type:        events.TypeTurnsReplaced,
		InterviewID: turn.InterviewID,
		AudioURL:    audioURL,
		Mode:        string(mode),
		Count:       inserted,
	})
	return &RetryResult{
		InterviewID: turn.InterviewID,
		AudioURL:    audioURL,
		Segments:    len(tr.Segments),
		Inserted:    inserted,
		Replaced:    replaced,
	}, nil
}

// validateUpload returns the interview start for full recordings. Chunk
// uploads are not checked against the interviews table; the turns foreign
// key rejects unknown interviews at insert time.
func (s *importService) validateUpload(ctx context.Context, op string, in UploadInput) (time.Time, error) {
	if in.InterviewID == "" {
		return time.Time{}, utils.E(utils.CodeInvalidArgument, op, "interviewId is required", nil)
	}
	if in.Audio == nil {
		return time.Time{}, utils.E(utils.CodeInvalidArgument, op, "audio file is required", nil)
	}
	if _, err := timeline.ParseMode(string(in.Mode)); err != nil {
		return time.Time{}, utils.E(utils.CodeInvalidArgument, op, "invalid mode", err)
	}
	if in.Mode == timeline.ModeFullRecordingPostHoc {
		return s.interviewStart(ctx, op, in.InterviewID)
	}
	return time.Time{}, nil
}

func (s *importService) interviewStart(ctx context.Context, op, interviewID string) (time.Time, error) {
	iv, err := s.interviews.GetByID(ctx, interviewID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return time.Time{}, utils.E(utils.CodeNotFound, op, "interview not found", err)
		}
		return time.Time{}, utils.E(utils.CodeInternal, op, "failed to load interview", err)
	}
	return iv.StartedAt, nil
}

func (s *importService) checkDuplicate(ctx context.Context, op, interviewID, audioURL string) error {
	if s.opts.Duplicate != RejectDuplicate {
		return nil
	}
	n, err := s.turns.CountByArtifact(ctx, interviewID, audioURL)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to check for duplicate import", err)
	}
	if n > 0 {
		return utils.E(utils.CodeConflict, op, "audio file already imported; use retry to replace its turns", nil)
	}
	return nil
}

func (s *importService) openArtifact(ctx context.Context, op, audioURL string) (io.ReadCloser, error) {
	rc, err := s.store.Open(ctx, audioURL)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) || errors.Is(err, storage.ErrInvalidName) {
			return nil, utils.E(utils.CodeNotFound, op, "audio file not found on server", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to open audio file", err)
	}
	return rc, nil
}

func (s *importService) transcribe(ctx context.Context, op, interviewID, audioURL, mode string, audio io.Reader, name string) (*stt.Transcription, *RunHandle, error) {
	run := s.runs.Start(ctx, interviewID, audioURL, mode, s.stt.Name())
	tr, err := s.stt.Transcribe(ctx, audio, name)
	if err != nil {
		run.Fail(ctx, err)
		return nil, nil, utils.E(utils.CodeInternal, op, "transcription failed", err)
	}
	return tr, run, nil
}

func (s *importService) insert(ctx context.Context, mode timeline.Mode, interviewID, audioURL string, base time.Time, source string, tr *stt.Transcription) (int, error) {
	anchored, plain := s.buildTurns(mode, interviewID, audioURL, base, source, tr)
	if len(anchored) > 0 {
		if err := s.turns.InsertAnchored(ctx, interviewID, anchored); err != nil {
			return 0, err
		}
	}
	if len(plain) > 0 {
		if err := s.turns.InsertMany(ctx, plain); err != nil {
			return len(anchored), err
		}
	}
	return len(anchored) + len(plain), nil
}

// buildTurns places the transcription on the timeline. Chunk placements are
// anchored to the interview start inside the database; full recordings
// carry absolute times computed from base.
func (s *importService) buildTurns(mode timeline.Mode, interviewID, audioURL string, base time.Time, source string, tr *stt.Transcription) ([]pgrepo.AnchoredTurn, []models.Turn) {
	now := s.clock().UTC()
	policy := timeline.PolicyFor(mode, s.opts.Settings)

	segs := make([]timeline.Segment, 0, len(tr.Segments))
	for _, seg := range tr.Segments {
		segs = append(segs, timeline.Segment{Text: seg.Text, Start: seg.Start, End: seg.End})
	}

	var (
		anchored []pgrepo.AnchoredTurn
		plain    []models.Turn
	)
	for _, p := range timeline.Place(policy, s.cleaner, segs) {
		idx, rs, re := p.Index, p.RawStart, p.RawEnd
		turn := s.newTurn(interviewID, audioURL, p.Text, now, models.TurnMeta{
			Source:       source,
			Policy:       string(mode),
			SegmentIndex: &idx,
			RawStart:     &rs,
			RawEnd:       &re,
		})
		if mode == timeline.ModeFullRecordingPostHoc {
			start, end := p.At(base)
			turn.StartedAt = start.UTC()
			end = end.UTC()
			turn.EndedAt = &end
			plain = append(plain, turn)
			continue
		}
		anchored = append(anchored, pgrepo.AnchoredTurn{Turn: turn, StartOffset: p.Start, EndOffset: p.End})
	}

	if len(tr.Segments) == 0 {
		if text := s.cleaner.Clean(tr.Text); text != "" {
			turn := s.newTurn(interviewID, audioURL, text, now, models.TurnMeta{Source: source, Policy: string(mode)})
			turn.StartedAt = now
			if mode == timeline.ModeFullRecordingPostHoc {
				turn.StartedAt = base.UTC()
			}
			plain = append(plain, turn)
		}
	}
	return anchored, plain
}

func (s *importService) newTurn(interviewID, audioURL, text string, now time.Time, meta models.TurnMeta) models.Turn {
	raw, _ := json.Marshal(meta)
	return models.Turn{
		ID:          uuid.NewString(),
		InterviewID: interviewID,
		Speaker:     timeline.SpeakerUser,
		Text:        &text,
		AudioURL:    &audioURL,
		CreatedAt:   now,
		Meta:        datatypes.JSON(raw),
	}
}

// retryMode is chunk unless the retry policy follows the policy recorded on
// the turn.
func (s *importService) retryMode(turn *models.Turn) timeline.Mode {
	if s.opts.Retry != RetryOrigin || len(turn.Meta) == 0 {
		return timeline.ModeChunkRealtime
	}
	var meta models.TurnMeta
	if err := json.Unmarshal(turn.Meta, &meta); err != nil {
		return timeline.ModeChunkRealtime
	}
	mode, err := timeline.ParseMode(meta.Policy)
	if err != nil {
		return timeline.ModeChunkRealtime
	}
	return mode
}

func (s *importService) removeSpool(sp *storage.Spooled) {
	if err := sp.Remove(); err != nil {
		s.log.WithError(err).WithField("path", sp.Path).Warn("failed to remove temporary upload")
	}
}

func sourceFor(mode timeline.Mode) string {
	if mode == timeline.ModeFullRecordingPostHoc {
		return models.TurnSourceFull
	}
	return models.TurnSourceChunk
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// artifactName derives a stable file name from the upload's content hash so
// the same audio always resolves to the same URL.
func artifactName(mode timeline.Mode, interviewID, fileName, sum string) string {
	short := sum
	if len(short) > 16 {
		short = short[:16]
	}
	if mode == timeline.ModeFullRecordingPostHoc {
		return interviewID + "_" + short + ".webm"
	}
	base := unsafeNameChars.ReplaceAllString(filepath.Base(fileName), "_")
	if base == "" || base == "." || base == "_" {
		base = "chunk.webm"
	}
	return short + "_" + base
}
