package services

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Rogrei/diagnostik-chat/internal/cache"
	"github.com/Rogrei/diagnostik-chat/internal/models"
	"github.com/Rogrei/diagnostik-chat/internal/providers/stt"
	"github.com/Rogrei/diagnostik-chat/internal/timeline"
	"github.com/Rogrei/diagnostik-chat/internal/utils"
)

type importFixture struct {
	db     *fakeDB
	stt    *fakeSTT
	store  *memStore
	locker *memLocker
	queue  *memQueue
	pub    *recordingPublisher
	cache  *memCache
	svc    *importService
	tmp    string
	start  time.Time
	opts   ImportOptions
}

func newImportFixture(t *testing.T, opts ImportOptions, results ...*stt.Transcription) *importFixture {
	t.Helper()
	f := &importFixture{
		db:     newFakeDB(),
		stt:    &fakeSTT{results: results},
		store:  newMemStore(),
		locker: &memLocker{},
		queue:  &memQueue{},
		pub:    &recordingPublisher{},
		cache:  &memCache{},
		tmp:    t.TempDir(),
		start:  time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.db.addInterview(testInterviewID, f.start)

	opts.Settings = timeline.DefaultSettings()
	opts.TempDir = f.tmp
	f.opts = opts

	notify := NewNotifier(f.cache, f.pub, time.Minute, quietLogger())
	svc := NewImportService(fakeInterviewRepo{f.db}, fakeTurnRepo{f.db}, f.stt, f.store, f.locker, f.queue, nil, notify, opts, quietLogger()).(*importService)
	svc.clock = func() time.Time { return f.start.Add(10 * time.Minute) }
	f.svc = svc
	return f
}

func (f *importFixture) upload(t *testing.T, mode timeline.Mode, body string) (*ImportResult, error) {
	t.Helper()
	return f.svc.ImportUpload(context.Background(), UploadInput{
		InterviewID: testInterviewID,
		Mode:        mode,
		FileName:    "chunk-1.webm",
		ContentType: "audio/webm",
		Audio:       strings.NewReader(body),
	})
}

func (f *importFixture) assertTempDirEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.tmp)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("temporary files left behind: %d", len(entries))
	}
}

func segs(texts ...string) *stt.Transcription {
	tr := &stt.Transcription{Language: "swedish"}
	for i, text := range texts {
		tr.Segments = append(tr.Segments, stt.Segment{ID: i, Start: float64(i*2 + 1), End: float64(i*2 + 3), Text: text})
		tr.Text += text
	}
	return tr
}

func TestImportFullRecordingPlacesFromInterviewStart(t *testing.T) {
	f := newImportFixture(t, ImportOptions{}, &stt.Transcription{
		Segments: []stt.Segment{{Start: 0, End: 1, Text: " Hej"}},
	})

	res, err := f.upload(t, timeline.ModeFullRecordingPostHoc, "full-audio")
	if err != nil {
		t.Fatalf("ImportUpload: %v", err)
	}
	if res.Segments != 1 || res.Inserted != 1 {
		t.Errorf("result = %+v", res)
	}
	if !strings.HasPrefix(res.AudioURL, "/uploads/audio/"+testInterviewID+"_") {
		t.Errorf("audio_url = %q", res.AudioURL)
	}

	turns := f.db.turnsFor(testInterviewID)
	if len(turns) != 1 {
		t.Fatalf("stored %d turns, want 1", len(turns))
	}
	got := turns[0]
	if !got.StartedAt.Equal(f.start.Add(2 * time.Second)) {
		t.Errorf("started_at = %v, want T+2s", got.StartedAt)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(f.start.Add(3*time.Second)) {
		t.Errorf("ended_at = %v, want T+3s", got.EndedAt)
	}
	if *got.Text != "Hej" || got.Speaker != timeline.SpeakerUser {
		t.Errorf("turn = %+v", got)
	}
	f.assertTempDirEmpty(t)
}

func TestImportChunkClampsAndSkipsMarkers(t *testing.T) {
	f := newImportFixture(t, ImportOptions{}, &stt.Transcription{
		Segments: []stt.Segment{
			{Start: 1, End: 3, Text: "första"},
			{Start: 3, End: 4, Text: "[sätter en kort paus]"},
			{Start: 5, End: 9, Text: "andra"},
		},
	})

	res, err := f.upload(t, timeline.ModeChunkRealtime, "chunk-audio")
	if err != nil {
		t.Fatalf("ImportUpload: %v", err)
	}
	if res.Segments != 3 || res.Inserted != 2 {
		t.Errorf("result = %+v, want 3 segments and 2 inserted", res)
	}

	turns := f.db.turnsFor(testInterviewID)
	if len(turns) != 2 {
		t.Fatalf("stored %d turns, want 2", len(turns))
	}
	if !turns[0].StartedAt.Equal(f.start) || !turns[0].EndedAt.Equal(f.start.Add(time.Second)) {
		t.Errorf("first turn = %v..%v, want T..T+1s", turns[0].StartedAt, turns[0].EndedAt)
	}
	if !turns[1].StartedAt.Equal(f.start.Add(3*time.Second)) || !turns[1].EndedAt.Equal(f.start.Add(7*time.Second)) {
		t.Errorf("second turn = %v..%v, want T+3s..T+7s", turns[1].StartedAt, turns[1].EndedAt)
	}
	if _, ok := f.store.files[strings.TrimPrefix(res.AudioURL, "/uploads/audio/")]; !ok {
		t.Error("artifact was not persisted")
	}
}

func TestImportChunkTwiceDuplicatesTurns(t *testing.T) {
	f := newImportFixture(t, ImportOptions{}, segs("a", "b"))

	first, err := f.upload(t, timeline.ModeChunkRealtime, "same-audio")
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	second, err := f.upload(t, timeline.ModeChunkRealtime, "same-audio")
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if first.AudioURL != second.AudioURL {
		t.Errorf("same audio resolved to different artifacts: %q, %q", first.AudioURL, second.AudioURL)
	}
	if n := len(f.db.turnsFor(testInterviewID)); n != 4 {
		t.Errorf("stored %d turns, want 4 (duplicates allowed)", n)
	}
}

func TestImportRejectDuplicate(t *testing.T) {
	f := newImportFixture(t, ImportOptions{Duplicate: RejectDuplicate}, segs("a", "b"))

	if _, err := f.upload(t, timeline.ModeChunkRealtime, "same-audio"); err != nil {
		t.Fatalf("first import: %v", err)
	}
	_, err := f.upload(t, timeline.ModeChunkRealtime, "same-audio")
	if !utils.IsCode(err, utils.CodeConflict) {
		t.Fatalf("err = %v, want CONFLICT", err)
	}
	if n := len(f.db.turnsFor(testInterviewID)); n != 2 {
		t.Errorf("stored %d turns, want 2", n)
	}
	if f.stt.calls != 1 {
		t.Errorf("transcription called %d times, want 1", f.stt.calls)
	}

	if _, err := f.upload(t, timeline.ModeChunkRealtime, "other-audio"); err != nil {
		t.Errorf("different audio rejected: %v", err)
	}
	f.assertTempDirEmpty(t)
}

func TestImportUnknownInterview(t *testing.T) {
	f := newImportFixture(t, ImportOptions{}, segs("a"))
	ctx := context.Background()
	in := UploadInput{InterviewID: "00000000-0000-0000-0000-000000000000", Audio: strings.NewReader("x")}

	in.Mode = timeline.ModeFullRecordingPostHoc
	if _, err := f.svc.ImportUpload(ctx, in); !utils.IsCode(err, utils.CodeNotFound) {
		t.Errorf("full: err = %v, want NOT_FOUND", err)
	}
	if f.stt.calls != 0 {
		t.Error("full mode transcribed before checking the interview")
	}

	in.Mode = timeline.ModeChunkRealtime
	in.Audio = strings.NewReader("x")
	_, err := f.svc.ImportUpload(ctx, in)
	if !utils.IsCode(err, utils.CodeInternal) || !errors.Is(err, errForeignKey) {
		t.Errorf("chunk: err = %v, want INTERNAL from the foreign key", err)
	}
}

func TestImportRemovesTempFileOnFailure(t *testing.T) {
	f := newImportFixture(t, ImportOptions{}, segs("a"))
	f.stt.err = errors.New("whisper: 500")

	_, err := f.upload(t, timeline.ModeChunkRealtime, "audio")
	if !utils.IsCode(err, utils.CodeInternal) {
		t.Fatalf("err = %v, want INTERNAL", err)
	}
	f.assertTempDirEmpty(t)
	if len(f.store.files) != 0 {
		t.Error("artifact stored although transcription failed")
	}
}

func TestImportFallbackWithoutSegments(t *testing.T) {
	f := newImportFixture(t, ImportOptions{}, &stt.Transcription{Text: "  hela texten "})

	res, err := f.upload(t, timeline.ModeFullRecordingPostHoc, "audio")
	if err != nil {
		t.Fatalf("ImportUpload: %v", err)
	}
	if res.Segments != 0 || res.Inserted != 1 {
		t.Errorf("result = %+v", res)
	}
	turns := f.db.turnsFor(testInterviewID)
	if len(turns) != 1 || *turns[0].Text != "hela texten" || !turns[0].StartedAt.Equal(f.start) {
		t.Errorf("fallback turn = %+v", turns)
	}
}

func TestImportEmptyTranscriptionInsertsNothing(t *testing.T) {
	f := newImportFixture(t, ImportOptions{}, &stt.Transcription{Text: "[sätter en kort paus]"})

	res, err := f.upload(t, timeline.ModeChunkRealtime, "audio")
	if err != nil {
		t.Fatalf("ImportUpload: %v", err)
	}
	if res.Inserted != 0 || len(f.db.turnsFor(testInterviewID)) != 0 {
		t.Errorf("inserted turns for empty text: %+v", res)
	}
}

func TestRetryTwiceKeepsOnlyLatestSet(t *testing.T) {
	f := newImportFixture(t, ImportOptions{}, segs("a", "b"), segs("c", "d", "e"), segs("f"))
	ctx := context.Background()

	res, err := f.upload(t, timeline.ModeChunkRealtime, "audio")
	if err != nil {
		t.Fatalf("ImportUpload: %v", err)
	}
	other := "/uploads/audio/other.webm"
	keep := "keep"
	f.db.turns = append(f.db.turns, models.Turn{ID: "t-other", InterviewID: testInterviewID, Speaker: "user", Text: &keep, AudioURL: &other, StartedAt: f.start})

	turnID := f.db.turnsFor(testInterviewID)[0].ID
	if turnID == "t-other" {
		turnID = f.db.turnsFor(testInterviewID)[1].ID
	}

	first, err := f.svc.Retry(ctx, turnID)
	if err != nil {
		t.Fatalf("first retry: %v", err)
	}
	if first.Replaced != 2 || first.Inserted != 3 || first.Segments != 3 {
		t.Errorf("first retry = %+v", first)
	}

	var latestID string
	for _, tr := range f.db.turnsFor(testInterviewID) {
		if tr.AudioURL != nil && *tr.AudioURL == res.AudioURL {
			latestID = tr.ID
		}
	}
	second, err := f.svc.Retry(ctx, latestID)
	if err != nil {
		t.Fatalf("second retry: %v", err)
	}
	if second.Replaced != 3 || second.Inserted != 1 {
		t.Errorf("second retry = %+v", second)
	}

	var fromArtifact, fromOther int
	for _, tr := range f.db.turnsFor(testInterviewID) {
		switch *tr.AudioURL {
		case res.AudioURL:
			fromArtifact++
			if *tr.Text != "f" {
				t.Errorf("leftover turn from an earlier transcription: %q", *tr.Text)
			}
		case other:
			fromOther++
		}
	}
	if fromArtifact != 1 || fromOther != 1 {
		t.Errorf("artifact turns = %d, other turns = %d; want 1, 1", fromArtifact, fromOther)
	}
}

func texts(turns []models.Turn) []string {
	var out []string
	for _, t := range turns {
		out = append(out, *t.Text)
	}
	return out
}

func TestRetryFailureKeepsPreviousTurns(t *testing.T) {
	tests := []struct {
		name string
		fail func(f *importFixture)
		want string
	}{
		{"transcription fails", func(f *importFixture) {
			f.stt.err = errors.New("whisper down")
		}, "transcription failed"},
		{"replace fails after one new row", func(f *importFixture) {
			f.db.failInsert = errors.New("boom")
			f.db.failAfter = f.db.inserted + 1
		}, "failed to replace turns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newImportFixture(t, ImportOptions{}, segs("a", "b"), segs("c", "d", "e"))
			if _, err := f.upload(t, timeline.ModeChunkRealtime, "audio"); err != nil {
				t.Fatalf("ImportUpload: %v", err)
			}
			turnID := f.db.turnsFor(testInterviewID)[0].ID

			tt.fail(f)
			_, err := f.svc.Retry(context.Background(), turnID)
			if !utils.IsCode(err, utils.CodeInternal) || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want INTERNAL %q", err, tt.want)
			}

			got := texts(f.db.turnsFor(testInterviewID))
			if len(got) != 2 || got[0] != "a" || got[1] != "b" {
				t.Errorf("turns after failed retry = %v, want [a b]", got)
			}
		})
	}
}

func TestImportChunkPartialFailure(t *testing.T) {
	f := newImportFixture(t, ImportOptions{}, segs("a", "b", "c"))
	f.db.failInsert = errors.New("connection reset")
	f.db.failAfter = 1

	if _, err := f.upload(t, timeline.ModeChunkRealtime, "audio"); !utils.IsCode(err, utils.CodeInternal) {
		t.Fatalf("err = %v, want INTERNAL", err)
	}

	// chunk rows are not inserted in a transaction
	if got := texts(f.db.turnsFor(testInterviewID)); len(got) != 1 || got[0] != "a" {
		t.Errorf("turns = %v, want [a]", got)
	}
	if v := f.cache.version(testInterviewID); v != 1 {
		t.Errorf("timeline generation = %d, want 1 after a failed write", v)
	}
	f.assertTempDirEmpty(t)
}

func TestRetryErrors(t *testing.T) {
	f := newImportFixture(t, ImportOptions{}, segs("a"))
	ctx := context.Background()

	text := "direct"
	missing := "/uploads/audio/gone.webm"
	f.db.turns = append(f.db.turns,
		models.Turn{ID: "no-audio", InterviewID: testInterviewID, Speaker: "ai", Text: &text, StartedAt: f.start},
		models.Turn{ID: "missing-file", InterviewID: testInterviewID, Speaker: "user", Text: &text, AudioURL: &missing, StartedAt: f.start},
	)

	if _, err := f.svc.Retry(ctx, "nope"); !utils.IsCode(err, utils.CodeNotFound) {
		t.Errorf("unknown turn: err = %v, want NOT_FOUND", err)
	}
	if _, err := f.svc.Retry(ctx, "no-audio"); !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Errorf("turn without audio: err = %v, want INVALID_ARGUMENT", err)
	}
	if _, err := f.svc.Retry(ctx, "missing-file"); !utils.IsCode(err, utils.CodeNotFound) {
		t.Errorf("missing file: err = %v, want NOT_FOUND", err)
	}
	if f.stt.calls != 0 {
		t.Errorf("transcription called %d times", f.stt.calls)
	}
}

func TestRetryRejectsOverlappingRun(t *testing.T) {
	f := newImportFixture(t, ImportOptions{}, segs("a"))
	ctx := context.Background()

	res, err := f.upload(t, timeline.ModeChunkRealtime, "audio")
	if err != nil {
		t.Fatalf("ImportUpload: %v", err)
	}
	release, err := f.locker.Acquire(ctx, cache.ArtifactLockKey(testInterviewID, res.AudioURL), time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	turnID := f.db.turnsFor(testInterviewID)[0].ID
	if _, err := f.svc.Retry(ctx, turnID); !utils.IsCode(err, utils.CodeConflict) {
		t.Fatalf("err = %v, want CONFLICT", err)
	}

	release()
	if _, err := f.svc.Retry(ctx, turnID); err != nil {
		t.Errorf("retry after release: %v", err)
	}
}

func TestRetryPolicy(t *testing.T) {
	full := &stt.Transcription{Segments: []stt.Segment{{Start: 10, End: 12, Text: "x"}}}

	tests := []struct {
		name      string
		policy    RetryPolicy
		wantStart time.Duration
	}{
		{"chunk policy always re-imports as chunk", RetryChunk, 8 * time.Second},
		{"origin policy keeps the full-recording placement", RetryOrigin, 12 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newImportFixture(t, ImportOptions{Retry: tt.policy}, full)
			if _, err := f.upload(t, timeline.ModeFullRecordingPostHoc, "audio"); err != nil {
				t.Fatalf("ImportUpload: %v", err)
			}
			turnID := f.db.turnsFor(testInterviewID)[0].ID

			if _, err := f.svc.Retry(context.Background(), turnID); err != nil {
				t.Fatalf("Retry: %v", err)
			}
			turns := f.db.turnsFor(testInterviewID)
			if len(turns) != 1 {
				t.Fatalf("stored %d turns, want 1", len(turns))
			}
			if got := turns[0].StartedAt.Sub(f.start); got != tt.wantStart {
				t.Errorf("started %v after interview start, want %v", got, tt.wantStart)
			}
		})
	}
}

func TestEnqueueThenImportStored(t *testing.T) {
	f := newImportFixture(t, ImportOptions{}, segs("a", "b"))
	ctx := context.Background()

	url, err := f.svc.Enqueue(ctx, UploadInput{
		InterviewID: testInterviewID,
		Mode:        timeline.ModeFullRecordingPostHoc,
		Audio:       strings.NewReader("full"),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(f.queue.jobs) != 1 || f.queue.jobs[0].AudioURL != url {
		t.Fatalf("queued jobs = %+v", f.queue.jobs)
	}
	if f.stt.calls != 0 {
		t.Error("Enqueue transcribed synchronously")
	}
	f.assertTempDirEmpty(t)

	res, err := f.svc.ImportStored(ctx, f.queue.jobs[0])
	if err != nil {
		t.Fatalf("ImportStored: %v", err)
	}
	if res.Inserted != 2 || len(f.db.turnsFor(testInterviewID)) != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestEnqueueWithoutQueue(t *testing.T) {
	f := newImportFixture(t, ImportOptions{}, segs("a"))
	f.svc.queue = nil

	_, err := f.svc.Enqueue(context.Background(), UploadInput{
		InterviewID: testInterviewID,
		Mode:        timeline.ModeFullRecordingPostHoc,
		Audio:       strings.NewReader("full"),
	})
	if !utils.IsCode(err, utils.CodeUnavailable) {
		t.Errorf("err = %v, want UNAVAILABLE", err)
	}
}

func TestArtifactName(t *testing.T) {
	sum := "0123456789abcdef0123456789abcdef"
	if got := artifactName(timeline.ModeChunkRealtime, testInterviewID, "../../etc/chunk 1.webm", sum); got != "0123456789abcdef_chunk_1.webm" {
		t.Errorf("chunk name = %q", got)
	}
	if got := artifactName(timeline.ModeChunkRealtime, testInterviewID, "", sum); got != "0123456789abcdef_chunk.webm" {
		t.Errorf("chunk name without file name = %q", got)
	}
	if got := artifactName(timeline.ModeFullRecordingPostHoc, testInterviewID, "x.webm", sum); got != testInterviewID+"_0123456789abcdef.webm" {
		t.Errorf("full name = %q", got)
	}
}
