package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Rogrei/diagnostik-chat/internal/cache"
	"github.com/Rogrei/diagnostik-chat/internal/events"
	"github.com/Rogrei/diagnostik-chat/internal/models"
	"github.com/Rogrei/diagnostik-chat/internal/providers/stt"
	pgrepo "github.com/Rogrei/diagnostik-chat/internal/repositories/postgres"
	"github.com/Rogrei/diagnostik-chat/internal/storage"
	"github.com/Rogrei/diagnostik-chat/internal/utils"

	"github.com/sirupsen/logrus"
)

var errForeignKey = errors.New("insert or update on table \"turns\" violates foreign key constraint")

type fakeDB struct {
	mu         sync.Mutex
	interviews map[string]*models.Interview
	turns      []models.Turn
	failInsert error
	// failAfter lets that many rows through before failInsert applies.
	failAfter int
	inserted  int
}

func newFakeDB() *fakeDB {
	return &fakeDB{interviews: map[string]*models.Interview{}}
}

func (db *fakeDB) addInterview(id string, startedAt time.Time) *models.Interview {
	db.mu.Lock()
	defer db.mu.Unlock()
	iv := &models.Interview{ID: id, SessionID: "sess_" + id[:8], StartedAt: startedAt, Status: models.InterviewStatusActive}
	db.interviews[id] = iv
	return iv
}

func (db *fakeDB) turnsFor(interviewID string) []models.Turn {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.Turn
	for _, t := range db.turns {
		if t.InterviewID == interviewID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type fakeInterviewRepo struct{ db *fakeDB }

func (r fakeInterviewRepo) Create(_ context.Context, i *models.Interview) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *i
	r.db.interviews[i.ID] = &cp
	return nil
}

func (r fakeInterviewRepo) GetByID(_ context.Context, id string) (*models.Interview, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	iv, ok := r.db.interviews[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	cp := *iv
	return &cp, nil
}

func (r fakeInterviewRepo) GetBySessionID(_ context.Context, sessionID string) (*models.Interview, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, iv := range r.db.interviews {
		if iv.SessionID == sessionID {
			cp := *iv
			return &cp, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (r fakeInterviewRepo) List(context.Context) ([]models.InterviewSummary, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.InterviewSummary
	for _, iv := range r.db.interviews {
		out = append(out, models.InterviewSummary{Interview: *iv})
	}
	return out, nil
}

func (r fakeInterviewRepo) EndByID(_ context.Context, id string, endedAt time.Time) (*models.Interview, error) {
	return r.end(func(iv *models.Interview) bool { return iv.ID == id }, endedAt)
}

func (r fakeInterviewRepo) EndBySessionID(_ context.Context, sessionID string, endedAt time.Time) (*models.Interview, error) {
	return r.end(func(iv *models.Interview) bool { return iv.SessionID == sessionID }, endedAt)
}

func (r fakeInterviewRepo) end(match func(*models.Interview) bool, endedAt time.Time) (*models.Interview, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, iv := range r.db.interviews {
		if match(iv) && iv.Status != models.InterviewStatusEnded {
			iv.Status = models.InterviewStatusEnded
			iv.EndedAt = &endedAt
			cp := *iv
			return &cp, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (r fakeInterviewRepo) Now(context.Context) (time.Time, error) { return time.Now(), nil }

// fakeTurnRepo resolves anchored offsets against the stored interview start
// the way the anchored INSERT does.
type fakeTurnRepo struct{ db *fakeDB }

func (r fakeTurnRepo) Insert(_ context.Context, t *models.Turn) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.insertErr(); err != nil {
		return err
	}
	if _, ok := r.db.interviews[t.InterviewID]; !ok {
		return errForeignKey
	}
	r.db.turns = append(r.db.turns, *t)
	r.db.inserted++
	return nil
}

func (r fakeTurnRepo) InsertMany(_ context.Context, turns []models.Turn) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.insertPlainLocked(turns)
}

// InsertAnchored writes row by row without a transaction, like the anchored
// INSERT loop: rows before a failure stay.
func (r fakeTurnRepo) InsertAnchored(_ context.Context, _ string, rows []pgrepo.AnchoredTurn) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.insertAnchoredLocked(rows)
}

func (db *fakeDB) insertErr() error {
	if db.failInsert != nil && db.inserted >= db.failAfter {
		return db.failInsert
	}
	return nil
}

func (r fakeTurnRepo) insertAnchoredLocked(rows []pgrepo.AnchoredTurn) error {
	for _, a := range rows {
		if err := r.db.insertErr(); err != nil {
			return err
		}
		iv, ok := r.db.interviews[a.Turn.InterviewID]
		if !ok {
			return errForeignKey
		}
		t := a.Turn
		t.StartedAt = iv.StartedAt.Add(a.StartOffset)
		end := iv.StartedAt.Add(a.EndOffset)
		t.EndedAt = &end
		r.db.turns = append(r.db.turns, t)
		r.db.inserted++
	}
	return nil
}

// insertPlainLocked is all-or-nothing, like the batch insert transaction.
func (r fakeTurnRepo) insertPlainLocked(turns []models.Turn) error {
	if err := r.db.insertErr(); err != nil {
		return err
	}
	for _, t := range turns {
		if _, ok := r.db.interviews[t.InterviewID]; !ok {
			return errForeignKey
		}
	}
	r.db.turns = append(r.db.turns, turns...)
	r.db.inserted += len(turns)
	return nil
}

func (r fakeTurnRepo) ReplaceArtifact(_ context.Context, interviewID, audioURL string, anchored []pgrepo.AnchoredTurn, plain []models.Turn) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	snapshot := append([]models.Turn(nil), r.db.turns...)

	var kept []models.Turn
	var deleted int64
	for _, t := range r.db.turns {
		if t.InterviewID == interviewID && t.AudioURL != nil && *t.AudioURL == audioURL {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	r.db.turns = kept
	err := r.insertAnchoredLocked(anchored)
	if err == nil && len(plain) > 0 {
		err = r.insertPlainLocked(plain)
	}
	if err != nil {
		r.db.turns = snapshot
		return 0, err
	}
	return deleted, nil
}

func (r fakeTurnRepo) GetByID(_ context.Context, id string) (*models.Turn, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, t := range r.db.turns {
		if t.ID == id {
			cp := t
			return &cp, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (r fakeTurnRepo) ListByInterview(_ context.Context, interviewID string) ([]models.Turn, error) {
	return r.db.turnsFor(interviewID), nil
}

func (r fakeTurnRepo) CountBySpeaker(_ context.Context, interviewID, speaker string) (int64, error) {
	var n int64
	for _, t := range r.db.turnsFor(interviewID) {
		if t.Speaker == speaker {
			n++
		}
	}
	return n, nil
}

func (r fakeTurnRepo) CountByArtifact(_ context.Context, interviewID, audioURL string) (int64, error) {
	var n int64
	for _, t := range r.db.turnsFor(interviewID) {
		if t.AudioURL != nil && *t.AudioURL == audioURL {
			n++
		}
	}
	return n, nil
}

// fakeSTT returns the queued transcriptions in order, repeating the last.
type fakeSTT struct {
	mu      sync.Mutex
	results []*stt.Transcription
	err     error
	calls   int
	gotName string
}

func (f *fakeSTT) Name() string { return "fake" }
func (f *fakeSTT) Close() error { return nil }

func (f *fakeSTT) Transcribe(_ context.Context, audio io.Reader, fileName string) (*stt.Transcription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := io.Copy(io.Discard, audio); err != nil {
		return nil, err
	}
	f.gotName = fileName
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls - 1
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i], nil
}

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemStore() *memStore { return &memStore{files: map[string][]byte{}} }

func (s *memStore) Save(_ context.Context, name, _ string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = b
	return storage.PublicURL(name), nil
}

func (s *memStore) Open(_ context.Context, publicURL string) (io.ReadCloser, error) {
	name, err := storage.NameFromURL(publicURL)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[name]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, cache.ErrLocked
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

// memCache keeps JSON like the Redis cache so any destination type works.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *memCache) SetJSON(_ context.Context, key string, val any, _ time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[key] = b
	return nil
}

func (c *memCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *memCache) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	var n int64
	if b, ok := c.data[key]; ok {
		if err := json.Unmarshal(b, &n); err != nil {
			return 0, err
		}
	}
	n++
	c.data[key] = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

func (c *memCache) version(interviewID string) int64 {
	var n int64
	_, _ = c.GetJSON(context.Background(), cache.TurnsVersionKey(interviewID), &n)
	return n
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type memQueue struct{ jobs []TranscribeJob }

func (q *memQueue) Enqueue(_ context.Context, job TranscribeJob) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
