package songs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/cantiolabs/cantio/backend/internal/lyrics"
)

type fakeObjectStore struct {
	objects     map[string][]byte
	putCalls    int
	deleteCalls int
	failPut     error
	failDelete  error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (f *fakeObjectStore) Put(_ context.Context, key string, upload FileUpload) (string, error) {
	f.putCalls++
	if f.failPut != nil {
		return "", f.failPut
	}
	data, err := io.ReadAll(upload.Content)
	if err != nil {
		return "", err
	}
	f.objects[key] = data
	return key, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, ref string) error {
	f.deleteCalls++
	if f.failDelete != nil {
		return f.failDelete
	}
	delete(f.objects, ref)
	return nil
}

func (f *fakeObjectStore) Exists(_ context.Context, ref string) (bool, error) {
	_, ok := f.objects[ref]
	return ok, nil
}

func (f *fakeObjectStore) SignedURL(_ context.Context, ref string, _ time.Duration) (string, error) {
	if _, ok := f.objects[ref]; !ok {
		return "", errors.New("fake store: unknown ref")
	}
	return "https://signed.example/" + ref, nil
}

type fakeAcquirer struct {
	result Result
	calls  int
}

// Result aliases the acquisition outcome for brevity in fixtures.
type Result = lyrics.Result

func (f *fakeAcquirer) AcquireSynced(_ context.Context, _, _ string) lyrics.Result {
	f.calls++
	return f.result
}

func syncedResult(lineCount int) lyrics.Result {
	timeline := make([]lyrics.TimedLine, 0, lineCount)
	for i := 0; i < lineCount; i++ {
		timeline = append(timeline, lyrics.TimedLine{
			OffsetMs: int64(i * 1000),
			Text:     fmt.Sprintf("line %d", i+1),
		})
	}
	return lyrics.Result{
		RawText:        "raw lyrics",
		Timeline:       timeline,
		Classification: lyrics.ClassificationSynced,
	}
}

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type testFixture struct {
	service  *Service
	db       *gorm.DB
	objects  *fakeObjectStore
	acquirer *fakeAcquirer
}

func newTestFixture(t *testing.T, acquired lyrics.Result, ids ...string) *testFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:cantio_songs_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Song{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	if len(ids) == 0 {
		ids = []string{"song-1", "song-2", "song-3"}
	}

	objects := newFakeObjectStore()
	acquirer := &fakeAcquirer{result: acquired}
	clock := func() time.Time { return time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC) }

	service, err := NewService(ServiceConfig{
		Database:   db,
		Objects:    objects,
		Acquirer:   acquirer,
		Clock:      clock,
		IDProvider: &staticIDGenerator{ids: ids},
	})
	if err != nil {
		t.Fatalf("failed to construct songs service: %v", err)
	}

	return &testFixture{service: service, db: db, objects: objects, acquirer: acquirer}
}

func audioUpload() FileUpload {
	return FileUpload{
		Filename:    "track.mp3",
		ContentType: "audio/mpeg",
		Size:        2048,
		Content:     strings.NewReader("pretend mp3 bytes"),
	}
}

func videoUpload() FileUpload {
	return FileUpload{
		Filename:    "background.mp4",
		ContentType: "video/mp4",
		Size:        4096,
		Content:     strings.NewReader("pretend mp4 bytes"),
	}
}

func (f *testFixture) seedConfirmed(t *testing.T, ownerID string, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		song := Song{
			SongID:          fmt.Sprintf("seed-%s-%d", ownerID, i),
			OwnerID:         ownerID,
			Title:           fmt.Sprintf("Seed %d", i),
			Artist:          "Seed Artist",
			ObjectRef:       fmt.Sprintf("%s/seed-%d.mp3", ownerID, i),
			ByteSize:        100,
			Format:          "mp3",
			TimelineJSON:    "[]",
			Classification:  string(lyrics.ClassificationSynced),
			FrequencyWeight: 3,
			Confirmed:       true,
			CreatedAt:       time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
		}
		f.objects.objects[song.ObjectRef] = []byte("seed")
		if err := f.db.Create(&song).Error; err != nil {
			t.Fatalf("failed to seed song: %v", err)
		}
	}
}

func (f *testFixture) countRecords(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := f.db.Model(&Song{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count songs: %v", err)
	}
	return count
}
