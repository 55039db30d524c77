package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mornew/gallery/internal/compress"
	"github.com/mornew/gallery/internal/dedup"
	"github.com/mornew/gallery/internal/ledger"
	"github.com/mornew/gallery/internal/models"
	"github.com/mornew/gallery/internal/session"
	"github.com/mornew/gallery/internal/store"
)

// memRecords is an in-memory RecordStore with failure injection.
type memRecords struct {
	mu        sync.Mutex
	items     []models.GalleryItem
	countErr  error
	insertErr error
	nextID    int
}

func (m *memRecords) SelectItems(ctx context.Context, q store.Query) ([]models.GalleryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.GalleryItem, len(m.items))
	copy(out, m.items)
	return out, nil
}

func (m *memRecords) CountItems(ctx context.Context, f store.ItemFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	count := 0
	for _, it := range m.items {
		if f.Filename != "" && it.Filename != f.Filename {
			continue
		}
		if f.FileSize != 0 && it.FileSize != f.FileSize {
			continue
		}
		if f.MimeType != "" && it.MimeType != f.MimeType {
			continue
		}
		if f.UploaderName != "" && it.UploaderName != f.UploaderName {
			continue
		}
		count++
	}
	return count, nil
}

func (m *memRecords) InsertItem(ctx context.Context, n models.NewItem) (*models.GalleryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return nil, m.insertErr
	}

	m.nextID++
	now := time.Now().UTC()
	item := models.GalleryItem{
		ID:           fmt.Sprintf("item-%d", m.nextID),
		Filename:     n.Filename,
		StoragePath:  n.StoragePath,
		URL:          n.URL,
		UploaderName: n.UploaderName,
		UploaderID:   n.UploaderID,
		FileSize:     n.FileSize,
		MimeType:     n.MimeType,
		Width:        n.Width,
		Height:       n.Height,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.items = append(m.items, item)
	return &item, nil
}

func (m *memRecords) DeleteItems(ctx context.Context, f store.ItemFilter) error {
	return errors.New("not implemented")
}

func (m *memRecords) Subscribe(ctx context.Context) (<-chan store.ChangeEvent, error) {
	return nil, store.ErrSubscribeUnsupported
}

// memObjects tracks concurrency and supports collision and blocking modes.
type memObjects struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	putErr    error
	active    int
	maxActive int
	gate      chan struct{}
	putDelay  time.Duration
}

func newMemObjects() *memObjects {
	return &memObjects{blobs: make(map[string][]byte)}
}

func (m *memObjects) Put(ctx context.Context, key string, data []byte, opts store.PutOptions) error {
	m.mu.Lock()
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if m.putDelay > 0 {
		time.Sleep(m.putDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.active--

	if m.putErr != nil {
		return m.putErr
	}
	if _, exists := m.blobs[key]; exists && !opts.Overwrite {
		return store.ErrObjectExists
	}
	m.blobs[key] = data
	return nil
}

func (m *memObjects) PublicURL(key string) string {
	return "https://cdn.test/" + key
}

func (m *memObjects) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (m *memObjects) Delete(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.blobs, k)
	}
	return nil
}

type memKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string]string)}
}

func (m *memKV) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *memKV) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memKV) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

// echoRecorder captures local echo inserts.
type echoRecorder struct {
	mu    sync.Mutex
	items []models.GalleryItem
}

func (e *echoRecorder) ApplyInsert(item models.GalleryItem) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = append(e.items, item)
	return true
}

func (e *echoRecorder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.items)
}

type fixture struct {
	records   *memRecords
	objects   *memObjects
	kv        *memKV
	ledger    *ledger.Ledger
	session   *session.Session
	echo      *echoRecorder
	scheduler *Scheduler
}

func newFixture(t *testing.T, width int, named bool) *fixture {
	t.Helper()

	f := &fixture{
		records: &memRecords{},
		objects: newMemObjects(),
		kv:      newMemKV(),
		echo:    &echoRecorder{},
	}
	f.ledger = ledger.New(f.kv)

	sess, err := session.New(f.kv)
	require.NoError(t, err)
	if named {
		require.NoError(t, sess.SetDisplayName("Somchai"))
	}
	f.session = sess

	compressor := compress.NewCompressor(1920, 85, 100*1024)
	checker := dedup.NewChecker(f.records)
	f.scheduler = NewScheduler(f.records, f.objects, compressor, checker,
		f.ledger, sess, f.echo, nil, width)
	return f
}

func textFile(name string, size int) models.LocalFile {
	return models.LocalFile{
		Name:     name,
		MimeType: "text/plain",
		Data:     []byte(strings.Repeat("x", size)),
	}
}

func TestScheduler_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects an empty batch", func(t *testing.T) {
		f := newFixture(t, 2, true)
		_, err := f.scheduler.Submit(ctx, nil, nil)
		assert.Equal(t, models.ErrEmptyBatch, err)
	})

	t.Run("uploads a batch end to end", func(t *testing.T) {
		f := newFixture(t, 2, true)
		files := []models.LocalFile{
			textFile("a.txt", 10),
			textFile("b.txt", 20),
			textFile("c.txt", 30),
		}

		result, err := f.scheduler.Submit(ctx, files, nil)
		require.NoError(t, err)
		assert.Equal(t, models.BatchResult{Uploaded: 3}, *result)

		stored, err := f.records.SelectItems(ctx, store.Query{})
		require.NoError(t, err)
		require.Len(t, stored, 3)
		for _, it := range stored {
			assert.Equal(t, "Somchai", it.UploaderName)
			assert.True(t, strings.HasPrefix(it.StoragePath, "somchai/"),
				"storage key %q should carry the transliterated uploader prefix", it.StoragePath)
			assert.Equal(t, "https://cdn.test/"+it.StoragePath, it.URL)
			assert.NotEmpty(t, it.UploaderID)
		}

		assert.Equal(t, 3, f.echo.count())
		assert.Nil(t, f.ledger.Load(), "ledger should be cleared after completion")
	})

	t.Run("holds files until a name is set", func(t *testing.T) {
		f := newFixture(t, 2, false)
		files := []models.LocalFile{textFile("a.txt", 10)}

		_, err := f.scheduler.Submit(ctx, files, nil)
		assert.Equal(t, models.ErrNameRequired, err)
		assert.Equal(t, 1, f.scheduler.HeldCount())

		require.NoError(t, f.session.SetDisplayName("Malee"))
		result, err := f.scheduler.ResumeHeld(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Uploaded)
		assert.Equal(t, 0, f.scheduler.HeldCount())
	})

	t.Run("skips files already in the pool", func(t *testing.T) {
		f := newFixture(t, 2, true)
		files := []models.LocalFile{
			textFile("dup.txt", 10),
			textFile("fresh.txt", 20),
		}

		_, err := f.records.InsertItem(ctx, models.NewItem{
			Filename:     "dup.txt",
			StoragePath:  "somchai/earlier.txt",
			URL:          "https://cdn.test/somchai/earlier.txt",
			UploaderName: "Somchai",
			FileSize:     10,
			MimeType:     "text/plain",
		})
		require.NoError(t, err)

		result, err := f.scheduler.Submit(ctx, files, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Uploaded)
		assert.Equal(t, 1, result.Skipped)
		assert.Equal(t, 0, result.Failed)
	})

	t.Run("resubmitting the same batch skips everything", func(t *testing.T) {
		f := newFixture(t, 2, true)
		files := []models.LocalFile{textFile("a.txt", 10), textFile("b.txt", 20)}

		first, err := f.scheduler.Submit(ctx, files, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, first.Uploaded)

		second, err := f.scheduler.Submit(ctx, files, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, second.Uploaded)
		assert.Equal(t, 2, second.Skipped)
	})

	t.Run("object key collision counts as a skip", func(t *testing.T) {
		f := newFixture(t, 2, true)
		f.objects.putErr = store.ErrObjectExists

		result, err := f.scheduler.Submit(ctx, []models.LocalFile{textFile("a.txt", 10)}, nil)
		require.NoError(t, err)
		assert.Equal(t, models.BatchResult{Skipped: 1}, *result)
	})

	t.Run("per-file failures do not abort the batch", func(t *testing.T) {
		f := newFixture(t, 2, true)
		f.records.insertErr = errors.New("constraint violation")

		result, err := f.scheduler.Submit(ctx, []models.LocalFile{
			textFile("a.txt", 10),
			textFile("b.txt", 20),
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, models.BatchResult{Failed: 2}, *result)
		assert.Nil(t, f.ledger.Load())
	})

	t.Run("unreachable store aborts as a unit and keeps the ledger", func(t *testing.T) {
		f := newFixture(t, 2, true)
		f.records.countErr = errors.New("connection refused")

		_, err := f.scheduler.Submit(ctx, []models.LocalFile{textFile("a.txt", 10)}, nil)
		require.Error(t, err)

		pending := f.ledger.Load()
		require.NotNil(t, pending, "ledger entry must survive a catastrophic failure")
		assert.Len(t, pending.Files, 1)
	})

	t.Run("second batch while one is in flight is rejected", func(t *testing.T) {
		f := newFixture(t, 2, true)
		gate := make(chan struct{})
		f.objects.gate = gate

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, err := f.scheduler.Submit(ctx, []models.LocalFile{textFile("slow.txt", 10)}, nil)
			assert.NoError(t, err)
		}()

		require.Eventually(t, func() bool {
			f.objects.mu.Lock()
			defer f.objects.mu.Unlock()
			return f.objects.active > 0
		}, time.Second, 5*time.Millisecond)

		_, err := f.scheduler.Submit(ctx, []models.LocalFile{textFile("other.txt", 10)}, nil)
		assert.Equal(t, models.ErrBatchInFlight, err)

		close(gate)
		<-done
	})
}

func TestScheduler_Progress(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, 2, true)
	files := make([]models.LocalFile, 7)
	for i := range files {
		files[i] = textFile(fmt.Sprintf("f%d.txt", i), 10+i)
	}

	var mu sync.Mutex
	var reports []int
	progress := func(pct int) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, pct)
	}

	_, err := f.scheduler.Submit(ctx, files, progress)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, reports)

	hundreds := 0
	for i, pct := range reports {
		assert.GreaterOrEqual(t, pct, 0)
		assert.LessOrEqual(t, pct, 100)
		if i > 0 {
			assert.GreaterOrEqual(t, pct, reports[i-1], "progress must never go backwards")
		}
		if pct == 100 {
			hundreds++
		}
	}
	assert.Equal(t, 1, hundreds, "100 must be reported exactly once")
	assert.Equal(t, 100, reports[len(reports)-1])
}

func TestScheduler_ProgressSlowConsumer(t *testing.T) {
	ctx := context.Background()

	// A full-width group settles all its files near-simultaneously. The
	// callback sleeps longer for smaller percentages, so any delivery outside
	// the lock would surface as a reordered sequence.
	f := newFixture(t, 4, true)
	files := make([]models.LocalFile, 4)
	for i := range files {
		files[i] = textFile(fmt.Sprintf("f%d.txt", i), 10+i)
	}

	var mu sync.Mutex
	var reports []int
	progress := func(pct int) {
		time.Sleep(time.Duration(100-pct) * time.Microsecond)
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, pct)
	}

	_, err := f.scheduler.Submit(ctx, files, progress)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reports, 5)
	for i := 1; i < len(reports); i++ {
		assert.GreaterOrEqual(t, reports[i], reports[i-1],
			"progress must never go backwards, got %v", reports)
	}
	assert.Equal(t, 100, reports[len(reports)-1])
}

func TestScheduler_ConcurrencyBound(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, 3, true)
	f.objects.putDelay = 20 * time.Millisecond

	files := make([]models.LocalFile, 9)
	for i := range files {
		files[i] = textFile(fmt.Sprintf("f%d.txt", i), 10+i)
	}

	result, err := f.scheduler.Submit(ctx, files, nil)
	require.NoError(t, err)
	assert.Equal(t, 9, result.Uploaded)

	f.objects.mu.Lock()
	defer f.objects.mu.Unlock()
	assert.LessOrEqual(t, f.objects.maxActive, 3, "no more than width transfers at once")
}
