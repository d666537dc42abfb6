package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/specgest/internal/doctree"
	"github.com/dgallion1/specgest/internal/embedding"
	"github.com/dgallion1/specgest/internal/enrich"
	"github.com/dgallion1/specgest/internal/llm"
	"github.com/dgallion1/specgest/internal/vectorindex"
)

const standardText = `1 总则
1.0.1 为规范外墙外保温工程的设计、施工及验收，保证工程质量，制定本标准。
2 术语
2.0.1 外墙外保温系统是由保温层、保护层和固定材料构成并固定在外墙外表面的非承重保温构造总称。
条文说明
1 总则
1.0.1 本条说明制定本标准的目的，强调外保温工程的质量与安全要求。
`

type fakeModel struct {
	complete func(ctx context.Context, req llm.Request) (string, error)
}

func (f *fakeModel) Complete(ctx context.Context, req llm.Request) (string, error) {
	return f.complete(ctx, req)
}

func (f *fakeModel) Stream(context.Context, llm.Request, func(string) error) error {
	return errors.New("not implemented")
}

type fakeModels struct {
	model llm.Completer
	err   error
}

func (f fakeModels) Get(string) (llm.Completer, error) { return f.model, f.err }

const enrichReply = `{"question1": "外保温工程的目的是什么？", "question2": "外保温系统由哪些部分组成？", "question3": "条文如何说明质量要求？", "tags": "外保温,总则"}`

func staticModel(reply string) *fakeModel {
	return &fakeModel{complete: func(context.Context, llm.Request) (string, error) { return reply, nil }}
}

type fixture struct {
	dir    string
	store  *MemoryStore
	index  *vectorindex.Memory
	worker *Worker
}

func newFixture(t *testing.T, models Models) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	index := vectorindex.NewMemory()
	require.NoError(t, index.EnsureSchema(context.Background(), 64))

	f := &fixture{dir: t.TempDir(), store: NewMemoryStore(), index: index}
	f.worker = NewWorker(f.store, models, enrich.New(log, 0), embedding.NewHash(64), index, log, WorkerConfig{
		UploadDir:           f.dir,
		MinChunkChars:       10,
		MaxConcurrentEnrich: 2,
	})
	f.worker.backoff = func(int) time.Duration { return time.Millisecond }
	return f
}

func (f *fixture) addJob(t *testing.T, id, name, content string) {
	t.Helper()
	filename := id + "_" + name
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, filename), []byte(content), 0o600))
	require.NoError(t, f.store.Put(context.Background(), NewJob(id, name, filename, "", int64(len(content)))))
}

func (f *fixture) job(t *testing.T, id string) Job {
	t.Helper()
	job, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestWorker_ProcessesDocument(t *testing.T) {
	f := newFixture(t, fakeModels{model: staticModel(enrichReply)})
	f.addJob(t, "j1", "JGJ144-2019.txt", standardText)

	f.worker.Process(context.Background(), "j1")

	job := f.job(t, "j1")
	require.Equal(t, StatusCompleted, job.Status, job.Error)
	assert.Equal(t, Steps{Current: 5, Total: 5, Description: "处理完成"}, job.Steps)
	assert.Contains(t, job.Markdown, "# 1 总则")
	assert.NotEmpty(t, job.ContentHash)
	require.Equal(t, 3, job.ChunksCount)
	require.Len(t, job.Chunks, 3)

	assert.Equal(t, doctree.RoleBody, job.Chunks[0].TextRole)
	assert.Equal(t, doctree.RoleAnnotation, job.Chunks[2].TextRole)
	for _, c := range job.Chunks {
		assert.Equal(t, "外保温工程的目的是什么？", c.Question1)
		assert.Equal(t, "外保温,总则", c.Tags)
	}

	assert.Equal(t, 3, f.index.Len())
	vec, _ := embedding.NewHash(64).Embed(context.Background(), "外保温")
	hits, err := f.index.Search(context.Background(), vectorindex.FieldTags, vec, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "JGJ144-2019.txt", hits[0].Payload[doctree.KeySourceFile])
	assert.Equal(t, "2019", hits[0].Payload[doctree.KeyYear])
}

func TestWorker_ReprocessingReplacesRecords(t *testing.T) {
	f := newFixture(t, fakeModels{model: staticModel(enrichReply)})
	f.addJob(t, "a", "GB-2020.txt", standardText)
	f.addJob(t, "b", "GB-2020.txt", standardText)

	f.worker.Process(context.Background(), "a")
	f.worker.Process(context.Background(), "b")

	assert.Equal(t, 3, f.index.Len())
}

func TestWorker_NoHeadingsFails(t *testing.T) {
	f := newFixture(t, fakeModels{model: staticModel(enrichReply)})
	f.addJob(t, "j2", "notes.txt", "just some prose\nwithout numbered sections")

	f.worker.Process(context.Background(), "j2")

	job := f.job(t, "j2")
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "no extractable content", job.Error)
	assert.Equal(t, 0, f.index.Len())
}

func TestWorker_MissingUploadFails(t *testing.T) {
	f := newFixture(t, fakeModels{model: staticModel(enrichReply)})
	require.NoError(t, f.store.Put(context.Background(), NewJob("j3", "a.txt", "gone.txt", "", 0)))

	f.worker.Process(context.Background(), "j3")

	job := f.job(t, "j3")
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, 1, job.Steps.Current)
}

func TestWorker_UnsupportedTypeFails(t *testing.T) {
	f := newFixture(t, fakeModels{model: staticModel(enrichReply)})
	f.addJob(t, "j4", "sheet.csv", "a,b\n1,2\n")

	f.worker.Process(context.Background(), "j4")

	assert.Equal(t, StatusFailed, f.job(t, "j4").Status)
}

func TestWorker_EnrichmentFailureKeepsChunks(t *testing.T) {
	model := &fakeModel{complete: func(context.Context, llm.Request) (string, error) {
		return "", errors.New("connection refused")
	}}
	f := newFixture(t, fakeModels{model: model})
	f.addJob(t, "j5", "a.txt", standardText)

	f.worker.Process(context.Background(), "j5")

	job := f.job(t, "j5")
	require.Equal(t, StatusCompleted, job.Status)
	for _, c := range job.Chunks {
		assert.Empty(t, c.Question1)
		assert.Empty(t, c.Tags)
	}
	assert.Equal(t, 3, f.index.Len())
}

func TestWorker_NoModelSkipsEnrichment(t *testing.T) {
	f := newFixture(t, fakeModels{err: errors.New("no models configured")})
	f.addJob(t, "j6", "a.txt", standardText)

	f.worker.Process(context.Background(), "j6")

	assert.Equal(t, StatusCompleted, f.job(t, "j6").Status)
}

func TestWorker_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	seen := map[string]int{}
	model := &fakeModel{complete: func(_ context.Context, req llm.Request) (string, error) {
		calls.Add(1)
		mu.Lock()
		defer mu.Unlock()
		seen[req.Prompt]++
		if seen[req.Prompt] == 1 {
			return "", &llm.RetryableError{StatusCode: 503, Message: "busy"}
		}
		return enrichReply, nil
	}}
	f := newFixture(t, fakeModels{model: model})
	f.addJob(t, "j7", "a.txt", standardText)

	f.worker.Process(context.Background(), "j7")

	job := f.job(t, "j7")
	require.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, int32(6), calls.Load())
	for _, c := range job.Chunks {
		assert.NotEmpty(t, c.Question1)
	}
}

func TestWorker_CancelDuringEnrichment(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	model := &fakeModel{complete: func(ctx context.Context, _ llm.Request) (string, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return "", ctx.Err()
	}}
	f := newFixture(t, fakeModels{model: model})
	f.addJob(t, "j8", "a.txt", standardText)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.worker.Process(ctx, "j8")
		close(done)
	}()

	<-started
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	job := f.job(t, "j8")
	assert.Equal(t, StatusCancelled, job.Status)
	assert.Equal(t, "处理已取消", job.Steps.Description)
	assert.Equal(t, 0, f.index.Len())
}

func TestWorker_MarkdownUpload(t *testing.T) {
	f := newFixture(t, fakeModels{model: staticModel(enrichReply)})
	md := "## 3 基本规定\n\n3.0.1 外保温工程应能适应基层的正常变形而不产生裂缝或空鼓。\n"
	f.addJob(t, "j9", "JGJ-2019.md", md)

	f.worker.Process(context.Background(), "j9")

	job := f.job(t, "j9")
	require.Equal(t, StatusCompleted, job.Status, job.Error)
	require.Len(t, job.Chunks, 1)
	assert.Equal(t, "3", job.Chunks[0].Section)
	assert.Equal(t, "基本规定", job.Chunks[0].Title)
	assert.False(t, strings.Contains(job.Chunks[0].Content, "#"))
}
