package usecase

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/mditd/internal/core/domain"
	"github.com/kirillkom/mditd/internal/infrastructure/storage/localfs"
)

type converterFake struct {
	delays map[string]time.Duration
	fail   map[string]error
	panics map[string]bool

	active    atomic.Int32
	maxActive atomic.Int32
	calls     atomic.Int32
}

func (f *converterFake) Supports(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".pdf", ".docx":
		return true
	}
	return false
}

func (f *converterFake) SupportedExtensions() []string {
	return []string{".docx", ".pdf", ".txt"}
}

func (f *converterFake) Convert(_ context.Context, path string) (string, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		cur := f.maxActive.Load()
		if n <= cur || f.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	body := string(raw)
	time.Sleep(f.delays[body])
	if f.panics[body] {
		panic("converter exploded on " + path)
	}
	if err := f.fail[body]; err != nil {
		return "", err
	}
	return "converted: " + body, nil
}

type eventsFake struct {
	mu     sync.Mutex
	events []domain.BatchCompletedEvent
	err    error
}

func (f *eventsFake) PublishBatchCompleted(_ context.Context, event domain.BatchCompletedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

type historyFake struct {
	records []domain.BatchRecord
	err     error
}

func (f *historyFake) RecordBatch(_ context.Context, record domain.BatchRecord) error {
	f.records = append(f.records, record)
	return f.err
}

func (f *historyFake) ListRecent(context.Context, int) ([]domain.BatchRecord, error) {
	return f.records, f.err
}

type batchEnv struct {
	root      string
	store     *localfs.Storage
	resolver  *localfs.Resolver
	converter *converterFake
}

func newBatchEnv(t *testing.T) *batchEnv {
	t.Helper()
	root := t.TempDir()
	store, err := localfs.New(filepath.Join(root, "uploads"), localfs.Options{MaxFileSize: 1 << 20, MinFileSize: 1})
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	resolver, err := localfs.NewResolver(root, "vystup", 100)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return &batchEnv{
		root:     root,
		store:    store,
		resolver: resolver,
		converter: &converterFake{
			delays: map[string]time.Duration{},
			fail:   map[string]error{},
			panics: map[string]bool{},
		},
	}
}

func (e *batchEnv) useCase(opts BatchOptions) *BatchConversionUseCase {
	return NewBatchConversionUseCase(e.store, e.resolver, e.converter, nil, nil, nil, nil, opts)
}

func (e *batchEnv) uploadsLeft(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.store.UploadsDir())
	if err != nil {
		t.Fatalf("read uploads: %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func upload(name, content string) domain.UploadItem {
	return domain.UploadItem{
		Filename: name,
		Size:     int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func TestProcessKeepsSubmissionOrderUnderLatency(t *testing.T) {
	env := newBatchEnv(t)
	env.converter.delays["slow"] = 60 * time.Millisecond
	env.converter.delays["medium"] = 20 * time.Millisecond

	summary, err := env.useCase(BatchOptions{Workers: 3}).Process(context.Background(), []domain.UploadItem{
		upload("a.txt", "slow"),
		upload("b.txt", "fast"),
		upload("c.txt", "medium"),
	}, "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	var got []string
	for _, res := range summary.Results {
		got = append(got, res.Filename)
	}
	if strings.Join(got, ",") != "a.txt,b.txt,c.txt" {
		t.Fatalf("results out of submission order: %v", got)
	}
	if *summary.Results[0].Content != "converted: slow" {
		t.Fatalf("result content mismatched with its file: %q", *summary.Results[0].Content)
	}
	if summary.OutputDir != filepath.Join(env.resolver.Root(), "vystup") {
		t.Fatalf("unexpected output dir %s", summary.OutputDir)
	}
}

func TestProcessDuplicateNamesGetDistinctOutputsInOrder(t *testing.T) {
	env := newBatchEnv(t)
	env.converter.delays["first"] = 50 * time.Millisecond

	summary, err := env.useCase(BatchOptions{Workers: 4}).Process(context.Background(), []domain.UploadItem{
		upload("same.txt", "first"),
		upload("same.txt", "second"),
		upload("same.TXT", "third"),
	}, "dups")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.Successful != 3 {
		t.Fatalf("expected 3 successes, got %+v", summary)
	}

	want := []string{"same.md", "same_1.md", "same_2.md"}
	for i, res := range summary.Results {
		if filepath.Base(*res.OutputPath) != want[i] {
			t.Fatalf("result %d written to %s, want %s", i, *res.OutputPath, want[i])
		}
		data, err := os.ReadFile(*res.OutputPath)
		if err != nil {
			t.Fatalf("read output: %v", err)
		}
		if string(data) != *res.Content {
			t.Fatalf("output %s holds %q, want %q", want[i], data, *res.Content)
		}
	}
}

func TestProcessTooManyFilesStagesNothing(t *testing.T) {
	env := newBatchEnv(t)
	var opened atomic.Int32
	item := func(name string) domain.UploadItem {
		return domain.UploadItem{Filename: name, Size: 1, Open: func() (io.ReadCloser, error) {
			opened.Add(1)
			return io.NopCloser(strings.NewReader("x")), nil
		}}
	}

	_, err := env.useCase(BatchOptions{MaxFiles: 2}).Process(context.Background(),
		[]domain.UploadItem{item("a.txt"), item("b.txt"), item("c.txt")}, "")
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if opened.Load() != 0 || len(env.uploadsLeft(t)) != 0 {
		t.Fatalf("files were staged before batch validation")
	}
	if _, err := os.Stat(filepath.Join(env.root, "vystup")); !os.IsNotExist(err) {
		t.Fatalf("output dir created for a rejected batch")
	}
}

func TestProcessRejectsOversizeBatch(t *testing.T) {
	env := newBatchEnv(t)

	_, err := env.useCase(BatchOptions{MaxTotalSize: 5}).Process(context.Background(),
		[]domain.UploadItem{upload("a.txt", "abc"), upload("b.txt", "def")}, "")
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if env.converter.calls.Load() != 0 {
		t.Fatalf("converter called for rejected batch")
	}
}

func TestProcessMixedBatchReportsPerFileFailure(t *testing.T) {
	env := newBatchEnv(t)

	summary, err := env.useCase(BatchOptions{}).Process(context.Background(), []domain.UploadItem{
		upload("report.txt", "quarterly numbers"),
		upload("bad.xyz", "???"),
	}, "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.TotalFiles != 2 || summary.Successful != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected counts %+v", summary)
	}

	ok, bad := summary.Results[0], summary.Results[1]
	if !ok.Success || ok.Error != nil || ok.Content == nil || ok.OutputPath == nil {
		t.Fatalf("unexpected success result %+v", ok)
	}
	if filepath.Base(*ok.OutputPath) != "report.md" {
		t.Fatalf("unexpected output path %s", *ok.OutputPath)
	}
	if bad.Success || bad.Error == nil || *bad.Error != "Unsupported file format: .xyz" {
		t.Fatalf("unexpected failure result %+v", bad)
	}
	if bad.Content != nil || bad.OutputPath != nil {
		t.Fatalf("failed result carries content or path: %+v", bad)
	}
}

func TestProcessChecksFormatOnSanitizedName(t *testing.T) {
	env := newBatchEnv(t)

	summary, err := env.useCase(BatchOptions{}).Process(context.Background(), []domain.UploadItem{
		upload("report.txt ", "trailing space"),
		upload(".txt", "dot only"),
	}, "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	trimmed, bare := summary.Results[0], summary.Results[1]
	if !trimmed.Success || filepath.Base(*trimmed.OutputPath) != "report.md" {
		t.Fatalf("expected trailing space to be trimmed before the format check, got %+v", trimmed)
	}
	if bare.Success || bare.Error == nil || !strings.HasPrefix(*bare.Error, "Unsupported file format") {
		t.Fatalf("expected extensionless staged name to be unsupported, got %+v", bare)
	}
	if got := env.converter.calls.Load(); got != 1 {
		t.Fatalf("expected one conversion, got %d", got)
	}
	if left := env.uploadsLeft(t); len(left) != 0 {
		t.Fatalf("uploads dir not empty: %v", left)
	}
}

func TestProcessRejectsPathEscapeBeforeWork(t *testing.T) {
	env := newBatchEnv(t)

	_, err := env.useCase(BatchOptions{}).Process(context.Background(),
		[]domain.UploadItem{upload("a.txt", "abc")}, "../../etc")
	if !domain.IsKind(err, domain.ErrPathEscape) {
		t.Fatalf("expected path escape, got %v", err)
	}
	if len(env.uploadsLeft(t)) != 0 || env.converter.calls.Load() != 0 {
		t.Fatalf("work started for an escaping output dir")
	}
}

func TestProcessConversionFailureCleansTempFiles(t *testing.T) {
	env := newBatchEnv(t)
	env.converter.fail["corrupt"] = errors.New("xref table broken at offset 0x1f /srv/uploads/broken.pdf")
	env.converter.panics["boom"] = true

	summary, err := env.useCase(BatchOptions{Workers: 2}).Process(context.Background(), []domain.UploadItem{
		upload("broken.pdf", "corrupt"),
		upload("fine.txt", "fine"),
		upload("explode.docx", "boom"),
	}, "out")
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if summary.Successful != 1 || summary.Failed != 2 {
		t.Fatalf("unexpected counts %+v", summary)
	}
	for _, i := range []int{0, 2} {
		res := summary.Results[i]
		if res.Success || *res.Error != domain.InternalErrorMessage {
			t.Fatalf("result %d: expected generic internal error, got %+v", i, res)
		}
	}
	if !summary.Results[1].Success {
		t.Fatalf("sibling failure affected fine.txt: %+v", summary.Results[1])
	}
	if left := env.uploadsLeft(t); len(left) != 0 {
		t.Fatalf("temp files leaked: %v", left)
	}
}

func TestProcessEmptyBatch(t *testing.T) {
	env := newBatchEnv(t)

	summary, err := env.useCase(BatchOptions{MaxFiles: 20}).Process(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.TotalFiles != 0 || summary.Successful != 0 || summary.Failed != 0 || len(summary.Results) != 0 {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
}

func TestProcessBoundsConcurrentConversions(t *testing.T) {
	env := newBatchEnv(t)
	items := make([]domain.UploadItem, 0, 8)
	for i := 0; i < 8; i++ {
		body := "doc" + string(rune('a'+i))
		env.converter.delays[body] = 15 * time.Millisecond
		items = append(items, upload(body+".txt", body))
	}

	summary, err := env.useCase(BatchOptions{Workers: 2}).Process(context.Background(), items, "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.Successful != 8 {
		t.Fatalf("unexpected counts %+v", summary)
	}
	if got := env.converter.maxActive.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent conversions, saw %d", got)
	}
}

func TestProcessCancelledRequestLeavesNoTempFiles(t *testing.T) {
	env := newBatchEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := env.useCase(BatchOptions{}).Process(ctx, []domain.UploadItem{
		upload("a.txt", "a"),
		upload("b.txt", "b"),
	}, "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.Failed != 2 {
		t.Fatalf("expected both files to be skipped, got %+v", summary)
	}
	if left := env.uploadsLeft(t); len(left) != 0 {
		t.Fatalf("temp files leaked: %v", left)
	}
}

func TestProcessPublishesAndRecordsBestEffort(t *testing.T) {
	env := newBatchEnv(t)
	events := &eventsFake{err: errors.New("nats: no servers available")}
	history := &historyFake{}
	uc := NewBatchConversionUseCase(env.store, env.resolver, env.converter, events, history, nil, nil, BatchOptions{})

	summary, err := uc.Process(context.Background(), []domain.UploadItem{upload("a.txt", "a")}, "")
	if err != nil {
		t.Fatalf("publish failure must not fail the batch: %v", err)
	}
	if len(events.events) != 1 || events.events[0].BatchID != summary.BatchID {
		t.Fatalf("unexpected events %+v", events.events)
	}
	if len(history.records) != 1 || history.records[0].Filenames[0] != "a.txt" {
		t.Fatalf("unexpected history %+v", history.records)
	}
}

func TestProcessWritesFrontmatter(t *testing.T) {
	env := newBatchEnv(t)

	summary, err := env.useCase(BatchOptions{Frontmatter: true}).Process(context.Background(),
		[]domain.UploadItem{upload("notes.txt", "hello")}, "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	content := *summary.Results[0].Content
	if !strings.HasPrefix(content, "---\nsource: notes.txt\nformat: txt\nbatch_id: "+summary.BatchID+"\n") {
		t.Fatalf("unexpected frontmatter %q", content)
	}
	if !strings.HasSuffix(content, "---\n\nconverted: hello") {
		t.Fatalf("body missing after frontmatter: %q", content)
	}
}

func TestListOutputsAfterProcess(t *testing.T) {
	env := newBatchEnv(t)
	if _, err := env.useCase(BatchOptions{}).Process(context.Background(),
		[]domain.UploadItem{upload("b.txt", "b"), upload("a.txt", "a")}, "listing"); err != nil {
		t.Fatalf("process: %v", err)
	}

	target, files, err := NewOutputsUseCase(env.resolver, env.store).ListOutputs(context.Background(), "listing")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if target.Path != filepath.Join(env.resolver.Root(), "listing") {
		t.Fatalf("unexpected target %s", target.Path)
	}
	if len(files) != 2 || files[0].Name != "a.md" || files[1].Name != "b.md" {
		t.Fatalf("unexpected files %+v", files)
	}

	if _, _, err := NewOutputsUseCase(env.resolver, env.store).ListOutputs(context.Background(), "../.."); !domain.IsKind(err, domain.ErrPathEscape) {
		t.Fatalf("expected path escape, got %v", err)
	}
}
