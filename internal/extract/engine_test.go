package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/starford/perthro/internal/address"
	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/backup"
	"github.com/starford/perthro/internal/models"
	"github.com/starford/perthro/internal/storage"
	"github.com/starford/perthro/internal/testutil"
)

// fakeContainer serves files from memory and records which storage IDs
// were requested through which method.
type fakeContainer struct {
	layout   backup.Layout
	index    map[string]string // address -> storage ID, used by Resolve
	manifest map[string]string // address -> storage ID, used by QueryManifest
	files    map[string][]byte // storage ID -> content
	readErr  map[string]error  // storage ID -> reader failure
	ioFail   map[string]bool   // output name -> destination failure
	cancelOn string            // output name that cancels the batch
	cancel   context.CancelFunc

	mu       sync.Mutex
	resolved []string
	queried  []string
	built    int
}

func (f *fakeContainer) Layout() backup.Layout { return f.layout }

func (f *fakeContainer) BuildIndex(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built++
	return nil
}

func (f *fakeContainer) Resolve(_ context.Context, id models.Identity) (backup.Location, error) {
	addr, err := id.Address()
	if err != nil {
		return backup.Location{}, err
	}
	f.mu.Lock()
	f.resolved = append(f.resolved, addr)
	f.mu.Unlock()
	if sid, ok := f.index[addr]; ok {
		return backup.Location{StorageID: sid}, nil
	}
	return backup.Location{}, apperr.ErrNotFound
}

func (f *fakeContainer) QueryManifest(_ context.Context, id models.Identity) (string, error) {
	addr, err := id.Address()
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.queried = append(f.queried, addr)
	f.mu.Unlock()
	if sid, ok := f.manifest[addr]; ok {
		return sid, nil
	}
	return "", apperr.ErrNotFound
}

func (f *fakeContainer) ExtractTo(ctx context.Context, storageID string, out storage.Provider, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.ioFail[name] {
		return 0, fmt.Errorf("fake: write %s: %w", name, apperr.ErrIO)
	}
	if err, ok := f.readErr[storageID]; ok {
		return 0, &storage.SourceError{Err: err}
	}
	data, ok := f.files[storageID]
	if !ok {
		return 0, fmt.Errorf("fake: %s: %w", storageID, apperr.ErrNotFound)
	}
	n, err := out.WriteFrom(name, bytes.NewReader(data))
	if name == f.cancelOn && f.cancel != nil {
		f.cancel()
	}
	return n, err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func photoID(t *testing.T, rel string) (models.Identity, string) {
	t.Helper()
	id := models.Identity{Domain: address.CameraRollDomain, RelativePath: "Media/" + rel, DisplayName: filepath.Base(rel)}
	addr, err := id.Address()
	if err != nil {
		t.Fatal(err)
	}
	return id, addr
}

func newEngine(t *testing.T, c Container, opts ...Option) (*Engine, string) {
	t.Helper()
	dir, out := testutil.TestOutput(t)
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(c, out, opts...), dir
}

func TestRun_StandardStrategy(t *testing.T) {
	id, addr := photoID(t, "DCIM/100APPLE/IMG_0001.JPG")
	fc := &fakeContainer{
		layout: backup.ManifestBased,
		index:  map[string]string{addr: "abcd1234"},
		files:  map[string][]byte{"abcd1234": []byte("jpeg")},
	}
	e, dir := newEngine(t, fc)

	results, err := e.Run(context.Background(), []models.Identity{id})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := results[0]
	if r.Outcome != models.Extracted || r.Strategy != string(Standard) {
		t.Fatalf("result = %+v", r)
	}
	if r.OutputPath != filepath.Join(dir, "IMG_0001.JPG") {
		t.Errorf("output path = %s", r.OutputPath)
	}
	if r.Checksum == "" {
		t.Error("missing checksum")
	}
	if len(fc.queried) != 0 {
		t.Errorf("manifest queried after standard success: %v", fc.queried)
	}
}

func TestRun_FallsBackToDirectHash(t *testing.T) {
	id, addr := photoID(t, "DCIM/100APPLE/IMG_0002.JPG")
	fc := &fakeContainer{
		layout: backup.ManifestBased,
		files:  map[string][]byte{addr: []byte("jpeg")},
	}
	e, _ := newEngine(t, fc)

	results, err := e.Run(context.Background(), []models.Identity{id})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Strategy != string(DirectHash) {
		t.Errorf("strategy = %q, want direct_hash", results[0].Strategy)
	}
	if len(fc.queried) != 0 {
		t.Error("manifest query should not run after direct hash succeeded")
	}
}

func TestRun_FallsBackToManifestQuery(t *testing.T) {
	id := models.FileIdentity("3d0d7e5fb2ce288813306e4d4636395e047a3d28", "sms.db")
	fc := &fakeContainer{
		layout:   backup.ManifestBased,
		manifest: map[string]string{id.FileID: "abcd1234"},
		files:    map[string][]byte{"abcd1234": []byte("sqlite")},
	}
	e, _ := newEngine(t, fc)

	results, err := e.Run(context.Background(), []models.Identity{id})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Outcome != models.Extracted || results[0].Strategy != string(ManifestQuery) {
		t.Errorf("result = %+v", results[0])
	}
}

func TestRun_ManifestQuerySkippedOnLegacy(t *testing.T) {
	id := models.FileIdentity("3d0d7e5fb2ce288813306e4d4636395e047a3d28", "sms.db")
	other := models.FileIdentity("31bb7ba8914766d4ba40d6dfb6113c8b614be442", "AddressBook.sqlitedb")
	fc := &fakeContainer{
		layout:   backup.Legacy,
		index:    map[string]string{other.FileID: other.FileID},
		manifest: map[string]string{id.FileID: "abcd1234"},
		files:    map[string][]byte{"abcd1234": []byte("x"), other.FileID: []byte("y")},
	}
	e, _ := newEngine(t, fc)

	results, err := e.Run(context.Background(), []models.Identity{id, other})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Outcome != models.NotFound {
		t.Errorf("result = %+v, want not found", results[0])
	}
	if len(fc.queried) != 0 {
		t.Error("manifest queried on legacy container")
	}
}

func TestRun_ReaderFailureIsFailed(t *testing.T) {
	good, goodAddr := photoID(t, "a.jpg")
	bad, badAddr := photoID(t, "b.jpg")
	fc := &fakeContainer{
		layout:  backup.Legacy,
		index:   map[string]string{goodAddr: goodAddr, badAddr: badAddr},
		files:   map[string][]byte{goodAddr: []byte("a")},
		readErr: map[string]error{badAddr: errors.New("decrypt: bad key")},
	}
	e, _ := newEngine(t, fc)

	results, err := e.Run(context.Background(), []models.Identity{bad, good})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Outcome != models.Failed || results[0].Reason == "" {
		t.Errorf("bad = %+v, want failed with reason", results[0])
	}
	if results[1].Outcome != models.Extracted {
		t.Errorf("good = %+v", results[1])
	}
}

func TestRun_EncodingErrorIsNotFound(t *testing.T) {
	good, addr := photoID(t, "a.jpg")
	bad := models.Identity{Domain: "CameraRollDomain", RelativePath: "Media/\xff.jpg", DisplayName: "bad.jpg"}
	fc := &fakeContainer{
		layout: backup.Legacy,
		index:  map[string]string{addr: addr},
		files:  map[string][]byte{addr: []byte("a")},
	}
	e, _ := newEngine(t, fc)

	results, err := e.Run(context.Background(), []models.Identity{bad, good})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Outcome != models.NotFound {
		t.Errorf("bad = %+v, want not found", results[0])
	}
}

func TestRun_BatchUnreadable(t *testing.T) {
	a, _ := photoID(t, "a.jpg")
	b, _ := photoID(t, "b.jpg")
	e, _ := newEngine(t, &fakeContainer{layout: backup.ManifestBased})

	results, err := e.Run(context.Background(), []models.Identity{a, b})
	if !errors.Is(err, apperr.ErrBatchUnreadable) {
		t.Fatalf("err = %v, want ErrBatchUnreadable", err)
	}
	if len(results) != 2 {
		t.Errorf("len = %d, want full result list", len(results))
	}
	for _, r := range results {
		if r.Outcome != models.NotFound {
			t.Errorf("result = %+v", r)
		}
	}
}

func TestRun_EmptyBatch(t *testing.T) {
	e, _ := newEngine(t, &fakeContainer{})
	results, err := e.Run(context.Background(), nil)
	if err != nil || results == nil || len(results) != 0 {
		t.Errorf("got %#v, %v", results, err)
	}
}

func TestRun_IOErrorStopsBatch(t *testing.T) {
	var ids []models.Identity
	fc := &fakeContainer{
		layout: backup.Legacy,
		index:  map[string]string{},
		files:  map[string][]byte{},
		ioFail: map[string]bool{"2.jpg": true},
	}
	for i := range 5 {
		id, addr := photoID(t, fmt.Sprintf("%d.jpg", i))
		fc.index[addr] = addr
		fc.files[addr] = []byte("x")
		ids = append(ids, id)
	}
	e, _ := newEngine(t, fc)

	results, err := e.Run(context.Background(), ids)
	if !errors.Is(err, apperr.ErrIO) {
		t.Fatalf("err = %v, want ErrIO", err)
	}
	if errors.Is(err, apperr.ErrBatchUnreadable) {
		t.Error("IO abort must not be reported as an unreadable batch")
	}
	if len(results) != 2 {
		t.Errorf("len = %d, want completed prefix of 2", len(results))
	}
}

func TestRun_IOErrorFirstItem(t *testing.T) {
	id, addr := photoID(t, "0.jpg")
	fc := &fakeContainer{
		layout: backup.Legacy,
		index:  map[string]string{addr: addr},
		files:  map[string][]byte{addr: []byte("x")},
		ioFail: map[string]bool{"0.jpg": true},
	}
	e, _ := newEngine(t, fc)
	results, err := e.Run(context.Background(), []models.Identity{id})
	if !errors.Is(err, apperr.ErrIO) || errors.Is(err, apperr.ErrBatchUnreadable) {
		t.Fatalf("err = %v, want only ErrIO", err)
	}
	if len(results) != 0 {
		t.Errorf("len = %d, want 0", len(results))
	}
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var ids []models.Identity
	fc := &fakeContainer{
		layout:   backup.Legacy,
		index:    map[string]string{},
		files:    map[string][]byte{},
		cancelOn: "1.jpg",
		cancel:   cancel,
	}
	for i := range 4 {
		id, addr := photoID(t, fmt.Sprintf("%d.jpg", i))
		fc.index[addr] = addr
		fc.files[addr] = []byte("x")
		ids = append(ids, id)
	}
	e, dir := newEngine(t, fc)

	results, err := e.Run(ctx, ids)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(results) != 2 {
		t.Fatalf("len = %d, want 2", len(results))
	}
	// The in-flight identity completed atomically.
	if _, err := os.Stat(filepath.Join(dir, "1.jpg")); err != nil {
		t.Errorf("1.jpg missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "2.jpg")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("2.jpg should not exist: %v", err)
	}
}

func TestRun_DuplicateFilenames(t *testing.T) {
	a, addrA := photoID(t, "DCIM/100APPLE/IMG_0001.JPG")
	b, addrB := photoID(t, "DCIM/101APPLE/IMG_0001.JPG")
	fc := &fakeContainer{
		layout: backup.Legacy,
		index:  map[string]string{addrA: addrA, addrB: addrB},
		files:  map[string][]byte{addrA: []byte("first"), addrB: []byte("second")},
	}
	e, dir := newEngine(t, fc)

	results, err := e.Run(context.Background(), []models.Identity{a, b})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Outcome != models.Extracted {
		t.Errorf("first = %+v", results[0])
	}
	if results[1].Outcome != models.Failed || results[1].Reason != ReasonDuplicate {
		t.Errorf("second = %+v", results[1])
	}
	data, _ := os.ReadFile(filepath.Join(dir, "IMG_0001.JPG"))
	if string(data) != "first" {
		t.Errorf("content = %q, want first writer", data)
	}
}

func TestRun_DuplicateNameGoesToFirstSuccessfulWriter(t *testing.T) {
	absent, _ := photoID(t, "DCIM/100APPLE/IMG_0001.JPG")
	b, addrB := photoID(t, "DCIM/101APPLE/IMG_0001.JPG")
	c, addrC := photoID(t, "DCIM/102APPLE/IMG_0001.JPG")

	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			fc := &fakeContainer{
				layout: backup.Legacy,
				index:  map[string]string{addrB: addrB, addrC: addrC},
				files:  map[string][]byte{addrB: []byte("second"), addrC: []byte("third")},
			}
			e, dir := newEngine(t, fc, WithWorkers(workers))

			results, err := e.Run(context.Background(), []models.Identity{absent, b, c})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			got := []models.Outcome{results[0].Outcome, results[1].Outcome, results[2].Outcome}
			want := []models.Outcome{models.NotFound, models.Extracted, models.Failed}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("outcomes (-want +got):\n%s", diff)
			}
			if results[2].Reason != ReasonDuplicate {
				t.Errorf("third reason = %q", results[2].Reason)
			}
			data, _ := os.ReadFile(filepath.Join(dir, "IMG_0001.JPG"))
			if string(data) != "second" {
				t.Errorf("content = %q, want the first identity that was found", data)
			}
		})
	}
}

func TestRun_InvalidOutputNameIsPerItem(t *testing.T) {
	good, addr := photoID(t, "DCIM/100APPLE/b.jpg")
	bad := []models.Identity{
		{Domain: "HomeDomain", RelativePath: "Library/x", DisplayName: "."},
		{Domain: "HomeDomain", RelativePath: "Library/y", DisplayName: ".."},
		{Domain: "HomeDomain", RelativePath: "Library/z", DisplayName: "a/b"},
		{Domain: "HomeDomain", RelativePath: "Library/."},
	}
	files := map[string][]byte{addr: []byte("b")}
	index := map[string]string{addr: addr}
	for _, id := range bad {
		a, err := id.Address()
		if err != nil {
			t.Fatal(err)
		}
		files[a] = []byte("x")
		index[a] = a
	}

	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			fc := &fakeContainer{layout: backup.Legacy, index: index, files: files}
			e, dir := newEngine(t, fc, WithWorkers(workers))

			results, err := e.Run(context.Background(), append(slices.Clone(bad), good))
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(results) != len(bad)+1 {
				t.Fatalf("results = %d", len(results))
			}
			for i := range bad {
				if results[i].Outcome != models.Failed || results[i].Reason != ReasonInvalidName {
					t.Errorf("result %d = %+v", i, results[i])
				}
			}
			if last := results[len(bad)]; last.Outcome != models.Extracted {
				t.Errorf("valid item after invalid ones = %+v", last)
			}
			if _, err := os.Stat(filepath.Join(dir, "b.jpg")); err != nil {
				t.Errorf("b.jpg missing: %v", err)
			}
		})
	}
}

func TestRun_WithStrategiesLimitsChain(t *testing.T) {
	id, addr := photoID(t, "a.jpg")
	fc := &fakeContainer{
		layout: backup.ManifestBased,
		files:  map[string][]byte{addr: []byte("a")},
	}
	e, _ := newEngine(t, fc, WithStrategies(ManifestQuery, Standard))

	results, err := e.Run(context.Background(), []models.Identity{id})
	if !errors.Is(err, apperr.ErrBatchUnreadable) {
		t.Fatalf("err = %v", err)
	}
	if results[0].Outcome != models.NotFound {
		t.Errorf("direct hash ran although disabled: %+v", results[0])
	}
}

func TestRun_PoolPreservesOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	var ids []models.Identity
	fc := &fakeContainer{
		layout: backup.ManifestBased,
		index:  map[string]string{},
		files:  map[string][]byte{},
	}
	for i := range 40 {
		id, addr := photoID(t, fmt.Sprintf("IMG_%04d.JPG", i))
		if i%3 != 0 {
			fc.index[addr] = addr
			fc.files[addr] = []byte(id.DisplayName)
		}
		ids = append(ids, id)
	}

	var events []Event
	e, _ := newEngine(t, fc, WithWorkers(8), WithProgress(func(ev Event) { events = append(events, ev) }))
	results, err := e.Run(context.Background(), ids)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fc.built != 1 {
		t.Errorf("index built %d times before workers, want 1", fc.built)
	}
	if len(results) != len(ids) {
		t.Fatalf("len = %d, want %d", len(results), len(ids))
	}
	for i, r := range results {
		if diff := cmp.Diff(ids[i], r.Identity); diff != "" {
			t.Errorf("results[%d] identity (-want +got):\n%s", i, diff)
		}
		want := models.Extracted
		if i%3 == 0 {
			want = models.NotFound
		}
		if r.Outcome != want {
			t.Errorf("results[%d] = %s, want %s", i, r.Outcome, want)
		}
	}
	if len(events) != len(ids) {
		t.Errorf("events = %d, want %d", len(events), len(ids))
	}
}

func TestRun_PoolIOErrorReturnsPrefix(t *testing.T) {
	defer goleak.VerifyNone(t)

	var ids []models.Identity
	fc := &fakeContainer{
		layout: backup.Legacy,
		index:  map[string]string{},
		files:  map[string][]byte{},
		ioFail: map[string]bool{"5.jpg": true},
	}
	for i := range 10 {
		id, addr := photoID(t, fmt.Sprintf("%d.jpg", i))
		fc.index[addr] = addr
		fc.files[addr] = []byte("x")
		ids = append(ids, id)
	}
	e, _ := newEngine(t, fc, WithWorkers(4))
	results, err := e.Run(context.Background(), ids)
	if !errors.Is(err, apperr.ErrIO) {
		t.Fatalf("err = %v, want ErrIO", err)
	}
	if len(results) >= len(ids) || len(results) > 5 {
		t.Errorf("len = %d, want a prefix shorter than the failing item", len(results))
	}
	for i, r := range results {
		if r.Outcome != models.Extracted {
			t.Errorf("results[%d] = %+v", i, r)
		}
	}
}

func TestParseStrategies(t *testing.T) {
	got, err := ParseStrategies([]string{"manifest_query", "standard", "standard"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Strategy{Standard, ManifestQuery}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	all, err := ParseStrategies(nil)
	if err != nil || len(all) != 3 {
		t.Errorf("empty input = %v, %v", all, err)
	}
	if _, err := ParseStrategies([]string{"guess"}); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestSummary(t *testing.T) {
	s := Summary([]models.Result{
		{Outcome: models.Extracted, Strategy: "standard"},
		{Outcome: models.Extracted, Strategy: "direct_hash"},
		{Outcome: models.Extracted, Strategy: "standard"},
		{Outcome: models.NotFound},
		{Outcome: models.Failed},
	})
	want := Totals{Total: 5, Extracted: 3, NotFound: 1, Failed: 1, ByStrategy: map[string]int{"standard": 2, "direct_hash": 1}}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
