package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/perthro/internal/address"
	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/backup"
	"github.com/starford/perthro/internal/filter"
	"github.com/starford/perthro/internal/models"
	"github.com/starford/perthro/internal/reconcile"
	"github.com/starford/perthro/internal/storage"
	"github.com/starford/perthro/internal/testutil"
)

// photoBackup builds a container with n photo records of which only the
// first present are stored.
func photoBackup(t *testing.T, manifest bool, n, present int) (string, []models.CatalogRecord) {
	t.Helper()
	var files []testutil.File
	var recs []models.CatalogRecord
	for i := range n {
		rec := models.CatalogRecord{
			Path:                "DCIM/100APPLE",
			Filename:            fmt.Sprintf("IMG_%04d.JPG", i),
			SceneClassification: "firearm",
			Confidence:          80,
		}
		recs = append(recs, rec)
		if i < present {
			files = append(files, testutil.File{
				Domain:       address.CameraRollDomain,
				RelativePath: "Media/" + rec.RelativePath(),
				Content:      []byte(rec.Filename),
			})
		}
	}
	return testutil.NewBackup(t, testutil.Backup{Manifest: manifest, Files: files}), recs
}

func TestScenario_TenRequestedSevenRecovered(t *testing.T) {
	for _, manifest := range []bool{false, true} {
		t.Run(fmt.Sprintf("manifest=%v", manifest), func(t *testing.T) {
			root, recs := photoBackup(t, manifest, 10, 7)
			c, err := backup.Open(root)
			if err != nil {
				t.Fatal(err)
			}
			dir, out := testutil.TestOutput(t)
			e := New(c, out, WithLogger(quietLogger()))

			results, err := e.Run(context.Background(), filter.Identities(recs))
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(results) != 10 {
				t.Fatalf("len = %d", len(results))
			}

			report, err := reconcile.Reconcile(dir, recs)
			if err != nil {
				t.Fatal(err)
			}
			if report.RecoveredCount != 7 || report.MissingCount != 3 {
				t.Errorf("recovered=%d missing=%d, want 7/3", report.RecoveredCount, report.MissingCount)
			}
			var failed []string
			for _, r := range results {
				if !r.OK() {
					failed = append(failed, r.Identity.Filename())
				}
			}
			if diff := cmp.Diff(failed, report.MissingFilenames); diff != "" {
				t.Errorf("missing filenames (-results +report):\n%s", diff)
			}
		})
	}
}

func TestScenario_ManifestResolveWithoutDirectHash(t *testing.T) {
	root := testutil.NewBackup(t, testutil.Backup{Manifest: true, Files: []testutil.File{
		{Domain: "HomeDomain", RelativePath: "Library/SMS/sms.db", StorageID: "abcd1234", Content: []byte("sms")},
	}})
	c, err := backup.Open(root)
	if err != nil {
		t.Fatal(err)
	}
	_, out := testutil.TestOutput(t)
	e := New(c, out, WithLogger(quietLogger()))

	id := models.FileIdentity("3d0d7e5fb2ce288813306e4d4636395e047a3d28", "sms.db")
	results, err := e.Run(context.Background(), []models.Identity{id})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Strategy != string(Standard) {
		t.Errorf("strategy = %q, want standard", results[0].Strategy)
	}
}

func TestScenario_StaleManifestFallsBackToDirectHash(t *testing.T) {
	root := testutil.NewBackup(t, testutil.Backup{Manifest: true, Files: []testutil.File{
		{Domain: address.CameraRollDomain, RelativePath: "Media/DCIM/100APPLE/IMG_0001.JPG", NoManifestRow: true, Content: []byte("jpeg")},
	}})
	c, err := backup.Open(root)
	if err != nil {
		t.Fatal(err)
	}
	_, out := testutil.TestOutput(t)
	e := New(c, out, WithLogger(quietLogger()), WithWorkers(2))

	id := models.Identity{Domain: address.CameraRollDomain, RelativePath: "Media/DCIM/100APPLE/IMG_0001.JPG"}
	results, err := e.Run(context.Background(), []models.Identity{id})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Strategy != string(DirectHash) {
		t.Errorf("strategy = %q, want direct_hash", results[0].Strategy)
	}
}

func TestScenario_EncryptedContainerIsUnreadable(t *testing.T) {
	root, recs := photoBackup(t, false, 3, 0)
	testutil.WritePlist(t, filepath.Join(root, backup.ManifestPlist), map[string]any{"IsEncrypted": true})
	c, err := backup.Open(root)
	if err != nil {
		t.Fatal(err)
	}
	_, out := testutil.TestOutput(t)
	e := New(c, out, WithLogger(quietLogger()))

	results, err := e.Run(context.Background(), filter.Identities(recs))
	if !errors.Is(err, apperr.ErrBatchUnreadable) {
		t.Fatalf("err = %v, want ErrBatchUnreadable", err)
	}
	if len(results) != 3 {
		t.Errorf("len = %d", len(results))
	}
}

func TestScenario_OutputDirectoryReplaced(t *testing.T) {
	root, recs := photoBackup(t, false, 3, 3)
	c, err := backup.Open(root)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(t.TempDir(), "out")
	out, err := storage.Create(dir)
	if err != nil {
		t.Fatal(err)
	}
	// A regular file where the output directory was makes every write fail.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	e := New(c, out, WithLogger(quietLogger()))

	results, err := e.Run(context.Background(), filter.Identities(recs))
	if !errors.Is(err, apperr.ErrIO) {
		t.Fatalf("err = %v, want ErrIO", err)
	}
	if len(results) != 0 {
		t.Errorf("len = %d, want 0", len(results))
	}
}
