package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/perthro/internal/address"
	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/models"
	"github.com/starford/perthro/internal/storage"
	"github.com/starford/perthro/internal/testutil"
)

const smsID = "3d0d7e5fb2ce288813306e4d4636395e047a3d28"

func openOrFail(t *testing.T, root string, opts ...Option) *Container {
	t.Helper()
	c, err := Open(root, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c
}

func TestOpen_NotABackup(t *testing.T) {
	empty := t.TempDir()
	if _, err := Open(empty); !errors.Is(err, apperr.ErrNotABackup) {
		t.Errorf("empty dir: got %v, want ErrNotABackup", err)
	}

	if _, err := Open(filepath.Join(empty, "missing")); !errors.Is(err, apperr.ErrNotABackup) {
		t.Errorf("missing dir: got %v, want ErrNotABackup", err)
	}

	file := filepath.Join(empty, "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(file); !errors.Is(err, apperr.ErrNotABackup) {
		t.Errorf("regular file: got %v, want ErrNotABackup", err)
	}
}

func TestOpen_CorruptDescriptor(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ManifestPlist), []byte("not a plist"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(root); !errors.Is(err, apperr.ErrNotABackup) {
		t.Errorf("got %v, want ErrNotABackup", err)
	}
}

func TestOpen_DetectsLayout(t *testing.T) {
	legacy := openOrFail(t, testutil.NewBackup(t, testutil.Backup{}))
	if legacy.Layout() != Legacy {
		t.Errorf("layout = %v, want legacy", legacy.Layout())
	}

	modern := openOrFail(t, testutil.NewBackup(t, testutil.Backup{Manifest: true}))
	if modern.Layout() != ManifestBased {
		t.Errorf("layout = %v, want manifest", modern.Layout())
	}

	enc := openOrFail(t, testutil.NewBackup(t, testutil.Backup{Encrypted: true}))
	if enc.Layout() != ManifestBased || !enc.Encrypted() {
		t.Errorf("encrypted container: layout=%v encrypted=%v", enc.Layout(), enc.Encrypted())
	}
}

func TestResolve_Legacy(t *testing.T) {
	root := testutil.NewBackup(t, testutil.Backup{Files: []testutil.File{
		{Domain: "HomeDomain", RelativePath: "Library/SMS/sms.db", Content: []byte("sms")},
	}})
	c := openOrFail(t, root)

	loc, err := c.Resolve(context.Background(), models.FileIdentity(smsID, "sms.db"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if loc.StorageID != smsID || loc.Path != filepath.Join(c.Root(), smsID) {
		t.Errorf("location = %+v", loc)
	}

	_, err = c.Resolve(context.Background(), models.FileIdentity("ffffffffffffffffffffffffffffffffffffffff", "x"))
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing file: got %v, want ErrNotFound", err)
	}
}

func TestResolve_ManifestMapsToStorageID(t *testing.T) {
	root := testutil.NewBackup(t, testutil.Backup{Manifest: true, Files: []testutil.File{
		{Domain: "HomeDomain", RelativePath: "Library/SMS/sms.db", StorageID: "abcd1234", Content: []byte("sms")},
	}})
	c := openOrFail(t, root)

	loc, err := c.Resolve(context.Background(), models.FileIdentity(smsID, "sms.db"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := filepath.Join(c.Root(), "ab", "abcd1234")
	if loc.StorageID != "abcd1234" || loc.Path != want {
		t.Errorf("location = %+v, want storage abcd1234 at %s", loc, want)
	}

	byPath := models.PathIdentity("HomeDomain", "Library/SMS/sms.db")
	loc2, err := c.Resolve(context.Background(), byPath)
	if err != nil {
		t.Fatalf("Resolve by path: %v", err)
	}
	if loc2 != loc {
		t.Errorf("path identity resolved to %+v, want %+v", loc2, loc)
	}
}

func TestResolve_ManifestFlatFile(t *testing.T) {
	root := testutil.NewBackup(t, testutil.Backup{Manifest: true, Files: []testutil.File{
		{Domain: "HomeDomain", RelativePath: "Library/SMS/sms.db", Flat: true, Content: []byte("sms")},
	}})
	c := openOrFail(t, root)
	loc, err := c.Resolve(context.Background(), models.FileIdentity(smsID, ""))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if loc.Path != filepath.Join(c.Root(), smsID) {
		t.Errorf("path = %s", loc.Path)
	}
}

func TestResolve_ManifestSkipsDirectories(t *testing.T) {
	root := testutil.NewBackup(t, testutil.Backup{Manifest: true})
	dirID, _ := address.Address("CameraRollDomain", "Media/DCIM")
	testutil.AddDirectoryRow(t, root, dirID, "CameraRollDomain", "Media/DCIM")
	c := openOrFail(t, root)

	_, err := c.Resolve(context.Background(), models.FileIdentity(dirID, ""))
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("directory row: got %v, want ErrNotFound", err)
	}
}

func TestQueryManifest(t *testing.T) {
	root := testutil.NewBackup(t, testutil.Backup{Manifest: true, Files: []testutil.File{
		{Domain: "HomeDomain", RelativePath: "Library/SMS/sms.db", StorageID: "abcd1234", NoData: true},
	}})
	c := openOrFail(t, root)

	got, err := c.QueryManifest(context.Background(), models.FileIdentity(smsID, ""))
	if err != nil {
		t.Fatalf("QueryManifest: %v", err)
	}
	if got != "abcd1234" {
		t.Errorf("storage ID = %q, want abcd1234", got)
	}

	_, err = c.QueryManifest(context.Background(), models.PathIdentity("HomeDomain", "nope"))
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown: got %v, want ErrNotFound", err)
	}

	legacy := openOrFail(t, testutil.NewBackup(t, testutil.Backup{}))
	if _, err := legacy.QueryManifest(context.Background(), models.FileIdentity(smsID, "")); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("legacy: got %v, want ErrNotFound", err)
	}
}

func TestLookup(t *testing.T) {
	root := testutil.NewBackup(t, testutil.Backup{Manifest: true, Files: []testutil.File{
		{Domain: "HomeDomain", RelativePath: "Library/SMS/sms.db", Content: []byte("sms")},
	}})
	c := openOrFail(t, root)
	e, err := c.Lookup(context.Background(), models.FileIdentity(smsID, ""))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if e.Domain != "HomeDomain" || e.RelativePath != "Library/SMS/sms.db" || e.Flags != FlagFile {
		t.Errorf("entry = %+v", e)
	}
}

func TestBuildIndex_MissingManifest(t *testing.T) {
	root := testutil.NewBackup(t, testutil.Backup{Manifest: true})
	c := openOrFail(t, root, WithManifestPath(filepath.Join(root, "gone.db")))
	if err := c.BuildIndex(context.Background()); err == nil {
		t.Fatal("expected error for missing manifest")
	}
	// The first result sticks.
	if err := c.BuildIndex(context.Background()); err == nil {
		t.Fatal("expected cached error")
	}
}

func TestExtractTo(t *testing.T) {
	root := testutil.NewBackup(t, testutil.Backup{Files: []testutil.File{
		{Domain: "HomeDomain", RelativePath: "Library/SMS/sms.db", Content: []byte("sms body")},
	}})
	c := openOrFail(t, root)
	outDir, out := testutil.TestOutput(t)

	n, err := c.ExtractTo(context.Background(), smsID, out, "sms.db")
	if err != nil {
		t.Fatalf("ExtractTo: %v", err)
	}
	if n != int64(len("sms body")) {
		t.Errorf("n = %d", n)
	}
	data, err := os.ReadFile(filepath.Join(outDir, "sms.db"))
	if err != nil || string(data) != "sms body" {
		t.Errorf("extracted %q, %v", data, err)
	}

	_, err = c.ExtractTo(context.Background(), "ffffffffffffffffffffffffffffffffffffffff", out, "x")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing: got %v, want ErrNotFound", err)
	}
}

func TestExtractTo_EncryptedIsSourceError(t *testing.T) {
	root := testutil.NewBackup(t, testutil.Backup{Encrypted: true})
	c := openOrFail(t, root)
	_, out := testutil.TestOutput(t)

	_, err := c.ExtractTo(context.Background(), smsID, out, "sms.db")
	if !storage.IsSourceError(err) {
		t.Fatalf("got %v, want source error", err)
	}
	if !errors.Is(err, apperr.ErrEncrypted) {
		t.Errorf("got %v, want ErrEncrypted", err)
	}
	if errors.Is(err, apperr.ErrIO) {
		t.Error("encrypted read must not be an environment fault")
	}
}

func TestExtractTo_Cancelled(t *testing.T) {
	c := openOrFail(t, testutil.NewBackup(t, testutil.Backup{}))
	_, out := testutil.TestOutput(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ExtractTo(ctx, smsID, out, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestDeviceInfo(t *testing.T) {
	root := testutil.NewBackup(t, testutil.Backup{Device: map[string]string{
		"Device Name":   "Alice's iPhone",
		"Product Type":  "iPhone14,2",
		"Serial Number": "F2LXX",
		"IMEI":          "356789",
		"Phone Number":  "+1 555 0100",
	}})
	c := openOrFail(t, root)
	info, err := c.DeviceInfo()
	if err != nil {
		t.Fatalf("DeviceInfo: %v", err)
	}
	if info.DeviceName != "Alice's iPhone" || info.ProductType != "iPhone14,2" || info.IMEI != "356789" {
		t.Errorf("info = %+v", info)
	}
	// Product Version is absent from Info.plist and comes from the descriptor.
	if info.IOSVersion != "17.4" {
		t.Errorf("IOSVersion = %q, want 17.4", info.IOSVersion)
	}
}

func TestDeviceInfo_DescriptorOnly(t *testing.T) {
	c := openOrFail(t, testutil.NewBackup(t, testutil.Backup{}))
	info, err := c.DeviceInfo()
	if err != nil {
		t.Fatalf("DeviceInfo: %v", err)
	}
	if info.DeviceName != "Test iPhone" {
		t.Errorf("DeviceName = %q", info.DeviceName)
	}
}
