package catalog

import (
	"testing"

	"github.com/starford/perthro/internal/address"
	"github.com/starford/perthro/internal/models"
)

func TestAll_WellFormed(t *testing.T) {
	all := All()
	if len(all) != 14 {
		t.Fatalf("len = %d, want 14", len(all))
	}
	ids := make(map[string]bool)
	names := make(map[string]bool)
	for _, a := range all {
		if !address.IsFileID(a.FileID) {
			t.Errorf("%s: bad file ID %q", a.Filename, a.FileID)
		}
		if ids[a.FileID] {
			t.Errorf("duplicate file ID %s", a.FileID)
		}
		if names[a.Filename] {
			t.Errorf("duplicate filename %s", a.Filename)
		}
		ids[a.FileID] = true
		names[a.Filename] = true
	}
}

func TestAll_ReturnsCopy(t *testing.T) {
	a := All()
	a[0].Filename = "changed"
	if All()[0].Filename != "Photos.sqlite" {
		t.Fatal("catalog table was mutated through All")
	}
}

func TestSMSMatchesAddress(t *testing.T) {
	want, err := address.Address("HomeDomain", "Library/SMS/sms.db")
	if err != nil {
		t.Fatal(err)
	}
	a, ok := ByFilename("sms.db")
	if !ok || a.FileID != want {
		t.Errorf("sms.db = %+v, want file ID %s", a, want)
	}
}

func TestLookups(t *testing.T) {
	a, ok := ByFileID("12b144c0bd44f2b3dffd9186d3f9c05b917cee25")
	if !ok || a.Kind != models.KindPhotos {
		t.Errorf("ByFileID photos = %+v, %v", a, ok)
	}
	if _, ok := ByFileID("0000000000000000000000000000000000000000"); ok {
		t.Error("unknown file ID found")
	}
	if got := ByKind(models.KindSafari); len(got) != 2 {
		t.Errorf("safari entries = %d, want 2", len(got))
	}
	if got := ByKind("unknown"); got == nil || len(got) != 0 {
		t.Errorf("unknown kind = %#v, want empty", got)
	}
}

func TestIdentities(t *testing.T) {
	ids := Identities()
	all := All()
	if len(ids) != len(all) {
		t.Fatalf("len = %d, want %d", len(ids), len(all))
	}
	for i, id := range ids {
		if id.FileID != all[i].FileID || id.Filename() != all[i].Filename {
			t.Errorf("ids[%d] = %+v", i, id)
		}
	}
}
