package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/perthro/internal/address"
	"github.com/starford/perthro/internal/catalog"
	"github.com/starford/perthro/internal/models"
)

// MacEpoch is the reference date of Mac absolute time.
var MacEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// Asset is one photo of a synthetic Photos.sqlite.
type Asset struct {
	Directory string
	Filename  string
	Created   time.Time
	Added     time.Time
	// Scenes maps taxonomy IDs to raw confidences in [0,1].
	Scenes map[int64]float64
}

// PhotosDB writes a Photos.sqlite with the given assets into dir.
func PhotosDB(t *testing.T, dir string, assets []Asset) string {
	t.Helper()
	p := filepath.Join(dir, "Photos.sqlite")
	db, err := sql.Open("sqlite3", p)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Exec(`
		CREATE TABLE ZASSET (Z_PK INTEGER PRIMARY KEY, ZDIRECTORY TEXT, ZFILENAME TEXT, ZDATECREATED REAL, ZADDEDDATE REAL);
		CREATE TABLE ZADDITIONALASSETATTRIBUTES (Z_PK INTEGER PRIMARY KEY, ZASSET INTEGER);
		CREATE TABLE ZSCENECLASSIFICATION (Z_PK INTEGER PRIMARY KEY, ZASSETATTRIBUTES INTEGER, ZSCENEIDENTIFIER INTEGER, ZCONFIDENCE REAL);
	`); err != nil {
		t.Fatal(err)
	}
	for i, a := range assets {
		pk := i + 1
		if _, err := db.Exec(`INSERT INTO ZASSET VALUES (?, ?, ?, ?, ?)`,
			pk, a.Directory, a.Filename, a.Created.Sub(MacEpoch).Seconds(), a.Added.Sub(MacEpoch).Seconds()); err != nil {
			t.Fatal(err)
		}
		if _, err := db.Exec(`INSERT INTO ZADDITIONALASSETATTRIBUTES VALUES (?, ?)`, pk, pk); err != nil {
			t.Fatal(err)
		}
		for scene, conf := range a.Scenes {
			if _, err := db.Exec(`INSERT INTO ZSCENECLASSIFICATION (ZASSETATTRIBUTES, ZSCENEIDENTIFIER, ZCONFIDENCE) VALUES (?, ?, ?)`,
				pk, scene, conf); err != nil {
				t.Fatal(err)
			}
		}
	}
	return p
}

// PhotoCase builds a manifest container whose photo library holds n photos
// classified as firearm with the given raw confidence, plus one document
// photo. Only the first present photos are stored in the container.
func PhotoCase(t *testing.T, n, present int, confidence float64) string {
	t.Helper()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var assets []Asset
	var files []File
	for i := range n {
		name := fmt.Sprintf("IMG_%04d.JPG", i)
		assets = append(assets, Asset{
			Directory: "DCIM/100APPLE", Filename: name, Created: now, Added: now,
			Scenes: map[int64]float64{554: confidence},
		})
		if i < present {
			files = append(files, File{
				Domain:       address.CameraRollDomain,
				RelativePath: "Media/DCIM/100APPLE/" + name,
				Content:      []byte(name),
			})
		}
	}
	assets = append(assets, Asset{
		Directory: "DCIM/100APPLE", Filename: "DOC.JPG", Created: now, Added: now,
		Scenes: map[int64]float64{492: 0.9},
	})

	lib, err := os.ReadFile(PhotosDB(t, t.TempDir(), assets))
	if err != nil {
		t.Fatal(err)
	}
	files = append(files, File{
		Domain:       address.CameraRollDomain,
		RelativePath: "Media/PhotoData/Photos.sqlite",
		StorageID:    catalog.ByKind(models.KindPhotos)[0].FileID,
		Content:      lib,
	})
	return NewBackup(t, Backup{Manifest: true, Files: files})
}
