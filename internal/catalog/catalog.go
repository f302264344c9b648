// Package catalog lists the well-known artifacts extracted from every backup.
package catalog

import (
	"slices"

	"github.com/starford/perthro/internal/models"
)

var table = []models.ArtifactSpec{
	{FileID: "12b144c0bd44f2b3dffd9186d3f9c05b917cee25", Label: "Photos", Filename: "Photos.sqlite", Kind: models.KindPhotos},
	{FileID: "0d609c54856a9bb2d56729df1d68f2958a88426b", Label: "Data usage", Filename: "DataUsage.sqlite", Kind: models.KindDataUsage},
	{FileID: "31bb7ba8914766d4ba40d6dfb6113c8b614be442", Label: "Contacts", Filename: "AddressBook.sqlitedb", Kind: models.KindAddressBook},
	{FileID: "943624fd13e27b800cc6d9ce1100c22356ee365c", Label: "Accounts", Filename: "Accounts3.sqlite", Kind: models.KindAccounts},
	{FileID: "3d0d7e5fb2ce288813306e4d4636395e047a3d28", Label: "Messages", Filename: "sms.db", Kind: models.KindMessages},
	{FileID: "64d0019cb3d46bfc8cce545a8ba54b93e7ea9347", Label: "Privacy permissions", Filename: "TCC.db", Kind: models.KindPermissions},
	{FileID: "5a4935c78a5255723f707230a451d79c540d2741", Label: "Call history", Filename: "CallHistory.storedata", Kind: models.KindCallHistory},
	{FileID: "ed1f8fb5a948b40504c19580a458c384659a605e", Label: "Cellular usage", Filename: "CellularUsage.db", Kind: models.KindCellular},
	{FileID: "51a4616e576dd33cd2abadfea874eb8ff246bf0e", Label: "Keychain", Filename: "keychain-backup.plist", Kind: models.KindKeychain},
	{FileID: "ca3bc056d4da0bbf88b5fb3be254f3b7147e639c", Label: "Notes", Filename: "notes.sqlite", Kind: models.KindNotes},
	{FileID: "1f5a521220a3ad80ebfdc196978df8e7a2e49dee", Label: "Interactions", Filename: "interactionC.db", Kind: models.KindInteractions},
	{FileID: "e74113c185fd8297e140cfcf9c99436c5cc06b57", Label: "Safari history (legacy)", Filename: "History.plist", Kind: models.KindSafari},
	{FileID: "1a0e7afc19d307da602ccdcece51af33afe92c53", Label: "Safari history", Filename: "History.db", Kind: models.KindSafari},
	{FileID: "992df473bbb9e132f4b3b6e4d33f72171e97bc7a", Label: "Voicemail", Filename: "voicemail.db", Kind: models.KindVoicemail},
}

// All returns a copy of the catalog in its fixed order.
func All() []models.ArtifactSpec {
	return slices.Clone(table)
}

// ByFileID returns the entry for fileID.
func ByFileID(fileID string) (models.ArtifactSpec, bool) {
	for _, a := range table {
		if a.FileID == fileID {
			return a, true
		}
	}
	return models.ArtifactSpec{}, false
}

// ByFilename returns the entry extracted under filename.
func ByFilename(filename string) (models.ArtifactSpec, bool) {
	for _, a := range table {
		if a.Filename == filename {
			return a, true
		}
	}
	return models.ArtifactSpec{}, false
}

// ByKind returns every entry of the given kind, in catalog order.
func ByKind(kind models.ArtifactKind) []models.ArtifactSpec {
	out := []models.ArtifactSpec{}
	for _, a := range table {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// Identities returns the extraction identities of the whole catalog.
func Identities() []models.Identity {
	ids := make([]models.Identity, len(table))
	for i, a := range table {
		ids[i] = a.Identity()
	}
	return ids
}
