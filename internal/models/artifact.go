package models

import "time"

// ArtifactKind identifies which parser understands an artifact.
type ArtifactKind string

// Artifact kinds known to the catalog.
const (
	KindPhotos       ArtifactKind = "photos"
	KindDataUsage    ArtifactKind = "data_usage"
	KindAddressBook  ArtifactKind = "address_book"
	KindAccounts     ArtifactKind = "accounts"
	KindMessages     ArtifactKind = "messages"
	KindPermissions  ArtifactKind = "permissions"
	KindCallHistory  ArtifactKind = "call_history"
	KindCellular     ArtifactKind = "cellular_usage"
	KindKeychain     ArtifactKind = "keychain"
	KindNotes        ArtifactKind = "notes"
	KindInteractions ArtifactKind = "interactions"
	KindSafari       ArtifactKind = "safari_history"
	KindVoicemail    ArtifactKind = "voicemail"
)

// ArtifactSpec is an entry of the artifact catalog.
type ArtifactSpec struct {
	FileID   string       `json:"file_id"`
	Label    string       `json:"label"`
	Filename string       `json:"filename"`
	Kind     ArtifactKind `json:"kind"`
}

// Identity returns the logical identity used to extract the artifact.
func (a ArtifactSpec) Identity() Identity {
	return Identity{FileID: a.FileID, DisplayName: a.Filename}
}

// CatalogRecord is one photo of the media catalog with its scene
// classification. Confidence is an integer percentage in [0,100].
type CatalogRecord struct {
	Path                string    `json:"path"`
	Filename            string    `json:"filename"`
	SceneClassification string    `json:"scene_classification"`
	Confidence          int       `json:"confidence"`
	DateCreated         time.Time `json:"date_created"`
	DateAdded           time.Time `json:"date_added"`
}

// RelativePath returns the path of the record below the Media/ directory.
func (r CatalogRecord) RelativePath() string {
	if r.Path == "" {
		return r.Filename
	}
	return r.Path + "/" + r.Filename
}

// DeviceInfo describes the device a backup was taken from.
type DeviceInfo struct {
	DeviceName   string `json:"device_name,omitempty"`
	ProductType  string `json:"product_type,omitempty"`
	IOSVersion   string `json:"ios_version,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	IMEI         string `json:"imei,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`
}
