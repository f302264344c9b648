package backup

import (
	"fmt"
	"os"
	"time"

	"howett.net/plist"

	"github.com/starford/perthro/internal/models"
)

// Well-known files at the container root.
const (
	ManifestPlist = "Manifest.plist"
	ManifestDB    = "Manifest.db"
	InfoPlist     = "Info.plist"
)

// Descriptor is the subset of Manifest.plist the container cares about.
// Missing keys decode to their zero values, so an absent IsEncrypted is false.
type Descriptor struct {
	IsEncrypted    bool      `plist:"IsEncrypted"`
	Version        string    `plist:"Version"`
	Date           time.Time `plist:"Date"`
	WasPasscodeSet bool      `plist:"WasPasscodeSet"`
	Lockdown       Lockdown  `plist:"Lockdown"`
}

// Lockdown carries the device identifiers embedded in Manifest.plist.
type Lockdown struct {
	DeviceName     string `plist:"DeviceName"`
	ProductType    string `plist:"ProductType"`
	ProductVersion string `plist:"ProductVersion"`
	SerialNumber   string `plist:"SerialNumber"`
	UniqueDeviceID string `plist:"UniqueDeviceID"`
}

type infoPlist struct {
	DeviceName     string `plist:"Device Name"`
	ProductType    string `plist:"Product Type"`
	ProductVersion string `plist:"Product Version"`
	SerialNumber   string `plist:"Serial Number"`
	IMEI           string `plist:"IMEI"`
	PhoneNumber    string `plist:"Phone Number"`
}

func readDescriptor(path string) (Descriptor, error) {
	var d Descriptor
	data, err := os.ReadFile(path)
	if err != nil {
		return d, fmt.Errorf("backup: read descriptor: %w", err)
	}
	if _, err := plist.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("backup: parse descriptor: %w", err)
	}
	return d, nil
}

func readDeviceInfo(path string) (models.DeviceInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.DeviceInfo{}, fmt.Errorf("backup: read info: %w", err)
	}
	var info infoPlist
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return models.DeviceInfo{}, fmt.Errorf("backup: parse info: %w", err)
	}
	return models.DeviceInfo{
		DeviceName:   info.DeviceName,
		ProductType:  info.ProductType,
		IOSVersion:   info.ProductVersion,
		SerialNumber: info.SerialNumber,
		IMEI:         info.IMEI,
		PhoneNumber:  info.PhoneNumber,
	}, nil
}
