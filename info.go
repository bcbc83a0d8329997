package sbrick

import (
	"context"
	"fmt"
	"strings"

	"github.com/SeamusWaldron/sbrick_ble_library/internal/protocol"
)

// InfoField names a Device Information string.
type InfoField string

const (
	InfoModelNumber      InfoField = "model"
	InfoFirmwareRevision InfoField = "firmware"
	InfoHardwareRevision InfoField = "hardware"
	InfoSoftwareRevision InfoField = "software"
	InfoManufacturerName InfoField = "manufacturer"
)

var infoCharacteristics = map[InfoField]string{
	InfoModelNumber:      protocol.ModelNumberCharUUID,
	InfoFirmwareRevision: protocol.FirmwareRevisionCharUUID,
	InfoHardwareRevision: protocol.HardwareRevisionCharUUID,
	InfoSoftwareRevision: protocol.SoftwareRevisionCharUUID,
	InfoManufacturerName: protocol.ManufacturerNameCharUUID,
}

// DeviceInfo holds the Device Information service strings.
type DeviceInfo struct {
	ModelNumber      string `json:"model_number"`
	FirmwareRevision string `json:"firmware_revision"`
	HardwareRevision string `json:"hardware_revision"`
	SoftwareRevision string `json:"software_revision"`
	ManufacturerName string `json:"manufacturer_name"`
}

func (s *SBrick) readInfo(ctx context.Context, uuid string) (string, error) {
	data, err := s.submit(ctx, "device_info", func(ctx context.Context) ([]byte, error) {
		return s.t.ReadCharacteristic(ctx, uuid)
	}, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\x00"), nil
}

// Info reads one Device Information string. Unknown fields return
// ErrWrongInput.
func (s *SBrick) Info(ctx context.Context, field InfoField) (string, error) {
	uuid, ok := infoCharacteristics[field]
	if !ok {
		return "", fmt.Errorf("%w: device info %q", ErrWrongInput, field)
	}
	if err := s.requireConnected(); err != nil {
		return "", err
	}
	return s.readInfo(ctx, uuid)
}

// DeviceInfo reads every Device Information string.
func (s *SBrick) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	var info DeviceInfo
	fields := []struct {
		field InfoField
		dst   *string
	}{
		{InfoModelNumber, &info.ModelNumber},
		{InfoFirmwareRevision, &info.FirmwareRevision},
		{InfoHardwareRevision, &info.HardwareRevision},
		{InfoSoftwareRevision, &info.SoftwareRevision},
		{InfoManufacturerName, &info.ManufacturerName},
	}
	for _, f := range fields {
		v, err := s.Info(ctx, f.field)
		if err != nil {
			return DeviceInfo{}, fmt.Errorf("failed to read %s: %w", f.field, err)
		}
		*f.dst = v
	}
	return info, nil
}

// ModelNumber returns the model number string.
func (s *SBrick) ModelNumber(ctx context.Context) (string, error) {
	return s.Info(ctx, InfoModelNumber)
}

// FirmwareVersion returns the firmware revision string.
func (s *SBrick) FirmwareVersion(ctx context.Context) (string, error) {
	return s.Info(ctx, InfoFirmwareRevision)
}

// HardwareVersion returns the hardware revision string.
func (s *SBrick) HardwareVersion(ctx context.Context) (string, error) {
	return s.Info(ctx, InfoHardwareRevision)
}

// SoftwareVersion returns the software revision string.
func (s *SBrick) SoftwareVersion(ctx context.Context) (string, error) {
	return s.Info(ctx, InfoSoftwareRevision)
}

// ManufacturerName returns the manufacturer name string.
func (s *SBrick) ManufacturerName(ctx context.Context) (string, error) {
	return s.Info(ctx, InfoManufacturerName)
}
