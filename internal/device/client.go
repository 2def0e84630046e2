package device

import (
	"context"

	"dcmini-stream/internal/stream"
)

// DeviceInfo identifies the connected hardware.
type DeviceInfo struct {
	HardwareVersion string `json:"hw_version"`
	FirmwareVersion string `json:"fw_version"`
	SerialNumber    string `json:"serial_number"`
}

// BatteryLevel is a battery reading.
type BatteryLevel struct {
	Percentage uint8  `json:"percentage"`
	VoltageMV  uint16 `json:"voltage_mv"`
	Charging   bool   `json:"charging"`
}

// FrameHandler receives channel-major frames on the device I/O goroutine.
// It must not block for long; frames that arrive while it runs wait.
type FrameHandler func(stream.Frame)

// Client is the command and streaming surface of one acquisition device.
//
// Methods fail with *ConnectionError when the link is gone and with
// *CommunicationError when a single exchange fails.
type Client interface {
	IsConnected() bool

	DeviceInfo(ctx context.Context) (DeviceInfo, error)
	BatteryLevel(ctx context.Context) (BatteryLevel, error)

	AdsConfig(ctx context.Context) (AdsConfig, error)
	SetAdsConfig(ctx context.Context, cfg AdsConfig) (bool, error)
	ResetAdsConfig(ctx context.Context) (bool, error)

	SessionID(ctx context.Context) (string, error)
	SetSessionID(ctx context.Context, id string) (bool, error)
	SessionStatus(ctx context.Context) (bool, error)

	// StartStreaming begins frame delivery to h and returns the active
	// front-end configuration. h is called from a goroutine owned by the
	// client until StopStreaming returns.
	StartStreaming(ctx context.Context, h FrameHandler) (AdsConfig, error)
	StopStreaming(ctx context.Context) error
}
