package device

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Text topics pushed to visualization sinks.
const (
	TopicInfo    = "device/info"
	TopicConfig  = "device/config"
	TopicBattery = "device/battery"
	TopicError   = "device/error"
)

// DescribeInfo renders the identification document shown next to the plots.
func DescribeInfo(info DeviceInfo, connectedAt time.Time) string {
	return fmt.Sprintf("Hardware: %s\nFirmware: %s\nSerial: %s\nConnected: %s",
		info.HardwareVersion, info.FirmwareVersion, info.SerialNumber,
		connectedAt.Format(time.DateTime))
}

// DescribeConfig renders the active front-end configuration.
func DescribeConfig(cfg AdsConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sample Rate: %s (%g Hz)\n", cfg.SampleRate, cfg.SampleRate.Hz())
	fmt.Fprintf(&b, "Channels: %d active of %d\n", cfg.ActiveChannels(), len(cfg.Channels))
	for i, ch := range cfg.Channels {
		state := "on"
		if ch.PowerDown {
			state = "off"
		}
		fmt.Fprintf(&b, "  ch%d: %s gain=%s mux=%s\n", i, state, ch.Gain, ch.Mux)
	}
	return b.String()
}

// DescribeBattery renders a battery reading.
func DescribeBattery(l BatteryLevel) string {
	s := fmt.Sprintf("Battery: %d%% (%d mV)", l.Percentage, l.VoltageMV)
	if l.Charging {
		s += ", charging"
	}
	return s
}

// DescribeError renders a session failure, naming its class.
func DescribeError(err error) string {
	var connErr *ConnectionError
	var commErr *CommunicationError
	switch {
	case errors.As(err, &connErr):
		return "Connection error: " + err.Error()
	case errors.As(err, &commErr):
		return "Communication error: " + err.Error()
	default:
		return "Unexpected error: " + err.Error()
	}
}
