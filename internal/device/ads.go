package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxChannels is the most channels one front end (with daisy chaining) reports.
const MaxChannels = 16

// SampleRate is the front-end output data rate.
type SampleRate int

const (
	Sps250 SampleRate = iota
	Sps500
	KSps1
	KSps2
	KSps4
	KSps8
	KSps16
)

var sampleRateNames = []string{"250sps", "500sps", "1ksps", "2ksps", "4ksps", "8ksps", "16ksps"}

// Hz returns the rate in samples per second, or 0 for an unknown rate.
func (r SampleRate) Hz() float64 {
	if !r.IsValid() {
		return 0
	}
	return 250 * float64(int(1)<<r)
}

// Interval is the time between two consecutive samples.
func (r SampleRate) Interval() time.Duration {
	hz := r.Hz()
	if hz == 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}

func (r SampleRate) IsValid() bool {
	return r >= Sps250 && r <= KSps16
}

func (r SampleRate) String() string {
	if !r.IsValid() {
		return fmt.Sprintf("SampleRate(%d)", int(r))
	}
	return sampleRateNames[r]
}

func (r SampleRate) MarshalText() ([]byte, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("invalid sample rate %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *SampleRate) UnmarshalText(b []byte) error {
	i := slices.Index(sampleRateNames, string(b))
	if i < 0 {
		return fmt.Errorf("unknown sample rate %q; valid values: %v", b, sampleRateNames)
	}
	*r = SampleRate(i)
	return nil
}

// Gain is the programmable amplifier gain of one channel.
type Gain int

const (
	X1 Gain = iota
	X2
	X4
	X6
	X8
	X12
	X24
)

var gainFactors = []float64{1, 2, 4, 6, 8, 12, 24}

// Factor returns the amplification, or 0 for an unknown gain.
func (g Gain) Factor() float64 {
	if g < X1 || g > X24 {
		return 0
	}
	return gainFactors[g]
}

func (g Gain) String() string {
	if f := g.Factor(); f != 0 {
		return fmt.Sprintf("x%d", int(f))
	}
	return fmt.Sprintf("Gain(%d)", int(g))
}

func (g Gain) MarshalText() ([]byte, error) {
	if g.Factor() == 0 {
		return nil, fmt.Errorf("invalid gain %d", int(g))
	}
	return []byte(g.String()), nil
}

func (g *Gain) UnmarshalText(b []byte) error {
	for i := range gainFactors {
		if Gain(i).String() == string(b) {
			*g = Gain(i)
			return nil
		}
	}
	return fmt.Errorf("unknown gain %q; valid values: x1, x2, x4, x6, x8, x12, x24", b)
}

// Mux selects what a channel's inputs are connected to.
type Mux string

const (
	MuxNormal      Mux = "normal"
	MuxShorted     Mux = "shorted"
	MuxRldMeasure  Mux = "rld_measure"
	MuxMVDD        Mux = "mvdd"
	MuxTemperature Mux = "temperature"
	MuxTestSignal  Mux = "test_signal"
	MuxRldDrp      Mux = "rld_drp"
	MuxRldDrn      Mux = "rld_drn"
)

// Allowed values of the remaining enumerated register fields.
var (
	validMux = []Mux{MuxNormal, MuxShorted, MuxRldMeasure, MuxMVDD, MuxTemperature, MuxTestSignal, MuxRldDrp, MuxRldDrn}

	validCalFreq       = []string{"fclk_by_21", "fclk_by_20", "dc"}
	validCompThreshPos = []string{"95", "92.5", "90", "87.5", "85", "80", "75", "70"}
	validLeadOffCurr   = []string{"6nA", "24nA", "6uA", "24uA"}
	validLeadOffFreq   = []string{"dc", "ac_7_8", "ac_31_2", "ac_fdr_by_4"}
)

// ChannelConfig is the per-channel part of AdsConfig.
type ChannelConfig struct {
	PowerDown    bool `yaml:"power_down" json:"power_down"`
	Gain         Gain `yaml:"gain" json:"gain"`
	SRB2         bool `yaml:"srb2" json:"srb2"`
	Mux          Mux  `yaml:"mux" json:"mux"`
	BiasSensP    bool `yaml:"bias_sensp" json:"bias_sensp"`
	BiasSensN    bool `yaml:"bias_sensn" json:"bias_sensn"`
	LeadOffSensP bool `yaml:"lead_off_sensp" json:"lead_off_sensp"`
	LeadOffSensN bool `yaml:"lead_off_sensn" json:"lead_off_sensn"`
	LeadOffFlip  bool `yaml:"lead_off_flip" json:"lead_off_flip"`
}

// AdsConfig is the analog front-end configuration applied before streaming.
// Fields marked active low follow the register semantics.
type AdsConfig struct {
	DaisyEn                bool            `yaml:"daisy_en" json:"daisy_en"` // active low
	ClkEn                  bool            `yaml:"clk_en" json:"clk_en"`
	SampleRate             SampleRate      `yaml:"sample_rate" json:"sample_rate"`
	InternalCalibration    bool            `yaml:"internal_calibration" json:"internal_calibration"`
	CalibrationAmplitude   bool            `yaml:"calibration_amplitude" json:"calibration_amplitude"`
	CalibrationFrequency   string          `yaml:"calibration_frequency" json:"calibration_frequency"`
	PdRefBuf               bool            `yaml:"pd_refbuf" json:"pd_refbuf"` // active low
	BiasMeas               bool            `yaml:"bias_meas" json:"bias_meas"`
	BiasRefInt             bool            `yaml:"biasref_int" json:"biasref_int"`
	PdBias                 bool            `yaml:"pd_bias" json:"pd_bias"` // active low
	BiasLoffSens           bool            `yaml:"bias_loff_sens" json:"bias_loff_sens"`
	BiasStat               bool            `yaml:"bias_stat" json:"bias_stat"`
	ComparatorThresholdPos string          `yaml:"comparator_threshold_pos" json:"comparator_threshold_pos"`
	LeadOffCurrent         string          `yaml:"lead_off_current" json:"lead_off_current"`
	LeadOffFrequency       string          `yaml:"lead_off_frequency" json:"lead_off_frequency"`
	GPIOC                  [4]bool         `yaml:"gpioc" json:"gpioc"`
	SRB1                   bool            `yaml:"srb1" json:"srb1"`
	SingleShot             bool            `yaml:"single_shot" json:"single_shot"`
	PdLoffComp             bool            `yaml:"pd_loff_comp" json:"pd_loff_comp"` // active low
	Channels               []ChannelConfig `yaml:"channels" json:"channels"`
}

// DefaultAdsConfig returns the power-on configuration with numChannels
// normal electrode inputs at gain x24.
func DefaultAdsConfig(numChannels int) AdsConfig {
	cfg := AdsConfig{
		SampleRate:             Sps250,
		CalibrationFrequency:   "fclk_by_21",
		ComparatorThresholdPos: "95",
		LeadOffCurrent:         "6nA",
		LeadOffFrequency:       "dc",
	}
	for range numChannels {
		cfg.Channels = append(cfg.Channels, ChannelConfig{Gain: X24, Mux: MuxNormal})
	}
	return cfg
}

// ActiveChannels counts channels that are not powered down.
func (c AdsConfig) ActiveChannels() int {
	n := 0
	for _, ch := range c.Channels {
		if !ch.PowerDown {
			n++
		}
	}
	return n
}

// LoadAdsConfig reads and validates the YAML front-end configuration at path.
func LoadAdsConfig(path string) (AdsConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return AdsConfig{}, fmt.Errorf("ads config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := DecodeAdsConfig(f)
	if err != nil {
		return AdsConfig{}, fmt.Errorf("ads config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// DecodeAdsConfig decodes YAML from r over the register defaults and
// validates the result. Unknown keys are rejected.
func DecodeAdsConfig(r io.Reader) (AdsConfig, error) {
	cfg := DefaultAdsConfig(0)
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return AdsConfig{}, fmt.Errorf("decode yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AdsConfig{}, err
	}
	return cfg, nil
}

// Validate returns a joined error listing every invalid field.
func (c AdsConfig) Validate() error {
	var errs []error

	if !c.SampleRate.IsValid() {
		errs = append(errs, fmt.Errorf("sample_rate %d is invalid", int(c.SampleRate)))
	}
	if len(c.Channels) == 0 || len(c.Channels) > MaxChannels {
		errs = append(errs, fmt.Errorf("channels: need 1 to %d entries, got %d", MaxChannels, len(c.Channels)))
	}
	errs = append(errs,
		oneOf("calibration_frequency", c.CalibrationFrequency, validCalFreq),
		oneOf("comparator_threshold_pos", c.ComparatorThresholdPos, validCompThreshPos),
		oneOf("lead_off_current", c.LeadOffCurrent, validLeadOffCurr),
		oneOf("lead_off_frequency", c.LeadOffFrequency, validLeadOffFreq),
	)

	for i, ch := range c.Channels {
		if ch.Gain.Factor() == 0 {
			errs = append(errs, fmt.Errorf("channels[%d].gain %d is invalid", i, int(ch.Gain)))
		}
		if !slices.Contains(validMux, ch.Mux) {
			errs = append(errs, fmt.Errorf("channels[%d].mux %q is invalid; valid values: %v", i, ch.Mux, validMux))
		}
	}

	return errors.Join(errs...)
}

func oneOf(field, value string, valid []string) error {
	if slices.Contains(valid, value) {
		return nil
	}
	return fmt.Errorf("%s %q is invalid; valid values: %v", field, value, valid)
}
