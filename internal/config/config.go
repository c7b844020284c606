package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	jsonParser "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/junevm/nctfancontrol/internal/logger"
)

// Profiles, in the order the UI lists them.
const (
	ProfileAuto      = 1 // SMART FAN IV with AutoCurve
	ProfileBasic     = 2 // fixed manual duty
	ProfileAdvanced  = 3 // SMART FAN IV with AdvCurve
	ProfileFullSpeed = 4 // pwm_enable 0
)

// ProfileNames maps profile numbers to display names.
var ProfileNames = []string{"Auto", "Basic", "Advanced", "Full Speed"}

// MaxChannels is the number of PWM outputs on the NCT6798D.
const MaxChannels = 7

// Curve is a SMART FAN IV curve. Temps[i] (°C) maps to Duty[i] (%).
type Curve struct {
	Temps []int `koanf:"TEMPS" json:"TEMPS"`
	Duty  []int `koanf:"DUTY" json:"DUTY"`
}

// SuperIO configures the raw register probe.
type SuperIO struct {
	// Ports are the index ports to probe, in order.
	Ports []int `koanf:"PORTS" json:"PORTS"`

	// ExpectedID is the chip ID being looked for. 0 accepts any chip.
	ExpectedID int `koanf:"EXPECTED_ID" json:"EXPECTED_ID"`

	// Device is the logical device whose base address is read (0x0B = HWM).
	Device int `koanf:"DEVICE" json:"DEVICE"`

	// LockDir holds the per-port lock files. Empty disables them.
	LockDir string `koanf:"LOCK_DIR" json:"LOCK_DIR"`
}

// Config holds the application configuration.
//
// The struct tags `koanf` are used by the configuration loader to map JSON keys to struct fields.
// The `json` tags are used when saving the configuration back to disk.
type Config struct {
	// Profile is one of the Profile* constants.
	Profile int `koanf:"PROFILE" json:"PROFILE"`

	// Channels lists the pwm<N> outputs the profile is applied to.
	Channels []int `koanf:"CHANNELS" json:"CHANNELS"`

	AutoCurve Curve `koanf:"AUTO_CURVE" json:"AUTO_CURVE"`
	AdvCurve  Curve `koanf:"ADV_CURVE" json:"ADV_CURVE"`

	// BasicDuty is the fixed duty in percent for the Basic profile.
	BasicDuty int `koanf:"BASIC_DUTY" json:"BASIC_DUTY"`

	// MinDuty is the floor for every duty written, so a fan is never stopped
	// by a typo.
	MinDuty int `koanf:"MIN_DUTY" json:"MIN_DUTY"`

	// Chip is the hwmon name prefix of the device to drive.
	Chip string `koanf:"CHIP" json:"CHIP"`

	// HwmonRoot is where hwmon devices are listed.
	HwmonRoot string `koanf:"HWMON_ROOT" json:"HWMON_ROOT"`

	SuperIO SuperIO       `koanf:"SUPERIO" json:"SUPERIO"`
	Log     logger.Config `koanf:"LOG" json:"LOG"`
}

// DefaultConfig returns the defaults for an NCT6798D board.
// The curves are conservative: fans never drop below 25 %.
func DefaultConfig() Config {
	return Config{
		Profile:  ProfileAuto,
		Channels: []int{1, 2},
		AutoCurve: Curve{
			Temps: []int{30, 45, 60, 75, 85},
			Duty:  []int{30, 40, 60, 85, 100},
		},
		AdvCurve: Curve{
			Temps: []int{35, 50, 65, 75, 85},
			Duty:  []int{25, 35, 55, 80, 100},
		},
		BasicDuty: 50,
		MinDuty:   25,
		Chip:      "nct6798",
		HwmonRoot: "/sys/class/hwmon",
		SuperIO: SuperIO{
			Ports:      []int{0x2E, 0x4E},
			ExpectedID: 0xD428,
			Device:     0x0B,
			LockDir:    "/run/lock",
		},
		Log: logger.DefaultConfig(),
	}
}

// GetConfigDir returns the directory where the configuration file is stored.
// Usually ~/.config/NCTFanControl
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "NCTFanControl"), nil
}

// DefaultPath returns the full path of config.json.
func DefaultPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the configuration from the default path.
func Load() (Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return Config{}, err
	}
	return LoadFile(path)
}

// LoadFile merges the file at path over the defaults. A missing file just
// yields the defaults.
func LoadFile(path string) (Config, error) {
	k := koanf.New(".")

	// 1. Load Defaults
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("error loading default config: %w", err)
	}

	// 2. Load from File
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), jsonParser.Parser()); err != nil {
			return Config{}, fmt.Errorf("error loading config file: %w", err)
		}
	}

	// 3. Unmarshal into struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects structurally broken settings and clamps numeric ones
// into range.
func (c *Config) Validate() error {
	if c.Profile < ProfileAuto || c.Profile > ProfileFullSpeed {
		return fmt.Errorf("unknown profile: %d", c.Profile)
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("no pwm channels configured")
	}
	for _, ch := range c.Channels {
		if ch < 1 || ch > MaxChannels {
			return fmt.Errorf("pwm channel %d out of range 1-%d", ch, MaxChannels)
		}
	}
	if err := c.AutoCurve.check("AUTO_CURVE"); err != nil {
		return err
	}
	if err := c.AdvCurve.check("ADV_CURVE"); err != nil {
		return err
	}
	if len(c.SuperIO.Ports) == 0 {
		return fmt.Errorf("no super I/O ports configured")
	}
	for _, p := range c.SuperIO.Ports {
		if p <= 0 || p >= 0xFFFF {
			return fmt.Errorf("super I/O port 0x%X out of range", p)
		}
	}
	if c.SuperIO.ExpectedID < 0 || c.SuperIO.ExpectedID > 0xFFFF {
		return fmt.Errorf("expected chip ID 0x%X out of range", c.SuperIO.ExpectedID)
	}
	if c.SuperIO.Device < 0 || c.SuperIO.Device > 0xFF {
		return fmt.Errorf("logical device 0x%X out of range", c.SuperIO.Device)
	}

	c.MinDuty = clamp(c.MinDuty, 0, 100)
	c.BasicDuty = clamp(c.BasicDuty, c.MinDuty, 100)
	return nil
}

func (c Curve) check(name string) error {
	if len(c.Temps) == 0 || len(c.Temps) != len(c.Duty) {
		return fmt.Errorf("%s: need matching non-empty TEMPS and DUTY, got %d and %d",
			name, len(c.Temps), len(c.Duty))
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Save writes cfg to the default path.
func Save(cfg Config) error {
	path, err := DefaultPath()
	if err != nil {
		return err
	}
	return SaveFile(path, cfg)
}

// SaveFile writes cfg to path as indented JSON.
func SaveFile(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	// We use standard json marshal here because koanf is primarily for reading/merging.
	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
