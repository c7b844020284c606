// Package hwmon reads and writes the sysfs attributes the kernel's nct6775
// driver exposes for the chip.
//
// Each hwmon device is a directory such as /sys/class/hwmon/hwmon3 holding
// small text files. Every file contains one decimal integer:
//   - temp<N>_input: temperature in millidegrees Celsius
//   - fan<N>_input: fan speed in RPM
//   - pwm<N>: duty cycle, 0-255
//   - pwm<N>_enable: control mode (0 full speed, 1 manual, 5 SMART FAN IV)
//   - pwm<N>_auto_point<K>_temp / _pwm: curve points for SMART FAN IV
//
// The driver arbitrates with ACPI firmware, so going through these files is
// the safe way to change fan behaviour.
package hwmon

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// DefaultRoot is where the kernel lists hwmon devices.
const DefaultRoot = "/sys/class/hwmon"

// pwm<N>_enable values understood by the nct6775 driver.
const (
	ModeFullSpeed  = 0
	ModeManual     = 1
	ModeSmartFanIV = 5
)

// O_TRUNC is a no-op on sysfs but matters for regular files.
const writeFlags = os.O_WRONLY | os.O_TRUNC

// ErrNotFound is returned by Find when no device has the requested name.
var ErrNotFound = errors.New("hwmon device not found")

// Attrs is the part of a Device that profile code needs.
type Attrs interface {
	Read(attr string) (int, error)
	Write(attr string, value int) error
	AutoPoints(channel int) int
}

// Device is one hwmon directory.
type Device struct {
	fs   afero.Fs
	Path string
	Name string
}

// Find returns the first device under root whose name starts with chip
// (for example "nct6798").
func Find(fs afero.Fs, root, chip string) (*Device, error) {
	entries, err := afero.ReadDir(fs, root)
	if errors.Is(err, iofs.ErrNotExist) {
		// No hwmon class at all: no driver has registered a device yet.
		return nil, fmt.Errorf("%w: %s does not exist", ErrNotFound, root)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", root, err)
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "hwmon") {
			continue
		}
		path := filepath.Join(root, e.Name())
		name, err := afero.ReadFile(fs, filepath.Join(path, "name"))
		if err != nil {
			continue
		}
		n := strings.TrimSpace(string(name))
		if strings.HasPrefix(n, chip) {
			return &Device{fs: fs, Path: path, Name: n}, nil
		}
	}
	return nil, fmt.Errorf("%w: no %q under %s", ErrNotFound, chip, root)
}

// Open returns the device at path without checking its name.
func Open(fs afero.Fs, path string) *Device {
	name, _ := afero.ReadFile(fs, filepath.Join(path, "name"))
	return &Device{fs: fs, Path: path, Name: strings.TrimSpace(string(name))}
}

// Has reports whether the attribute file exists.
func (d *Device) Has(attr string) bool {
	ok, _ := afero.Exists(d.fs, filepath.Join(d.Path, attr))
	return ok
}

// Read returns the integer stored in attr.
func (d *Device) Read(attr string) (int, error) {
	data, err := afero.ReadFile(d.fs, filepath.Join(d.Path, attr))
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", attr, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", attr, err)
	}
	return v, nil
}

// Write stores value in attr. sysfs attributes are rewritten in place, never
// created, so a missing file is an error.
func (d *Device) Write(attr string, value int) error {
	f, err := d.fs.OpenFile(filepath.Join(d.Path, attr), writeFlags, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", attr, err)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(value)); err != nil {
		return fmt.Errorf("failed to write %d to %s: %w", value, attr, err)
	}
	return nil
}

// Label returns the contents of <kind><n>_label, or "<kind><n>" if there is none.
func (d *Device) Label(kind string, n int) string {
	data, err := afero.ReadFile(d.fs, filepath.Join(d.Path, fmt.Sprintf("%s%d_label", kind, n)))
	if err == nil {
		if l := strings.TrimSpace(string(data)); l != "" {
			return l
		}
	}
	return fmt.Sprintf("%s%d", kind, n)
}

// channels returns the sorted N of every <kind><N>_input file.
func (d *Device) channels(kind string) []int {
	matches, err := afero.Glob(d.fs, filepath.Join(d.Path, kind+"*_input"))
	if err != nil {
		return nil
	}
	var out []int
	for _, m := range matches {
		s := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), kind), "_input")
		if n, err := strconv.Atoi(s); err == nil {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

// Reading is one sensor value.
type Reading struct {
	Channel int
	Label   string
	Value   int
}

// Temps returns every temperature in whole degrees Celsius. Unreadable
// sensors (the driver returns errors for disconnected inputs) are skipped.
func (d *Device) Temps() []Reading {
	var out []Reading
	for _, n := range d.channels("temp") {
		v, err := d.Read(fmt.Sprintf("temp%d_input", n))
		if err != nil {
			continue
		}
		out = append(out, Reading{Channel: n, Label: d.Label("temp", n), Value: v / 1000})
	}
	return out
}

// Fans returns every fan speed in RPM.
func (d *Device) Fans() []Reading {
	var out []Reading
	for _, n := range d.channels("fan") {
		v, err := d.Read(fmt.Sprintf("fan%d_input", n))
		if err != nil {
			continue
		}
		out = append(out, Reading{Channel: n, Label: d.Label("fan", n), Value: v})
	}
	return out
}

// AutoPoints returns how many SMART FAN IV curve points pwm<channel> has.
func (d *Device) AutoPoints(channel int) int {
	n := 0
	for d.Has(AutoPointPWM(channel, n+1)) {
		n++
	}
	return n
}

// PWM returns the pwm<channel> attribute name.
func PWM(channel int) string { return fmt.Sprintf("pwm%d", channel) }

// PWMEnable returns the pwm<channel>_enable attribute name.
func PWMEnable(channel int) string { return fmt.Sprintf("pwm%d_enable", channel) }

// AutoPointPWM returns the duty attribute of curve point k.
func AutoPointPWM(channel, k int) string {
	return fmt.Sprintf("pwm%d_auto_point%d_pwm", channel, k)
}

// AutoPointTemp returns the temperature attribute of curve point k.
func AutoPointTemp(channel, k int) string {
	return fmt.Sprintf("pwm%d_auto_point%d_temp", channel, k)
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PercentToDuty converts 0-100 % to the 0-255 register scale.
func PercentToDuty(pct int) int {
	return (Clamp(pct, 0, 100)*255 + 50) / 100
}

// DutyToPercent converts a 0-255 duty to 0-100 %.
func DutyToPercent(duty int) int {
	return (Clamp(duty, 0, 255)*100 + 127) / 255
}
