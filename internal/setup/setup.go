package setup

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/junevm/nctfancontrol/internal/config"
	"github.com/junevm/nctfancontrol/internal/hwmon"
)

// DriverModule is the kernel module that drives Nuvoton Super I/O chips.
const DriverModule = "nct6775"

// Checker verifies that the kernel driver is loaded and exposes a writable
// hwmon device for the configured chip.
type Checker struct {
	FS        afero.Fs
	Chip      string
	HwmonRoot string

	// Root is true when running with euid 0.
	Root bool

	// Exec runs a command, streaming its output to log.
	Exec func(log func(string, ...interface{}), name string, args ...string) error
}

// New returns a Checker for the real system.
func New(cfg config.Config) *Checker {
	return &Checker{
		FS:        afero.NewOsFs(),
		Chip:      cfg.Chip,
		HwmonRoot: cfg.HwmonRoot,
		Root:      os.Geteuid() == 0,
		Exec:      runCmd,
	}
}

// ModuleLoaded reports whether name appears in /proc/modules.
func (c *Checker) ModuleLoaded(name string) bool {
	content, err := afero.ReadFile(c.FS, "/proc/modules")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(content), "\n") {
		if f := strings.Fields(line); len(f) > 0 && f[0] == name {
			return true
		}
	}
	return false
}

// ACPILax reports whether the kernel was booted with
// acpi_enforce_resources=lax, which lets the driver claim ports that ACPI
// firmware also declares.
func (c *Checker) ACPILax() bool {
	content, err := afero.ReadFile(c.FS, "/proc/cmdline")
	if err != nil {
		return false
	}
	for _, arg := range strings.Fields(string(content)) {
		if arg == "acpi_enforce_resources=lax" {
			return true
		}
	}
	return false
}

// Device finds the hwmon device for the configured chip.
func (c *Checker) Device() (*hwmon.Device, error) {
	return hwmon.Find(c.FS, c.HwmonRoot, c.Chip)
}

// Check returns nil when the driver is loaded and pwm1_enable can be opened
// for writing. Nothing is written.
func (c *Checker) Check() error {
	if !c.ModuleLoaded(DriverModule) {
		return fmt.Errorf("%s module not loaded", DriverModule)
	}
	dev, err := c.Device()
	if err != nil {
		return err
	}
	f, err := c.FS.OpenFile(filepath.Join(dev.Path, hwmon.PWMEnable(1)), os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", hwmon.PWMEnable(1), err)
	}
	return f.Close()
}

// CheckAndSetup ensures the driver is ready, loading it once if needed.
func (c *Checker) CheckAndSetup() error {
	if err := c.Check(); err == nil {
		return nil
	}
	_ = c.Exec(func(string, ...interface{}) {}, "modprobe", DriverModule)
	return c.Check()
}

// RunFullSetup loads the driver and checks every step, reporting progress
// on progressChan (or stdout when nil).
func (c *Checker) RunFullSetup(progressChan chan<- string) error {
	log := func(format string, a ...interface{}) {
		if progressChan != nil {
			progressChan <- fmt.Sprintf(format, a...)
		} else {
			fmt.Printf(format+"\n", a...)
		}
	}

	if !c.Root {
		return fmt.Errorf("setup requires root privileges (run with sudo)")
	}

	// 1. Load the driver
	log("1/3 Loading %s module...", DriverModule)
	if c.ModuleLoaded(DriverModule) {
		log("%s already loaded", DriverModule)
	} else if err := c.Exec(log, "modprobe", DriverModule); err != nil {
		return fmt.Errorf("failed to load %s: %w", DriverModule, err)
	}

	// 2. Find the hwmon device
	log("2/3 Locating %s hwmon device...", c.Chip)
	dev, err := c.Device()
	if err != nil {
		if errors.Is(err, hwmon.ErrNotFound) && !c.ACPILax() {
			log("The driver found no chip. On boards where ACPI claims the Super I/O ports,")
			log("boot with acpi_enforce_resources=lax or use a kernel with the ASUS WMI path.")
		}
		return err
	}
	log("Found %s at %s", dev.Name, dev.Path)

	// 3. Check write access
	log("3/3 Checking write access...")
	if err := c.Check(); err != nil {
		return err
	}
	log("Success! %s is ready.", dev.Name)
	return nil
}

// runCmd runs a command and streams its combined output to log.
func runCmd(log func(string, ...interface{}), name string, args ...string) error {
	cmd := exec.Command(name, args...)
	log("Running: %s %s", name, strings.Join(args, " "))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %v", name, err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		log("%s", scanner.Text())
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("command failed: %v", err)
	}
	return nil
}
