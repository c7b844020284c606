package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/junevm/nctfancontrol/internal/config"
	"github.com/junevm/nctfancontrol/internal/hwmon"
	"github.com/junevm/nctfancontrol/internal/logger"
	"github.com/junevm/nctfancontrol/internal/setup"
)

// main checks that the nct6775 driver is loaded and exposes a writable
// hwmon device, loading the module when run as root.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("⚠️ Failed to load config, using defaults: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Printf("⚠️ Failed to initialise logger: %v\n", err)
	}
	c := setup.New(cfg)

	// 1. Is the driver loaded? /proc/modules is readable by any user.
	if c.ModuleLoaded(setup.DriverModule) {
		fmt.Printf("✅ %s module is loaded.\n", setup.DriverModule)
	} else if c.Root {
		fmt.Printf("Loading %s module...\n", setup.DriverModule)
		if err := c.Exec(func(format string, a ...interface{}) { fmt.Printf(format+"\n", a...) }, "modprobe", setup.DriverModule); err != nil {
			fatal(err)
		}
	} else {
		fmt.Printf("❌ %s module is not loaded. Run: sudo modprobe %s\n", setup.DriverModule, setup.DriverModule)
		os.Exit(1)
	}

	// 2. Did it find the chip?
	dev, err := c.Device()
	if err != nil {
		if errors.Is(err, hwmon.ErrNotFound) && !c.ACPILax() {
			fmt.Println("⚠️ The driver did not register the chip. If dmesg reports an ACPI resource conflict,")
			fmt.Println("   boot with acpi_enforce_resources=lax.")
		}
		fatal(err)
	}
	fmt.Printf("✅ %s found at %s\n", dev.Name, dev.Path)

	// 3. Can we write to it?
	if err := c.Check(); err != nil {
		if !c.Root {
			fmt.Println("⚠️ pwm attributes are root only; run the fan command with sudo.")
			return
		}
		fatal(err)
	}
	fmt.Println("✅ pwm controls are writable.")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
