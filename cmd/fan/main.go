package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"

	"github.com/junevm/nctfancontrol/internal/config"
	"github.com/junevm/nctfancontrol/internal/fan"
	"github.com/junevm/nctfancontrol/internal/logger"
	"github.com/junevm/nctfancontrol/internal/setup"
	"github.com/junevm/nctfancontrol/internal/superio"
	"github.com/junevm/nctfancontrol/internal/ui"
)

// Version is the current version of the application.
// This is set at build time via -ldflags.
var Version = "dev"

func main() {
	// 0. Auto-Elevation
	// sysfs pwm files and the Super I/O ports are root only, so re-execute
	// through sudo unless the user just wants the version.
	if os.Geteuid() != 0 {
		for _, arg := range os.Args[1:] {
			if arg == "--version" || arg == "-version" || arg == "-v" {
				fmt.Printf("nctfancontrol version %s\n", Version)
				return
			}
		}

		exe, err := os.Executable()
		if err != nil {
			log.Fatalf("Failed to get executable path: %v", err)
		}

		cmd := exec.Command("sudo", append([]string{exe}, os.Args[1:]...)...)
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			log.Fatalf("Failed to run as root: %v", err)
		}
		return
	}

	// 1. Parse Command Line Arguments
	cliMode := flag.Bool("cli", false, "Apply the configured profile and exit")
	setupMode := flag.Bool("setup", false, "Load the nct6775 driver and check the hwmon device")
	probeMode := flag.Bool("probe", false, "Identify the Super I/O chip through its raw ports")
	forceMode := flag.Bool("force", false, "With --probe, touch the ports even while the nct6775 driver is loaded")
	configPath := flag.String("config", "", "Path to config.json (default ~/.config/NCTFanControl/config.json)")
	versionMode := flag.Bool("version", false, "Display version and exit")
	shortVersionMode := flag.Bool("v", false, "Display version and exit")
	flag.Parse()

	if *versionMode || *shortVersionMode {
		fmt.Printf("nctfancontrol version %s\n", Version)
		return
	}

	// 2. Load Configuration
	// A missing or broken file falls back to the defaults so the fans can
	// still be driven.
	path := *configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			log.Fatalf("Failed to locate config directory: %v", err)
		}
		path = p
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		log.Printf("Warning: Failed to load config, using defaults: %v", err)
		cfg = config.DefaultConfig()
	}

	if err := logger.Init(cfg.Log); err != nil {
		log.Printf("Warning: Failed to initialise logger: %v", err)
	}
	checker := setup.New(cfg)

	// 3. Handle Probe Mode
	// The raw probe must not race the kernel driver, so it runs before any
	// attempt to load it.
	if *probeMode {
		if err := identify(os.Stdout, cfg, checker, superio.NewPortBus(), *forceMode); err != nil {
			log.Fatalf("Probe failed: %v", err)
		}
		return
	}

	// 4. Handle Setup Mode
	if *setupMode {
		if err := checker.RunFullSetup(nil); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		fmt.Println("Setup completed successfully.")
		return
	}

	// 5. Check Environment
	// If the driver is not ready the UI guides the user through setup.
	needsSetup := false
	if err := checker.CheckAndSetup(); err != nil {
		logger.Warn().Err(err).Msg("driver not ready")
		needsSetup = true
	}

	// 6. Handle CLI Mode
	if *cliMode {
		if needsSetup {
			log.Fatalf("Error: %s driver not ready. Run 'sudo fan --setup' first.", setup.DriverModule)
		}
		dev, err := checker.Device()
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		fmt.Printf("Applying %s profile to %s...\n", config.ProfileNames[cfg.Profile-1], dev.Path)
		if err := fan.ApplyProfile(dev, cfg); err != nil {
			log.Fatalf("Error applying profile: %v", err)
		}
		fmt.Println("Profile applied successfully.")
		return
	}

	// 7. Start the User Interface
	if err := ui.Run(cfg, path, checker, needsSetup); err != nil {
		log.Fatalf("Error running UI: %v", err)
	}
}

// identify reads the chip identity with the ports, ID and logical device from the
// configuration. The ports are left alone while the kernel driver is loaded
// unless force is set.
func identify(w io.Writer, cfg config.Config, checker *setup.Checker, bus superio.Bus, force bool) error {
	if checker.ModuleLoaded(setup.DriverModule) {
		if !force {
			return fmt.Errorf("%s is loaded and may be using the ports; unload it or pass --force", setup.DriverModule)
		}
		logger.Warn().Msgf("%s is loaded; raw port access may race the kernel driver", setup.DriverModule)
	}

	pairs := make([]superio.PortPair, 0, len(cfg.SuperIO.Ports))
	for _, port := range cfg.SuperIO.Ports {
		pairs = append(pairs, superio.NewPortPair(uint16(port)))
	}
	device := uint8(cfg.SuperIO.Device)
	if device == 0 {
		device = superio.LDNHardwareMonitor
	}
	p := &superio.Prober{
		Bus:      bus,
		Expected: superio.ChipIdentity(cfg.SuperIO.ExpectedID),
		Device:   device,
		Locker:   &superio.PortLock{Dir: cfg.SuperIO.LockDir},
		Log:      logger.WithComponent("superio"),
	}

	rep := p.ProbeAll(pairs)
	if err := rep.WriteLines(w); err != nil {
		return err
	}
	if rep.Err() != nil {
		_, err := fmt.Fprintf(w, "%v (%s)\n", superio.ErrNoChipFound, rep.Hint())
		return err
	}
	for _, r := range rep.Found() {
		if _, err := fmt.Fprintf(w, "%s: %s, LDN 0x%02X base 0x%04X, index/data ports 0x%04X/0x%04X\n",
			r.Port, r.Chip.Name(), device, uint16(r.HWMBase), r.HWMBase.IndexPort(), r.HWMBase.DataPort()); err != nil {
			return err
		}
	}
	return nil
}
