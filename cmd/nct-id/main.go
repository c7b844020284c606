// nct-id identifies the Nuvoton Super I/O chip and prints where its Hardware
// Monitor registers live.
//
// Usage:
//
//	sudo nct-id [-ports 0x2E,0x4E] [-expect 0xD428] [-force] [-v]
//
// One line is printed per port pair that answered. The exit code is 0 even
// when nothing was found. While the nct6775 driver is loaded the ports are
// left alone unless -force is given.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/junevm/nctfancontrol/internal/logger"
	"github.com/junevm/nctfancontrol/internal/setup"
	"github.com/junevm/nctfancontrol/internal/superio"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, env{
		bus:     superio.NewPortBus(),
		fs:      afero.NewOsFs(),
		lockDir: superio.DefaultLockDir,
	}))
}

// env is what run needs from the machine.
type env struct {
	bus     superio.Bus
	fs      afero.Fs
	lockDir string
}

func run(args []string, stdout, stderr io.Writer, e env) int {
	flags := flag.NewFlagSet("nct-id", flag.ContinueOnError)
	flags.SetOutput(stderr)
	ports := flags.String("ports", "0x2E,0x4E", "comma-separated index ports to probe, in order")
	expect := flags.String("expect", fmt.Sprintf("0x%04X", uint16(superio.NCT6798D)), "expected chip ID (0 accepts any chip)")
	force := flags.Bool("force", false, "probe even while the nct6775 driver is loaded")
	verbose := flags.Bool("v", false, "log every probe step")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	logCfg := logger.DefaultConfig()
	if *verbose {
		logCfg.Level = "debug"
	}
	if err := logger.InitWriter(logCfg, stderr); err != nil {
		fmt.Fprintf(stderr, "nct-id: %v\n", err)
	}

	pairs, err := parsePorts(*ports)
	if err != nil {
		fmt.Fprintf(stderr, "nct-id: -ports: %v\n", err)
		return 2
	}
	expected, err := strconv.ParseUint(*expect, 0, 16)
	if err != nil {
		fmt.Fprintf(stderr, "nct-id: -expect: %v\n", err)
		return 2
	}

	checker := &setup.Checker{FS: e.fs}
	if checker.ModuleLoaded(setup.DriverModule) {
		if !*force {
			fmt.Fprintf(stderr, "nct-id: %s is loaded and may be using the ports; unload it (sudo modprobe -r %s) or pass -force\n",
				setup.DriverModule, setup.DriverModule)
			return 0
		}
		logger.Warn().Msgf("%s is loaded; raw port access may race the kernel driver", setup.DriverModule)
	}

	p := &superio.Prober{
		Bus:      e.bus,
		Expected: superio.ChipIdentity(expected),
		Locker:   &superio.PortLock{Dir: e.lockDir},
		Log:      logger.WithComponent("superio"),
	}
	rep := p.ProbeAll(pairs)
	if err := rep.WriteLines(stdout); err != nil {
		fmt.Fprintf(stderr, "nct-id: %v\n", err)
	}

	if err := rep.Err(); err != nil {
		logger.Debug().Err(err).Msg("probe failed on every candidate")
		fmt.Fprintf(stderr, "%v (%s)\n", superio.ErrNoChipFound, rep.Hint())
		return 0
	}
	warnClaims(e.fs, rep)
	return 0
}

// warnClaims logs kernel drivers that hold a found HWM register range.
func warnClaims(fs afero.Fs, rep superio.Report) {
	for _, r := range rep.Found() {
		claims, err := superio.HWMClaims(fs, r.HWMBase)
		if err != nil {
			logger.Debug().Err(err).Msg("cannot read " + superio.ProcIOPorts)
			return
		}
		for _, c := range claims {
			logger.Warn().Str("claim", c.String()).Msgf("HWM range at %s is held by a driver", r.HWMBase)
		}
	}
}

func parsePorts(s string) ([]superio.PortPair, error) {
	var pairs []superio.PortPair
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseUint(f, 0, 16)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, superio.NewPortPair(uint16(v)))
	}
	if len(pairs) == 0 {
		return nil, errors.New("no ports given")
	}
	return pairs, nil
}
