package superio

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// ProcIOPorts lists the kernel's I/O port reservations.
const ProcIOPorts = "/proc/ioports"

// IOPortClaim is one line of /proc/ioports.
type IOPortClaim struct {
	Start, End uint16
	Owner      string
}

func (c IOPortClaim) String() string {
	return fmt.Sprintf("%04x-%04x : %s", c.Start, c.End, c.Owner)
}

// IOPortClaims returns every reservation overlapping [lo, hi], nested ones
// included. Non-root readers see all ranges as zero and get nothing back.
func IOPortClaims(fsys afero.Fs, lo, hi uint16) ([]IOPortClaim, error) {
	f, err := fsys.Open(ProcIOPorts)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var claims []IOPortClaim
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		c, ok := parseIOPortLine(sc.Text())
		if !ok || (c.Start == 0 && c.End == 0) {
			continue
		}
		if c.Start <= hi && c.End >= lo {
			claims = append(claims, c)
		}
	}
	return claims, sc.Err()
}

// HWMClaims returns the reservations overlapping the 8-port HWM window at base.
func HWMClaims(fsys afero.Fs, base HWMBase) ([]IOPortClaim, error) {
	return IOPortClaims(fsys, uint16(base), uint16(base)+7)
}

// parseIOPortLine parses "  0290-029f : nct6775.656".
func parseIOPortLine(line string) (IOPortClaim, bool) {
	rng, owner, ok := strings.Cut(strings.TrimSpace(line), " : ")
	if !ok {
		return IOPortClaim{}, false
	}
	from, to, ok := strings.Cut(rng, "-")
	if !ok {
		return IOPortClaim{}, false
	}
	start, err := strconv.ParseUint(from, 16, 16)
	if err != nil {
		return IOPortClaim{}, false
	}
	end, err := strconv.ParseUint(to, 16, 16)
	if err != nil {
		return IOPortClaim{}, false
	}
	return IOPortClaim{Start: uint16(start), End: uint16(end), Owner: strings.TrimSpace(owner)}, true
}
