package fan

import (
	"fmt"

	"github.com/junevm/nctfancontrol/internal/config"
	"github.com/junevm/nctfancontrol/internal/hwmon"
	"github.com/junevm/nctfancontrol/internal/logger"
)

// Curve temperatures are limited to what the chip's thermal inputs report
// sensibly.
const (
	minCurveTemp = 0
	maxCurveTemp = 100
)

// ApplyProfile sends the settings from the configuration to the hardware.
// It looks at which profile is selected (Auto, Basic, Advanced, or Full Speed)
// and writes the matching sysfs attributes for every configured channel.
func ApplyProfile(dev hwmon.Attrs, cfg config.Config) error {
	if cfg.Profile < config.ProfileAuto || cfg.Profile > config.ProfileFullSpeed {
		return fmt.Errorf("unknown profile: %d", cfg.Profile)
	}
	log := logger.WithComponent("fan")

	for _, ch := range cfg.Channels {
		var err error
		switch cfg.Profile {
		case config.ProfileAuto:
			err = writeCurve(dev, ch, cfg.AutoCurve, cfg.MinDuty)
		case config.ProfileBasic:
			err = writeManual(dev, ch, hwmon.Clamp(cfg.BasicDuty, cfg.MinDuty, 100))
		case config.ProfileAdvanced:
			err = writeCurve(dev, ch, cfg.AdvCurve, cfg.MinDuty)
		case config.ProfileFullSpeed:
			// The chip drives the output at 100 % with control disabled.
			err = write(dev, ch, hwmon.PWMEnable(ch), hwmon.ModeFullSpeed)
		}
		if err != nil {
			return err
		}
		log.Info().Int("channel", ch).Int("profile", cfg.Profile).Msg("profile applied")
	}
	return nil
}

func write(dev hwmon.Attrs, ch int, attr string, v int) error {
	if err := dev.Write(attr, v); err != nil {
		return fmt.Errorf("pwm%d: %w", ch, err)
	}
	return nil
}

// writeManual leaves curve control and pins the duty.
func writeManual(dev hwmon.Attrs, ch, pct int) error {
	if err := write(dev, ch, hwmon.PWMEnable(ch), hwmon.ModeManual); err != nil {
		return err
	}
	return write(dev, ch, hwmon.PWM(ch), hwmon.PercentToDuty(pct))
}

// writeCurve rewrites the SMART FAN IV points of one channel. The chip must
// not be in curve mode while its points change, so the channel is switched to
// manual first and back to SMART FAN IV last.
func writeCurve(dev hwmon.Attrs, ch int, c config.Curve, minDuty int) error {
	n := dev.AutoPoints(ch)
	if n == 0 {
		return fmt.Errorf("pwm%d: no auto points exposed by the driver", ch)
	}
	points := NormalizeCurve(c, n, minDuty)

	if err := write(dev, ch, hwmon.PWMEnable(ch), hwmon.ModeManual); err != nil {
		return err
	}
	for k, p := range points {
		if err := write(dev, ch, hwmon.AutoPointTemp(ch, k+1), p.Temp*1000); err != nil {
			return err
		}
		if err := write(dev, ch, hwmon.AutoPointPWM(ch, k+1), hwmon.PercentToDuty(p.Duty)); err != nil {
			return err
		}
	}
	return write(dev, ch, hwmon.PWMEnable(ch), hwmon.ModeSmartFanIV)
}

// Point is one curve point in °C and percent.
type Point struct {
	Temp int
	Duty int
}

// NormalizeCurve turns c into at most limit points the chip will accept:
// temperatures clamped to 0-100 °C, duties to [minDuty, 100] %, and both
// made non-decreasing.
func NormalizeCurve(c config.Curve, limit, minDuty int) []Point {
	n := len(c.Temps)
	if len(c.Duty) < n {
		n = len(c.Duty)
	}
	if n > limit {
		n = limit
	}

	points := make([]Point, n)
	for i := 0; i < n; i++ {
		p := Point{
			Temp: hwmon.Clamp(c.Temps[i], minCurveTemp, maxCurveTemp),
			Duty: hwmon.Clamp(c.Duty[i], minDuty, 100),
		}
		if i > 0 {
			if p.Temp < points[i-1].Temp {
				p.Temp = points[i-1].Temp
			}
			if p.Duty < points[i-1].Duty {
				p.Duty = points[i-1].Duty
			}
		}
		points[i] = p
	}
	return points
}

// Status is a snapshot of the sensors and of the configured channels.
type Status struct {
	Temps []hwmon.Reading
	Fans  []hwmon.Reading

	// Duty and Mode are keyed by pwm channel.
	Duty map[int]int
	Mode map[int]int
}

// ReadStatus reads temperatures, fan speeds and the state of each channel.
// Channels whose attributes cannot be read are left out of Duty and Mode.
func ReadStatus(dev *hwmon.Device, channels []int) Status {
	st := Status{
		Temps: dev.Temps(),
		Fans:  dev.Fans(),
		Duty:  make(map[int]int),
		Mode:  make(map[int]int),
	}
	for _, ch := range channels {
		if v, err := dev.Read(hwmon.PWM(ch)); err == nil {
			st.Duty[ch] = hwmon.DutyToPercent(v)
		}
		if v, err := dev.Read(hwmon.PWMEnable(ch)); err == nil {
			st.Mode[ch] = v
		}
	}
	return st
}

// ModeName describes a pwm_enable value.
func ModeName(mode int) string {
	switch mode {
	case hwmon.ModeFullSpeed:
		return "full speed"
	case hwmon.ModeManual:
		return "manual"
	case 2:
		return "thermal cruise"
	case 3:
		return "speed cruise"
	case 4:
		return "smart fan III"
	case hwmon.ModeSmartFanIV:
		return "smart fan IV"
	}
	return fmt.Sprintf("mode %d", mode)
}
