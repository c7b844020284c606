package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/junevm/nctfancontrol/internal/config"
	"github.com/junevm/nctfancontrol/internal/fan"
	"github.com/junevm/nctfancontrol/internal/hwmon"
	"github.com/junevm/nctfancontrol/internal/logger"
	"github.com/junevm/nctfancontrol/internal/setup"
)

// maxTemps caps how many temperature rows the status panel shows. The chip
// exposes more inputs than fit on a terminal.
const maxTemps = 6

var (
	colorAmber = lipgloss.Color("#FFB000")
	colorGreen = lipgloss.Color("#33FF66")
	colorTeal  = lipgloss.Color("#00B3B3")
	colorRed   = lipgloss.Color("#FF5555")
	colorDark  = lipgloss.Color("#101418")
	colorGray  = lipgloss.Color("#6C7A89")

	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorTeal).
			Background(colorDark)

	titleStyle = lipgloss.NewStyle().
			Foreground(colorDark).
			Background(colorAmber).
			Padding(0, 1).
			Bold(true).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorTeal).
			Bold(true).
			MarginBottom(1)

	statLabelStyle = lipgloss.NewStyle().
			Foreground(colorAmber).
			Width(14)

	statValueStyle = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	itemStyle = lipgloss.NewStyle().
			PaddingLeft(2).
			Foreground(colorTeal)

	selectedItemStyle = lipgloss.NewStyle().
				PaddingLeft(2).
				Foreground(colorDark).
				Background(colorAmber).
				Bold(true)

	statusMessageStyle = lipgloss.NewStyle().
				Foreground(colorGreen).
				Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorGray).
			MarginTop(1)
)

type tickMsg time.Time
type setupFinishedMsg struct{ err error }
type setupLogMsg string
type configReloadedMsg struct {
	cfg config.Config
	err error
}

type model struct {
	config     config.Config
	configPath string
	checker    *setup.Checker
	dev        *hwmon.Device

	spinner  spinner.Model
	viewport viewport.Model
	cursor   int
	status   fan.Status

	statusMsg string
	err       error
	width     int
	height    int

	needsSetup   bool
	setupRunning bool
	setupErr     error
	fullLog      string
	setupChan    chan string
}

// InitialModel sets up the starting state of the application.
func InitialModel(cfg config.Config, path string, checker *setup.Checker, needsSetup bool) model {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = lipgloss.NewStyle().Foreground(colorAmber)

	vp := viewport.New(0, 0)
	vp.Style = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorGray).
		Padding(0, 1)

	m := model{
		config:     cfg,
		configPath: path,
		checker:    checker,
		spinner:    s,
		viewport:   vp,
		cursor:     cfg.Profile - 1,
		needsSetup: needsSetup,
	}
	if !needsSetup {
		m.dev, m.err = checker.Device()
	}
	return m
}

// Init starts the spinner and, once the driver is ready, sensor polling.
func (m model) Init() tea.Cmd {
	if m.needsSetup {
		return m.spinner.Tick
	}
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 20
		m.viewport.Height = msg.Height - 10

	case tea.KeyMsg:
		return m.handleKey(msg)

	case setupLogMsg:
		m.fullLog += string(msg) + "\n"
		m.viewport.SetContent(m.fullLog)
		m.viewport.GotoBottom()
		return m, waitForSetupLog(m.setupChan)

	case setupFinishedMsg:
		m.setupRunning = false
		if msg.err != nil {
			m.setupErr = msg.err
			return m, nil
		}
		m.needsSetup = false
		m.dev, m.err = m.checker.Device()
		return m, tickCmd()

	case configReloadedMsg:
		if msg.err != nil {
			m.statusMsg = fmt.Sprintf("Config reload failed: %v", msg.err)
			return m, nil
		}
		// Our own saves come back here too; only announce outside edits.
		if msg.cfg.Profile != m.config.Profile {
			m.statusMsg = "Config reloaded"
		}
		m.config = msg.cfg
		m.cursor = msg.cfg.Profile - 1

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		if m.needsSetup {
			return m, nil
		}
		if m.dev != nil {
			m.status = fan.ReadStatus(m.dev, m.config.Channels)
		}
		cmds = append(cmds, tickCmd())
	}

	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "up", "k":
		if m.needsSetup {
			return m, nil
		}
		if m.cursor > 0 {
			m.cursor--
		} else {
			m.cursor = len(config.ProfileNames) - 1
		}

	case "down", "j":
		if m.needsSetup {
			return m, nil
		}
		if m.cursor < len(config.ProfileNames)-1 {
			m.cursor++
		} else {
			m.cursor = 0
		}

	case "enter", " ":
		if m.needsSetup {
			if m.setupRunning {
				return m, nil
			}
			m.setupRunning = true
			m.setupErr = nil
			m.fullLog = "Checking driver...\n"
			m.viewport.SetContent(m.fullLog)
			m.setupChan = make(chan string, 10)
			return m, tea.Batch(runSetupCmd(m.checker, m.setupChan), waitForSetupLog(m.setupChan))
		}
		m.apply()

	case "R":
		if !m.needsSetup {
			m.needsSetup = true
			m.setupErr = nil
		}
	}
	return m, nil
}

// apply writes the profile under the cursor and saves it.
func (m *model) apply() {
	if m.dev == nil {
		m.statusMsg = fmt.Sprintf("No %s device: %v", m.config.Chip, m.err)
		return
	}
	m.config.Profile = m.cursor + 1
	if err := fan.ApplyProfile(m.dev, m.config); err != nil {
		m.statusMsg = fmt.Sprintf("Error: %v", err)
		logger.Error().Err(err).Int("profile", m.config.Profile).Msg("apply failed")
		return
	}
	m.statusMsg = fmt.Sprintf("Applied: %s", config.ProfileNames[m.cursor])
	if err := config.SaveFile(m.configPath, m.config); err != nil {
		m.statusMsg = fmt.Sprintf("Save failed: %v", err)
	}
}

func (m model) View() string {
	title := titleStyle.Render(" NCT6798D FAN CONTROL ")

	if m.needsSetup {
		var content string
		switch {
		case m.setupRunning:
			content = fmt.Sprintf("\n   %s Preparing the %s driver...\n\n%s", m.spinner.View(), setup.DriverModule, m.viewport.View())
		case m.setupErr != nil:
			content = fmt.Sprintf("%s\n\n   Setup Failed:\n   %v\n\n   Press [Enter] to retry or [q] to quit.", m.viewport.View(), m.setupErr)
		default:
			content = fmt.Sprintf("\n   Driver Setup\n\n   The '%s' kernel module must expose a writable\n   %s hwmon device.\n\n   Press [Enter] to check and load it.", setup.DriverModule, m.config.Chip)
		}
		box := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAmber).
			Padding(1, 3).
			Align(lipgloss.Center).
			Render(content)
		return appStyle.Render(lipgloss.JoinVertical(lipgloss.Center, title, box))
	}

	stats := []string{headerStyle.Render("SENSORS")}
	for i, r := range m.status.Temps {
		if i == maxTemps {
			break
		}
		stats = append(stats, renderStat(r.Label, fmt.Sprintf("%d°C", r.Value)))
	}
	for _, r := range m.status.Fans {
		stats = append(stats, renderStat(r.Label, fmt.Sprintf("%d RPM", r.Value)))
	}
	stats = append(stats, "")
	for _, ch := range sortedKeys(m.status.Mode) {
		stats = append(stats, renderStat(hwmon.PWM(ch),
			fmt.Sprintf("%d%% %s", m.status.Duty[ch], fan.ModeName(m.status.Mode[ch]))))
	}
	if m.err != nil {
		stats = append(stats, errorStyle.Render(m.err.Error()))
	}
	stats = append(stats, "", m.spinner.View()+" Monitoring...")

	statsBox := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(colorTeal).
		Padding(1).
		Width(36).
		Render(lipgloss.JoinVertical(lipgloss.Left, stats...))

	items := []string{headerStyle.Render("SELECT PROFILE")}
	for i, name := range config.ProfileNames {
		if m.cursor == i {
			items = append(items, selectedItemStyle.Render("> "+strings.ToUpper(name)))
		} else {
			items = append(items, itemStyle.Render(name))
		}
	}
	if m.statusMsg != "" {
		items = append(items, "\n"+statusMessageStyle.Render(m.statusMsg))
	}

	profilesBox := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(colorAmber).
		Padding(1).
		Width(30).
		Height(lipgloss.Height(statsBox)).
		Render(lipgloss.JoinVertical(lipgloss.Left, items...))

	var main string
	if m.width > 0 && m.width < 76 {
		main = lipgloss.JoinVertical(lipgloss.Left, statsBox, profilesBox)
	} else {
		main = lipgloss.JoinHorizontal(lipgloss.Top, statsBox, profilesBox)
	}

	footer := helpStyle.Render("keys: ↑/↓ select • enter apply • R driver setup • q quit")
	ui := lipgloss.JoinVertical(lipgloss.Center, title, main, footer)
	return appStyle.Render(lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, ui))
}

func renderStat(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Bottom,
		statLabelStyle.Render(label),
		statValueStyle.Render(value),
	)
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func runSetupCmd(c *setup.Checker, ch chan string) tea.Cmd {
	return func() tea.Msg {
		defer close(ch)
		return setupFinishedMsg{err: c.RunFullSetup(ch)}
	}
}

func waitForSetupLog(ch chan string) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return setupLogMsg(msg)
	}
}

// Run starts the Bubble Tea program and reloads the configuration whenever
// the file at path changes.
func Run(cfg config.Config, path string, checker *setup.Checker, needsSetup bool) error {
	p := tea.NewProgram(InitialModel(cfg, path, checker, needsSetup), tea.WithAltScreen())

	w, err := config.Watch(path, func() {
		cfg, err := config.LoadFile(path)
		p.Send(configReloadedMsg{cfg: cfg, err: err})
	})
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("config reload disabled")
	} else {
		defer w.Stop()
	}

	_, err = p.Run()
	return err
}
