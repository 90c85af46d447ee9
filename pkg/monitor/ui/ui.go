package ui

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/xeonx/timeago"

	"github.com/helvethink/dora-exporter/pkg/monitor"
	"github.com/helvethink/dora-exporter/pkg/monitor/client"
)

type pane string

const (
	paneOverview pane = "overview"
	paneSources  pane = "sources"
	paneConfig   pane = "config"
)

var panes = [...]pane{
	paneOverview,
	paneSources,
	paneConfig,
}

const labelWidth = 18

var (
	accent = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	muted  = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}

	valueStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Bold(true).
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#a9a9a9"))

	failedStyle = valueStyle.
			Background(lipgloss.Color("#ff6f61"))

	labelStyle = lipgloss.NewStyle().
			Width(labelWidth).
			PaddingLeft(1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(muted).
			MarginBottom(1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accent).
			PaddingLeft(1)

	tabStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder(), true, true, false, true).
			BorderForeground(accent).
			Padding(0, 1)

	activeTabStyle = tabStyle.
			Bold(true).
			Foreground(accent)

	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#343433", Dark: "#C1C6B2"}).
			Background(lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#353533"})

	barNameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#003d80")).
			Padding(0, 1)

	barVersionStyle = barNameStyle.
			Background(lipgloss.Color("#0062cc"))
)

type (
	streamOpenedMsg struct{ stream *client.TelemetryStream }
	configMsg       string
	errMsg          struct{ err error }
)

type model struct {
	version string
	client  *client.Client

	vp       viewport.Model
	progress progress.Model
	paneID   int

	stream    *client.TelemetryStream
	telemetry *monitor.Telemetry
	config    string
	err       error
}

func newModel(version string, c *client.Client) *model {
	return &model{
		version:  version,
		client:   c,
		progress: progress.New(progress.WithScaledGradient("#80c904", "#ff9d5c")),
	}
}

// Init opens the telemetry stream and fetches the configuration of the exporter.
func (m *model) Init() tea.Cmd {
	return tea.Batch(m.openStream, m.fetchConfig)
}

func (m *model) openStream() tea.Msg {
	s, err := m.client.GetTelemetry(context.Background())
	if err != nil {
		return errMsg{err}
	}

	return streamOpenedMsg{s}
}

func (m *model) fetchConfig() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := m.client.GetConfig(ctx)
	if err != nil {
		return errMsg{fmt.Errorf("unable to fetch the configuration: %w", err)}
	}

	return configMsg(cfg)
}

func recv(s *client.TelemetryStream) tea.Cmd {
	return func() tea.Msg {
		t, err := s.Recv()
		if err != nil {
			return errMsg{err}
		}

		return t
	}
}

// Update handles messages and updates the model accordingly.
func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.vp.Width = msg.Width
		m.vp.Height = msg.Height - 4
		m.progress.Width = max(10, msg.Width-labelWidth-4)
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			return m, tea.Quit
		case "left", "shift+tab":
			m.paneID = (m.paneID + len(panes) - 1) % len(panes)
		case "right", "tab":
			m.paneID = (m.paneID + 1) % len(panes)
		default:
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		}
	case streamOpenedMsg:
		m.stream = msg.stream
		m.setPaneContent()
		return m, recv(m.stream)
	case monitor.Telemetry:
		m.telemetry = &msg
		m.err = nil
		m.setPaneContent()
		return m, recv(m.stream)
	case configMsg:
		m.config = string(msg)
	case errMsg:
		m.err = msg.err
	}

	m.setPaneContent()

	return m, nil
}

func (m *model) setPaneContent() {
	switch panes[m.paneID] {
	case paneOverview:
		m.vp.SetContent(m.renderOverview())
	case paneSources:
		m.vp.SetContent(m.renderSources())
	case paneConfig:
		m.vp.SetContent(m.renderConfig())
	}
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func value(v string) string {
	return valueStyle.Render(v)
}

func (m *model) renderOverview() string {
	if m.telemetry == nil {
		return m.placeholder()
	}

	t := m.telemetry

	return sectionStyle.Render(lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render("Tasks"),
		row("Buffer usage", m.progress.ViewAs(t.TasksBufferUsage)),
		row("Executed", value(strconv.FormatUint(t.TasksExecutedCount, 10))),
	)) + "\n" + sectionStyle.Render(lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render("Event store"),
		row("Deployments", value(strconv.FormatInt(t.Deployments, 10))),
		row("Incidents", value(strconv.FormatInt(t.Incidents, 10))),
	))
}

func (m *model) renderSources() string {
	if m.telemetry == nil {
		return m.placeholder()
	}

	if len(m.telemetry.Sources) == 0 {
		return "\nno source configured"
	}

	sections := make([]string, 0, len(m.telemetry.Sources))
	for _, s := range m.telemetry.Sources {
		sections = append(sections, m.renderSource(s))
	}

	return strings.Join(sections, "\n")
}

func (m *model) renderSource(s monitor.SourceTelemetry) string {
	status := value("N/A")
	switch {
	case s.LastSync.IsZero():
	case s.LastSyncSucceeded:
		status = value("OK")
	default:
		status = failedStyle.Render("FAILED: " + s.LastSyncError)
	}

	return sectionStyle.Render(lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render(fmt.Sprintf("%s (%s)", s.Name, s.Kind)),
		row("API usage", m.progress.ViewAs(s.APIUsage)),
		row("API quota left", m.progress.ViewAs(s.RateLimitUsage)),
		row("API requests", value(strconv.FormatUint(s.RequestsCount, 10))),
		row("Last sync", value(prettyTimeago(s.LastSync))),
		row("Last status", status),
		row("Upserted", value(strconv.Itoa(s.LastSyncUpserted))),
		row("Failed", value(strconv.Itoa(s.LastSyncFailed))),
		row("Next sync", value(prettyTimeago(s.NextSync))),
	))
}

func (m *model) renderConfig() string {
	if m.config == "" {
		return m.placeholder()
	}

	return m.config
}

func (m *model) placeholder() string {
	if m.err != nil {
		return "\n" + failedStyle.Render(m.err.Error())
	}

	return "\nloading data.."
}

func prettyTimeago(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}

	return timeago.English.Format(t)
}

// View renders the tabs, the active pane and the status bar.
func (m *model) View() string {
	tabs := make([]string, 0, len(panes))
	for id, p := range panes {
		if id == m.paneID {
			tabs = append(tabs, activeTabStyle.Render(string(p)))
			continue
		}
		tabs = append(tabs, tabStyle.Render(string(p)))
	}

	name := barNameStyle.Render("dora-exporter")
	version := barVersionStyle.Render(m.version)
	filler := barStyle.
		Width(max(0, m.vp.Width-lipgloss.Width(name)-lipgloss.Width(version))).
		Render("")

	return lipgloss.JoinVertical(
		lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Bottom, tabs...),
		m.vp.View(),
		lipgloss.JoinHorizontal(lipgloss.Top, name, filler, version),
	)
}

// Start connects to the exporter listening on listenerAddress and runs the UI until the user quits.
func Start(version string, listenerAddress *url.URL) error {
	if listenerAddress == nil {
		return fmt.Errorf("the internal monitoring listener address must be set")
	}

	c, err := client.NewClient(listenerAddress)
	if err != nil {
		return err
	}

	_, err = tea.NewProgram(
		newModel(version, c),
		tea.WithAltScreen(),
	).Run()

	return err
}
