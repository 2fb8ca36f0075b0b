package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"sam2-eval/internal/launch"
	"sam2-eval/internal/model"
)

var (
	dashTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dashMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dashErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	dashOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	dashPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type planMsg struct{ plan launch.Plan }

type workerStartedMsg struct {
	slot   int
	device string
	videos int
}

type workerProgressMsg struct {
	slot        int
	done, total int
	video       string
}

type workerFinishedMsg struct{ result launch.WorkerResult }

type launchDoneMsg struct {
	result launch.Result
	err    error
}

// dashboardObserver forwards launch events into the running program.
type dashboardObserver struct {
	send func(tea.Msg)
}

func (o dashboardObserver) Planned(p launch.Plan) { o.send(planMsg{plan: p}) }

func (o dashboardObserver) WorkerStarted(slot int, device string, videos int) {
	o.send(workerStartedMsg{slot: slot, device: device, videos: videos})
}

func (o dashboardObserver) WorkerProgress(slot int, done, total int, video string) {
	o.send(workerProgressMsg{slot: slot, done: done, total: total, video: video})
}

func (o dashboardObserver) WorkerFinished(w launch.WorkerResult) {
	o.send(workerFinishedMsg{result: w})
}

type dashboardSlot struct {
	slot   int
	device string
	videos int
	frames int
	done   int
	total  int
	video  string
	status string
	errMsg string
}

type launchDashboard struct {
	plan     launch.Plan
	slots    []dashboardSlot
	spinner  spinner.Model
	bar      progress.Model
	width    int
	cancel   func()
	stopping bool
	finished bool
	err      error
}

func newLaunchDashboard(cancel func()) launchDashboard {
	return launchDashboard{
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(dashTitleStyle)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(28), progress.WithoutPercentage()),
		cancel:  cancel,
	}
}

func (m launchDashboard) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m launchDashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = clampInt(msg.Width-48, 10, 40)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.stopping && m.cancel != nil {
				m.cancel()
			}
			m.stopping = true
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case planMsg:
		m.plan = msg.plan
		m.slots = make([]dashboardSlot, len(msg.plan.Slots))
		for i, s := range msg.plan.Slots {
			m.slots[i] = dashboardSlot{slot: s.Slot, device: s.Device, videos: s.Videos, frames: s.Frames, total: s.Videos, status: s.Status}
		}
		return m, nil
	case workerStartedMsg:
		if s := m.slotAt(msg.slot); s != nil {
			s.status = model.StatusRunning
			s.total = msg.videos
		}
		return m, nil
	case workerProgressMsg:
		if s := m.slotAt(msg.slot); s != nil {
			s.done, s.total, s.video = msg.done, msg.total, msg.video
		}
		return m, nil
	case workerFinishedMsg:
		if s := m.slotAt(msg.result.Slot); s != nil {
			s.status = msg.result.Status
			s.errMsg = firstLine(msg.result.Error)
			if s.status == model.StatusCompleted {
				s.done = s.total
			}
		}
		return m, nil
	case launchDoneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m *launchDashboard) slotAt(slot int) *dashboardSlot {
	if slot < 0 || slot >= len(m.slots) {
		return nil
	}
	return &m.slots[slot]
}

func (m launchDashboard) View() string {
	if len(m.slots) == 0 {
		if m.finished {
			return ""
		}
		return m.spinner.View() + " planning launch...\n"
	}

	header := dashTitleStyle.Render(fmt.Sprintf("%s  %s  memstride %d", m.plan.Dataset, m.plan.ModelVariant, m.plan.MemStride))
	sub := dashMutedStyle.Render("run " + m.plan.RunID + "  ->  " + m.plan.OutputMaskDir)

	rows := make([]string, 0, len(m.slots))
	for _, s := range m.slots {
		rows = append(rows, m.renderSlot(s))
	}
	panel := dashPanelStyle.Render(strings.Join(rows, "\n"))

	footer := dashMutedStyle.Render("q/ctrl+c: stop all workers")
	switch {
	case m.finished:
		footer = dashOKStyle.Render("all workers finished")
	case m.stopping:
		footer = dashErrorStyle.Render("stopping workers...")
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, sub, panel, footer) + "\n"
}

func (m launchDashboard) renderSlot(s dashboardSlot) string {
	pct := 0.0
	if s.total > 0 {
		pct = float64(s.done) / float64(s.total)
	}
	marker := " "
	status := dashMutedStyle.Render(s.status)
	switch s.status {
	case model.StatusRunning:
		marker = m.spinner.View()
		status = s.status
	case model.StatusCompleted:
		marker = dashOKStyle.Render("✓")
		status = dashOKStyle.Render(s.status)
	case model.StatusFailed:
		marker = dashErrorStyle.Render("✗")
		status = dashErrorStyle.Render(s.status)
	}
	line := fmt.Sprintf("%s gpu %-3s %s %4d/%-4d %-10s %s",
		marker, s.device, m.bar.ViewAs(pct), s.done, s.total, status, truncateRunes(s.video, 24))
	if s.errMsg != "" {
		limit := 120
		if m.width > 0 {
			limit = clampInt(m.width-8, 20, 120)
		}
		line += "\n      " + dashErrorStyle.Render(truncateRunes(s.errMsg, limit))
	}
	return line
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return string(r[:max])
	}
	return string(r[:max-1]) + "…"
}

func clampInt(v, minV, maxV int) int {
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}
