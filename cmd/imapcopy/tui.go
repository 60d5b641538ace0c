package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	lipgloss "github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/pepperpark/imapcopy/internal/planner"
	"github.com/pepperpark/imapcopy/internal/report"
	"github.com/pepperpark/imapcopy/internal/syncer"
)

type runFunc func(ctx context.Context, observe syncer.Observer) (planner.Plan, error)

type model struct {
	cancel context.CancelFunc

	mailboxes int
	boxesDone int
	closes    int
	current   string
	total     int
	done      int
	copied    int
	bytes     uint64
	spinner   spinner.Model
	bar       progress.Model
	err       error
	finished  bool
	started   time.Time
	// Smoothed ETA for the current mailbox
	emaRate  float64 // msgs/sec (EMA)
	lastDone int
	lastAt   time.Time
}

type tickMsg time.Time
type eventMsg syncer.Event
type doneMsg struct {
	plan planner.Plan
	err  error
}

func newModel(cancel context.CancelFunc) *model {
	s := spinner.New()
	s.Spinner = spinner.Line
	bar := progress.New(progress.WithDefaultGradient())
	now := time.Now()
	return &model{cancel: cancel, spinner: s, bar: bar, started: now, lastAt: now}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.cancel()
			return m, tea.Quit
		}
	case doneMsg:
		m.err = msg.err
		m.finished = true
		return m, tea.Quit
	case eventMsg:
		m.apply(syncer.Event(msg))
		return m, nil
	case tickMsg:
		m.updateEMARate()
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *model) apply(ev syncer.Event) {
	switch ev.Type {
	case syncer.EventPlanReady:
		m.mailboxes = ev.Mailboxes
	case syncer.EventMailboxStart:
		m.current = ev.Mailbox
		m.total, m.done = 0, 0
		m.emaRate, m.lastDone, m.lastAt = 0, 0, time.Now()
	case syncer.EventMessagesFound:
		m.total = ev.Total
	case syncer.EventMessageCopied:
		m.done = ev.Done
		m.copied++
		m.bytes += uint64(ev.Size)
	case syncer.EventMailboxClosed:
		// Both sides close every mailbox.
		m.closes++
		m.boxesDone = m.closes / 2
	}
}

// fraction is the overall progress: finished mailboxes plus the share of
// the current one.
func (m *model) fraction() float64 {
	if m.mailboxes == 0 {
		return 0
	}
	f := float64(m.boxesDone)
	if m.total > 0 && m.boxesDone < m.mailboxes {
		f += float64(m.done) / float64(m.total)
	}
	return math.Min(f/float64(m.mailboxes), 1)
}

func (m *model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Render("imapcopy")
	s := title + "\n\nPress q to quit\n\n"
	s += fmt.Sprintf("%s Mailboxes %d/%d   %s %d/%d   %s\n", m.spinner.View(), m.boxesDone, m.mailboxes, m.current, m.done, m.total, m.formatETA())
	s += m.bar.ViewAs(m.fraction()) + "\n"
	s += fmt.Sprintf("Copied %d email(s), %s\n\n", m.copied, humanize.Bytes(m.bytes))
	if m.finished && m.err != nil {
		s += lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Render(report.Describe(m.err)) + "\n"
	} else if m.finished && m.mailboxes == 0 {
		hint := "The source account has no mailboxes."
		s += lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Render(hint) + "\n"
	}
	return s
}

func (m *model) formatETA() string {
	if m.total == 0 {
		return "ETA --"
	}
	remaining := m.total - m.done
	if remaining <= 0 {
		return "ETA 0s"
	}
	// Prefer smoothed rate if available; fallback to average rate
	rate := m.emaRate
	if rate <= 0.01 {
		elapsed := time.Since(m.started)
		if elapsed <= 0 {
			return "ETA --"
		}
		rate = float64(m.done) / elapsed.Seconds()
	}
	if rate <= 0.01 {
		return "ETA --"
	}
	return formatETA(time.Duration(float64(remaining) / rate * float64(time.Second)))
}

func formatETA(d time.Duration) string {
	if d < time.Second {
		return "ETA <1s"
	}
	if d > 99*time.Hour {
		return "ETA >99h"
	}
	if d >= time.Hour {
		h := int(d / time.Hour)
		mrem := int((d - time.Duration(h)*time.Hour) / time.Minute)
		return fmt.Sprintf("ETA %dh%dm", h, mrem)
	}
	if d >= time.Minute {
		return fmt.Sprintf("ETA %dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("ETA %ds", int(d.Seconds()))
}

// updateEMARate updates the EMA of processing rate based on deltas since last tick.
func (m *model) updateEMARate() {
	now := time.Now()
	dt := now.Sub(m.lastAt).Seconds()
	if dt <= 0 {
		return
	}
	inst := float64(m.done-m.lastDone) / dt
	// EMA with half-life ~3s -> alpha depends on dt
	alpha := 1 - math.Exp(-math.Ln2*dt/3.0)
	if m.emaRate == 0 {
		m.emaRate = inst
	} else {
		m.emaRate = alpha*inst + (1-alpha)*m.emaRate
	}
	m.lastDone = m.done
	m.lastAt = now
}

// runTUI runs fn while the Bubble Tea UI renders its events. It returns
// once fn has returned, even if the UI was quit or failed to start.
func runTUI(ctx context.Context, fn runFunc) (planner.Plan, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newModel(cancel)
	p := tea.NewProgram(m)
	result := make(chan doneMsg, 1)
	go func() {
		plan, err := fn(ctx, func(ev syncer.Event) { p.Send(eventMsg(ev)) })
		res := doneMsg{plan: plan, err: err}
		result <- res
		p.Send(res)
	}()

	if _, err := p.Run(); err != nil {
		fmt.Println("TUI failed:", err)
	}
	res := <-result
	return res.plan, res.err
}

// --- Confirmation TUI ---

type confirmModel struct {
	title   string
	summary string
	choice  *bool
}

func newConfirmModel(title, summary string) *confirmModel {
	return &confirmModel{title: title, summary: summary}
}

func (m *confirmModel) Init() tea.Cmd { return nil }

func (m *confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "y", "enter":
			v := true
			m.choice = &v
			return m, tea.Quit
		case "n", "q", "esc", "ctrl+c":
			v := false
			m.choice = &v
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *confirmModel) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Render(m.title)
	desc := lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Render("Press y to confirm, n to cancel")
	box := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2).Width(78).Render(m.summary)
	return fmt.Sprintf("%s\n\n%s\n\n%s\n", title, box, desc)
}

// runConfirmTUI displays a confirmation dialog with a summary and returns true if confirmed.
func runConfirmTUI(title, summary string) (bool, error) {
	m := newConfirmModel(title, summary)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		return false, err
	}
	if m.choice == nil {
		return false, nil
	}
	return *m.choice, nil
}
