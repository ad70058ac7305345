package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/maintenance"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle = lipgloss.NewStyle().Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	tableStyle = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
)

// snapshotMsg carries one refresh of the dashboard data.
type snapshotMsg struct {
	stats   maintenance.QueueStats
	workers []maintenance.WorkerView
	at      time.Time
	err     error
	manual  bool
}

type tickMsg time.Time

// monitorModel is the live queue dashboard.
type monitorModel struct {
	ctx     context.Context
	admin   queueAdmin
	refresh time.Duration
	now     func() time.Time

	stats   maintenance.QueueStats
	workers table.Model
	updated time.Time
	err     error
	loaded  bool
}

func newMonitorModel(ctx context.Context, admin queueAdmin, refresh time.Duration) monitorModel {
	columns := []table.Column{
		{Title: "WORKER", Width: 24},
		{Title: "STATUS", Width: 8},
		{Title: "CLASSES", Width: 22},
		{Title: "OUT", Width: 4},
		{Title: "DONE", Width: 6},
		{Title: "FAILED", Width: 6},
		{Title: "LAST SEEN", Width: 12},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	return monitorModel{
		ctx:     ctx,
		admin:   admin,
		refresh: refresh,
		now:     time.Now,
		workers: t,
	}
}

func (m monitorModel) fetch(manual bool) tea.Cmd {
	return func() tea.Msg {
		msg := snapshotMsg{at: m.now(), manual: manual}
		if msg.stats, msg.err = m.admin.Stats(m.ctx); msg.err != nil {
			return msg
		}
		msg.workers, msg.err = m.admin.Workers(m.ctx)
		return msg
	}
}

func (m monitorModel) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m monitorModel) Init() tea.Cmd {
	return m.fetch(false)
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetch(true)
		}
	case tea.WindowSizeMsg:
		if h := msg.Height - 12; h > 3 {
			m.workers.SetHeight(h)
		}
		return m, nil
	case tickMsg:
		return m, m.fetch(false)
	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.stats = msg.stats
			m.updated = msg.at
			m.loaded = true
			rows := workerRows(msg.workers, msg.at)
			tableRows := make([]table.Row, len(rows))
			for i, r := range rows {
				tableRows[i] = r
			}
			m.workers.SetRows(tableRows)
		}
		if msg.manual {
			return m, nil
		}
		return m, m.tick()
	}

	var cmd tea.Cmd
	m.workers, cmd = m.workers.Update(msg)
	return m, cmd
}

func (m monitorModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("swarm queue monitor"))
	b.WriteString("\n\n")

	if !m.loaded && m.err == nil {
		b.WriteString("loading...\n")
		return b.String()
	}

	stat := func(label string, value any) string {
		return labelStyle.Render(label+" ") + valueStyle.Render(fmt.Sprint(value))
	}
	s := m.stats
	b.WriteString(strings.Join([]string{
		stat("pending", s.Tasks[domain.TaskStatusPending]),
		stat("assigned", s.Tasks[domain.TaskStatusAssigned]),
		stat("completed", s.Tasks[domain.TaskStatusCompleted]),
		stat("failed", s.Tasks[domain.TaskStatusFailed]),
		stat("high priority", s.HighPriorityPending),
	}, "   "))
	b.WriteString("\n")
	b.WriteString(strings.Join([]string{
		stat("subjects", s.Subjects.Total),
		stat("analyzed", fmt.Sprintf("%d (%.1f%%)", s.Subjects.Analyzed, s.Subjects.CompletionPct)),
		stat("indexed", s.PriorityIndexSize),
		stat("workers", fmt.Sprintf("%d/%d active", s.Workers.Active, s.Workers.Total)),
	}, "   "))
	b.WriteString("\n\n")

	b.WriteString(tableStyle.Render(m.workers.View()))
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errStyle.Render("refresh failed: " + m.err.Error()))
		b.WriteString("\n")
	}
	footer := fmt.Sprintf("updated %s · every %s · r refresh · q quit", m.updated.Format("15:04:05"), m.refresh)
	b.WriteString(helpStyle.Render(footer))
	b.WriteString("\n")
	return b.String()
}

func runMonitor(ctx context.Context, admin queueAdmin, args []string, out io.Writer) error {
	fs := newFlagSet("monitor", out)
	refresh := fs.Duration("refresh", 5*time.Second, "refresh interval")
	if err := fs.Parse(args); err != nil || *refresh <= 0 {
		return errUsage
	}

	p := tea.NewProgram(newMonitorModel(ctx, admin, *refresh),
		tea.WithContext(ctx),
		tea.WithOutput(out),
		tea.WithAltScreen(),
	)
	_, err := p.Run()
	if err != nil && ctx.Err() != nil && errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
