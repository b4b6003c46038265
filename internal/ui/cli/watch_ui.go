package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"nsmigrate/internal/core/ports"
	"nsmigrate/internal/engine/classify"
	"nsmigrate/internal/engine/scanner"
)

var (
	uiTitleStyle   = lipgloss.NewStyle().MarginLeft(2).Foreground(lipgloss.Color("#3B82F6")).Bold(true).Render
	uiDocStyle     = lipgloss.NewStyle().Margin(1, 2)
	uiLegacyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171")).Bold(true)
	uiMixedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FBBF24")).Bold(true)
	uiSuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	uiStatusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#64748B")).Italic(true)
)

type watchPanel int

const (
	panelFiles watchPanel = iota
	panelArtifacts
)

type analysisMsg struct {
	res *ports.AnalysisResult
	err error
}

type watchModel struct {
	project    string
	files      table.Model
	artifacts  table.Model
	panel      watchPanel
	summary    classify.Summary
	blockers   int
	warnings   int
	usages     int
	updates    int
	lastUpdate time.Time
	lastErr    string
}

func newWatchModel(project string) watchModel {
	files := table.New(
		table.WithColumns([]table.Column{
			{Title: "File", Width: 56},
			{Title: "Kind", Width: 10},
			{Title: "Refs", Width: 6},
			{Title: "State", Width: 16},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	artifacts := table.New(
		table.WithColumns([]table.Column{
			{Title: "Artifact", Width: 48},
			{Title: "State", Width: 10},
			{Title: "Tier", Width: 8},
			{Title: "Target", Width: 40},
		}),
		table.WithHeight(12),
	)
	return watchModel{project: project, files: files, artifacts: artifacts, panel: panelFiles}
}

func (m watchModel) Init() tea.Cmd {
	return nil
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "tab":
			if m.panel == panelFiles {
				m.panel = panelArtifacts
				m.files.Blur()
				m.artifacts.Focus()
			} else {
				m.panel = panelFiles
				m.artifacts.Blur()
				m.files.Focus()
			}
			return m, nil
		}
	case tea.WindowSizeMsg:
		h, v := uiDocStyle.GetFrameSize()
		height := max(msg.Height-v-8, 5)
		m.files.SetWidth(msg.Width - h)
		m.files.SetHeight(height)
		m.artifacts.SetWidth(msg.Width - h)
		m.artifacts.SetHeight(height)
		return m, nil
	case analysisMsg:
		m.lastUpdate = time.Now()
		if msg.err != nil {
			m.lastErr = msg.err.Error()
			return m, nil
		}
		m.lastErr = ""
		m.updates++
		m = m.apply(msg.res)
		return m, nil
	}

	var cmd tea.Cmd
	if m.panel == panelFiles {
		m.files, cmd = m.files.Update(msg)
	} else {
		m.artifacts, cmd = m.artifacts.Update(msg)
	}
	return m, cmd
}

func (m watchModel) apply(res *ports.AnalysisResult) watchModel {
	if res == nil {
		return m
	}
	m.summary = res.Report.Summary
	m.blockers = len(res.Report.Blockers)
	m.warnings = len(res.Warnings)
	m.usages = len(res.Usages)

	rows := make([]table.Row, 0, len(res.Usages))
	for _, u := range res.Usages {
		rows = append(rows, table.Row{u.Path, string(u.Kind), strconv.Itoa(len(u.Matches)), usageState(u)})
	}
	m.files.SetRows(rows)
	if m.files.Cursor() >= len(rows) {
		m.files.SetCursor(max(len(rows)-1, 0))
	}

	arts := make([]table.Row, 0, len(res.Report.Classifications))
	for _, c := range res.Report.Classifications {
		target := ""
		if c.Recommendation != nil {
			target = c.Recommendation.Target
		}
		arts = append(arts, table.Row{c.Artifact.ID(), string(c.State), c.Tier.String(), target})
	}
	m.artifacts.SetRows(arts)
	if m.artifacts.Cursor() >= len(arts) {
		m.artifacts.SetCursor(max(len(arts)-1, 0))
	}
	return m
}

func usageState(u scanner.FileUsage) string {
	noEquivalent := false
	for _, m := range u.Matches {
		noEquivalent = noEquivalent || m.NoEquivalent
	}
	switch {
	case u.HasDynamic():
		return "manual review"
	case noEquivalent:
		return "no equivalent"
	default:
		return "rewrite"
	}
}

func (m watchModel) View() string {
	status := uiStatusStyle.Render(fmt.Sprintf("Last update: %s | %d analyses | %d files to migrate | %d warnings",
		m.lastUpdate.Format("15:04:05"), m.updates, m.usages, m.warnings))

	var summary string
	switch {
	case m.updates == 0:
		summary = uiStatusStyle.Render("analyzing...")
	case m.summary.Legacy == 0 && m.summary.Mixed == 0 && m.usages == 0:
		summary = uiSuccessStyle.Render("Fully migrated")
	default:
		summary = fmt.Sprintf("%s | %s | %s | %d unknown | %s",
			uiLegacyStyle.Render(fmt.Sprintf("%d legacy", m.summary.Legacy)),
			uiMixedStyle.Render(fmt.Sprintf("%d mixed", m.summary.Mixed)),
			uiSuccessStyle.Render(fmt.Sprintf("%d successor", m.summary.Successor)),
			m.summary.Unknown,
			uiLegacyStyle.Render(fmt.Sprintf("%d blockers", m.blockers)))
	}

	header := fmt.Sprintf("%s\n%s | %s\n", uiTitleStyle("Namespace Migration Watch: "+m.project), status, summary)
	help := uiStatusStyle.Render("tab: files/artifacts | up/down: scroll | q: quit")

	body := m.files.View()
	if m.panel == panelArtifacts {
		body = m.artifacts.View()
	}
	if m.lastErr != "" {
		body += "\n\n" + uiLegacyStyle.Render("analysis failed: "+m.lastErr)
	}
	return uiDocStyle.Render(header + "\n" + help + "\n\n" + body)
}

// runWatchUI drives the watch loop behind a terminal UI. Quitting the UI
// stops the watch.
func runWatchUI(ctx context.Context, s *session, project string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Log lines would tear the alternate screen.
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer slog.SetDefault(prev)

	p := tea.NewProgram(newWatchModel(project), tea.WithAltScreen(), tea.WithContext(ctx))
	done := make(chan error, 1)
	go func() {
		done <- s.app.Watch(ctx, project, func(res *ports.AnalysisResult, err error) {
			p.Send(analysisMsg{res: res, err: err})
		})
		p.Quit()
	}()

	_, uiErr := p.Run()
	cancel()
	watchErr := <-done
	if errors.Is(uiErr, tea.ErrProgramKilled) {
		uiErr = nil
	}
	if errors.Is(watchErr, context.Canceled) {
		watchErr = nil
	}
	return errors.Join(watchErr, uiErr)
}
