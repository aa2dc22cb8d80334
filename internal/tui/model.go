package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// TUIRenderer drives a bubbletea program showing stage, progress bar, and
// current file for one indexing run.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *indexModel
	started bool
	done    chan struct{}
}

func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("tui: output is not a terminal")
	}
	m := newIndexModel(cfg.Workspace)
	if cfg.NoColor || DetectNoColor() {
		m.styles = noColorStyles()
	}
	return &TUIRenderer{cfg: cfg, model: m, done: make(chan struct{})}, nil
}

func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	r.program = tea.NewProgram(r.model, tea.WithAltScreen())
	r.started = true
	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(progressMsg(event))
	}
}

func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program == nil {
		return nil
	}
	r.program.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

type progressMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats

type indexModel struct {
	workspace   string
	stage       Stage
	current     int
	total       int
	currentFile string
	errors      int
	warnings    int
	complete    bool
	stats       CompletionStats
	spinner     spinner.Model
	bar         progress.Model
	styles      styles
	width       int
}

func newIndexModel(workspace string) *indexModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return &indexModel{
		workspace: workspace,
		spinner:   s,
		bar:       progress.New(progress.WithSolidFill(colorAccent), progress.WithoutPercentage()),
		styles:    defaultStyles(),
		width:     80,
	}
}

func (m *indexModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *indexModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width - 20
		if m.bar.Width < 20 {
			m.bar.Width = 20
		}
	case progressMsg:
		m.stage = msg.Stage
		m.current = msg.Current
		m.total = msg.Total
		m.currentFile = msg.CurrentFile
	case errorMsg:
		if msg.IsWarn {
			m.warnings++
		} else {
			m.errors++
		}
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *indexModel) View() string {
	if m.complete {
		return fmt.Sprintf("%s Complete: %d files, %d chunks in %s (%d errors, %d warnings)\n",
			m.styles.success.Render("done"), m.stats.Files, m.stats.Chunks,
			m.stats.Duration.Round(100*time.Millisecond), m.stats.Errors, m.stats.Warnings)
	}

	stages := []Stage{StageDiscovery, StageTag, StageChunk, StageEmbed, StageDiff}
	var pills []string
	for _, s := range stages {
		if s == m.stage {
			pills = append(pills, m.styles.active.Render("["+s.String()+"]"))
		} else if s < m.stage {
			pills = append(pills, m.styles.success.Render(s.String()))
		} else {
			pills = append(pills, m.styles.dim.Render(s.String()))
		}
	}
	header := strings.Join(pills, "  ")

	ratio := 0.0
	if m.total > 0 {
		ratio = float64(m.current) / float64(m.total)
	}
	bar := m.bar.ViewAs(ratio)

	label := fmt.Sprintf("%s %d/%d", m.spinner.View(), m.current, m.total)
	file := m.styles.label.Render(m.currentFile)

	content := strings.Join([]string{header, bar + "  " + label, file}, "\n")
	if m.errors > 0 || m.warnings > 0 {
		content += "\n" + m.styles.warning.Render(fmt.Sprintf("%d errors, %d warnings", m.errors, m.warnings))
	}

	title := "vsctoolbox index"
	if m.workspace != "" {
		title += " " + m.workspace
	}
	return m.styles.panel.Render(m.styles.header.Render(title) + "\n" + content)
}
