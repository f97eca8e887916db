package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/quillpdf/pdfium-host/document"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type renderModel struct {
	pdfFile string
	outFile string
	format  string
	page    *document.Page
	opts    document.RenderOptions

	prog    progress.Model
	render  *document.ProgressiveRender
	slices  int
	percent float64
	err     error
	saved   bool
}

type startedMsg struct {
	render *document.ProgressiveRender
	err    error
}

type sliceMsg struct {
	status document.Status
	err    error
}

type savedMsg struct {
	width  int
	height int
	err    error
}

type tickMsg time.Time

func newRenderModel(pdfFile, outFile, format string, page *document.Page, opts document.RenderOptions) *renderModel {
	return &renderModel{
		pdfFile: pdfFile,
		outFile: outFile,
		format:  format,
		page:    page,
		opts:    opts,
		prog:    progress.New(progress.WithDefaultGradient()),
	}
}

func (m *renderModel) Init() tea.Cmd {
	return m.start
}

func (m *renderModel) start() tea.Msg {
	r, err := m.page.StartProgressiveRender(m.opts)
	return startedMsg{render: r, err: err}
}

func tick() tea.Cmd {
	return tea.Tick(10*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *renderModel) continueSlice() tea.Msg {
	status, err := m.render.Continue()
	return sliceMsg{status: status, err: err}
}

func (m *renderModel) save() tea.Msg {
	img, err := m.render.Result()
	if err != nil {
		return savedMsg{err: err}
	}
	if err := writeImage(m.outFile, m.format, img); err != nil {
		return savedMsg{err: err}
	}
	return savedMsg{width: img.Bounds().Dx(), height: img.Bounds().Dy()}
}

func (m *renderModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.render != nil {
				m.render.Close()
			}
			return m, tea.Quit
		}

	case startedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.render = msg.render
		m.slices = 1
		return m.advance(m.render.Status())

	case tickMsg:
		return m, m.continueSlice

	case sliceMsg:
		if msg.err != nil {
			m.err = msg.err
			m.render.Close()
			return m, tea.Quit
		}
		m.slices++
		return m.advance(msg.status)

	case savedMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.saved = true
		}
		m.render.Close()
		return m, tea.Quit
	}

	return m, nil
}

func (m *renderModel) advance(status document.Status) (tea.Model, tea.Cmd) {
	switch status {
	case document.StatusDone:
		m.percent = 1
		return m, m.save
	case document.StatusFailed:
		m.err = fmt.Errorf("engine reported render failure")
		m.render.Close()
		return m, tea.Quit
	default:
		// The engine reports no granularity; show a monotone estimate.
		m.percent = float64(m.slices) / float64(m.slices+1)
		return m, tick()
	}
}

func (m *renderModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("PDF Render"))
	b.WriteString(" ")
	b.WriteString(m.pdfFile)
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	case m.saved:
		b.WriteString(resultStyle.Render("Saved " + m.outFile))
	case m.render == nil:
		b.WriteString(statusStyle.Render("Starting render..."))
	default:
		b.WriteString(m.prog.ViewAs(m.percent))
		b.WriteString("\n")
		b.WriteString(statusStyle.Render(fmt.Sprintf("slice %d, %s", m.slices, m.render.Status())))
	}

	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("q quit"))
	return b.String()
}

func runInteractive(pdfFile, outFile, format string, page *document.Page, opts document.RenderOptions) error {
	m := newRenderModel(pdfFile, outFile, format, page, opts)
	p := tea.NewProgram(m, tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(*renderModel); ok && fm.err != nil {
		return fm.err
	}
	return nil
}
