package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fyrsmithlabs/casesmith/internal/orchestrator"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	barWidth        = 40
)

type progressMsg orchestrator.Progress

type finishMsg struct{}

// Model is the live progress view.
type Model struct {
	stage   orchestrator.Stage
	message string
	done    int
	total   int
	passed  []orchestrator.Stage
	// yield holds the number of cases each finished strategy produced.
	yield    []float64
	bar      progress.Model
	started  time.Time
	finished bool
}

// NewModel creates an empty progress view.
func NewModel() Model {
	return Model{
		bar: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(barWidth),
		),
		yield:   make([]float64, 0, historySize),
		started: time.Now(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		if msg.Stage != m.stage {
			if m.stage != "" {
				m.passed = append(m.passed, m.stage)
			}
			m.stage = msg.Stage
		}
		m.message = msg.Message
		m.done = msg.Done
		m.total = msg.Total
		if msg.Stage == orchestrator.StageWriting && msg.Done > 0 {
			m.yield = appendToHistory(m.yield, float64(msg.Items))
		}
		return m, nil

	case finishMsg:
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model. A finished view renders nothing so the
// summary replaces it.
func (m Model) View() string {
	if m.finished {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("casesmith"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %s elapsed", time.Since(m.started).Round(time.Second))))
	b.WriteString("\n")

	for _, s := range m.passed {
		b.WriteString(okStyle.Render("  ✓ ") + dimStyle.Render(string(s)) + "\n")
	}
	if m.stage == "" {
		b.WriteString(dimStyle.Render("  starting") + "\n")
		return b.String()
	}

	b.WriteString(warningStyle.Render("  ▸ ") + valueStyle.Render(string(m.stage)))
	if m.message != "" {
		b.WriteString(" " + labelStyle.Render(m.message))
	}
	b.WriteString("\n")

	if m.total > 0 {
		pct := float64(m.done) / float64(m.total)
		b.WriteString("    " + m.bar.ViewAs(pct) + dimStyle.Render(fmt.Sprintf(" %d/%d", m.done, m.total)) + "\n")
	}
	if len(m.yield) > 0 {
		b.WriteString(sectionStyle.Render("  cases per strategy") + "\n")
		b.WriteString(createSparkline(m.yield) + "\n")
	}
	return b.String()
}

func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func createSparkline(data []float64) string {
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}

// ProgressView runs the live view on its own goroutine.
type ProgressView struct {
	program *tea.Program
	done    chan struct{}
	once    sync.Once
	err     error
}

// StartProgressView starts rendering to w. Input is not read; the caller
// keeps signal handling.
func StartProgressView(w io.Writer) *ProgressView {
	v := &ProgressView{
		program: tea.NewProgram(NewModel(),
			tea.WithOutput(w),
			tea.WithInput(nil),
			tea.WithoutSignalHandler(),
		),
		done: make(chan struct{}),
	}
	go func() {
		defer close(v.done)
		_, v.err = v.program.Run()
	}()
	return v
}

// Callback forwards coordinator progress to the view.
func (v *ProgressView) Callback() orchestrator.ProgressCallback {
	return func(p orchestrator.Progress) {
		v.program.Send(progressMsg(p))
	}
}

// Stop clears the view and waits for the renderer to exit.
func (v *ProgressView) Stop() error {
	v.once.Do(func() {
		v.program.Send(finishMsg{})
		<-v.done
	})
	return v.err
}

// LineProgress returns a callback that prints one line per stage change and
// per finished writer unit. It suits logs and pipes.
func LineProgress(w io.Writer) orchestrator.ProgressCallback {
	var last orchestrator.Stage
	return func(p orchestrator.Progress) {
		switch {
		case p.Stage != last:
			last = p.Stage
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render("["+string(p.Stage)+"]"), p.Message)
		case p.Stage == orchestrator.StageWriting && p.Done > 0:
			fmt.Fprintf(w, "%s %s done (%d/%d, %d case(s))\n", labelStyle.Render("["+string(p.Stage)+"]"), p.Message, p.Done, p.Total, p.Items)
		}
	}
}
