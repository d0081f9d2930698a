package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/offload/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type runState int

const (
	stateRunning runState = iota
	stateDone
	stateFailed
)

type interactiveModel struct {
	opts    runOptions
	events  chan tea.Msg
	cancel  context.CancelFunc
	spin    spinner.Model
	bar     progress.Model
	state   runState
	done    int
	total   int
	retries []string
	stats   pipeline.Stats
	elapsed time.Duration
	saved   string
	err     error
}

type chunkDoneMsg struct {
	index int
	total int
}

type taskRetryMsg struct {
	id  string
	err error
}

type runDoneMsg struct {
	stats   pipeline.Stats
	elapsed time.Duration
	saved   string
	err     error
}

func newInteractiveModel(opts runOptions) *interactiveModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &interactiveModel{
		opts:   opts,
		events: make(chan tea.Msg, 64),
		spin:   sp,
		bar:    progress.New(progress.WithDefaultGradient()),
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.startRun, m.nextEvent)
}

// startRun executes the pipeline on its own goroutine, feeding lifecycle
// hooks into the event channel for the UI loop to drain.
func (m *interactiveModel) startRun() tea.Msg {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	go func() {
		defer cancel()

		p, cleanup, err := buildPipeline(ctx, m.opts)
		if err != nil {
			m.events <- runDoneMsg{err: err}
			return
		}
		defer cleanup(ctx)

		p.Hooks.OnChunkProcessed = func(index, total int) {
			m.events <- chunkDoneMsg{index: index, total: total}
		}
		p.Hooks.OnTaskError = func(t *pipeline.Task, err error) {
			m.events <- taskRetryMsg{id: t.ID, err: err}
		}

		input, _, err := loadInput(m.opts.inputFile, m.opts.mode)
		if err != nil {
			m.events <- runDoneMsg{err: err}
			return
		}

		started := time.Now()
		result, err := p.Process(ctx, m.opts.op, input)
		msg := runDoneMsg{stats: p.Stats(), elapsed: time.Since(started), err: err}
		if err == nil && m.opts.outputFile != "" {
			if werr := writeResult(m.opts.outputFile, m.opts.mode, result); werr != nil {
				msg.err = werr
			} else {
				msg.saved = m.opts.outputFile
			}
		}
		m.events <- msg
	}()

	return nil
}

func (m *interactiveModel) nextEvent() tea.Msg {
	return <-m.events
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case chunkDoneMsg:
		m.done++
		m.total = msg.total
		return m, m.nextEvent

	case taskRetryMsg:
		line := fmt.Sprintf("%s: %v", msg.id, msg.err)
		m.retries = append(m.retries, line)
		if len(m.retries) > 5 {
			m.retries = m.retries[len(m.retries)-5:]
		}
		return m, m.nextEvent

	case runDoneMsg:
		m.stats = msg.stats
		m.elapsed = msg.elapsed
		m.saved = msg.saved
		m.err = msg.err
		if msg.err != nil {
			m.state = stateFailed
		} else {
			m.state = stateDone
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Offload"))
	b.WriteString(" ")
	b.WriteString(m.opts.inputFile)
	b.WriteString(" ")
	b.WriteString(labelStyle.Render("(" + m.opts.mode + " / " + m.opts.op + ")"))
	b.WriteString("\n\n")

	switch m.state {
	case stateRunning:
		if m.total == 0 {
			b.WriteString(m.spin.View())
			b.WriteString(" splitting payload...\n")
		} else {
			fmt.Fprintf(&b, "%s %d / %d chunks\n\n", m.spin.View(), m.done, m.total)
			b.WriteString(m.bar.ViewAs(float64(m.done) / float64(m.total)))
			b.WriteString("\n")
		}
		for _, line := range m.retries {
			b.WriteString(errorStyle.Render("retry " + line))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("q abort"))

	case stateDone:
		b.WriteString(okStyle.Render("Done"))
		fmt.Fprintf(&b, " in %s\n\n", m.elapsed.Round(time.Millisecond))
		fmt.Fprintf(&b, "%s %d completed, %d failed, %d retries\n",
			labelStyle.Render("Tasks:"),
			m.stats.CompletedTasks, m.stats.FailedTasks, m.stats.Retries)
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Avg latency:"),
			m.stats.AvgDuration.Round(time.Microsecond))
		if m.saved != "" {
			fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Saved to:"), m.saved)
		} else {
			b.WriteString(helpStyle.Render("use -output to save the merged result\n"))
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("q quit"))

	case stateFailed:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("q quit"))
	}

	return b.String()
}

func runInteractive(opts runOptions) error {
	p := tea.NewProgram(newInteractiveModel(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
