// Package app renders a live terminal view of an extraction run.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/arxivrefs/internal/orchestrator"
	"github.com/brensch/arxivrefs/internal/processor"
	"github.com/brensch/arxivrefs/internal/util"
)

var (
	titleStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	headerStyle      = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	progressBarStyle = lipgloss.NewStyle().Padding(0, 1)
	statusStyle      = map[string]lipgloss.Style{
		"running":                               lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		string(orchestrator.StatusExtracted):    lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		"partial":                               lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		string(orchestrator.StatusFetchFailed):  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		string(orchestrator.StatusUnpackFailed): lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// recentArchives bounds the finished-archive list in the view.
const recentArchives = 8

type archiveProgress struct {
	Name      string
	Status    string
	Done      int
	Documents int
	Start     time.Time
	Elapsed   time.Duration
	ErrMsg    string
}

// Model is the bubbletea model of a run.
type Model struct {
	title    string
	cancel   context.CancelFunc
	State    AppState
	spinner  spinner.Model
	progress progress.Model

	month         util.YearMonth
	months        int
	archivesTotal int
	archivesDone  int
	ok            int
	timeouts      int
	failures      int

	active   map[string]*archiveProgress
	order    []string
	finished []*archiveProgress

	Err        error
	termWidth  int
	termHeight int
}

// NewModel returns a Model. cancel is called when the user asks to stop.
func NewModel(title string, cancel context.CancelFunc) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return &Model{
		title:    title,
		cancel:   cancel,
		State:    Running,
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient()),
		active:   make(map[string]*archiveProgress),
	}
}

func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.State == Running {
				// Stop dispatching and let running children be killed; the
				// program quits once the work returns.
				m.State = Cancelling
				if m.cancel != nil {
					m.cancel()
				}
				return m, nil
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.termHeight = msg.Height
		m.progress.Width = max(0, m.termWidth-20)
	case MonthStartedMsg:
		m.month = msg.Month
		m.months++
		m.archivesTotal += msg.Archives
		cmds = append(cmds, m.progress.SetPercent(m.percent()))
	case ArchiveStartedMsg:
		if _, ok := m.active[msg.Archive]; !ok {
			m.active[msg.Archive] = &archiveProgress{Name: msg.Archive, Status: "running", Start: time.Now()}
			m.order = append(m.order, msg.Archive)
		}
	case DocumentFinishedMsg:
		switch msg.Outcome.Status {
		case processor.StatusOK:
			m.ok++
		case processor.StatusTimeout:
			m.timeouts++
		default:
			m.failures++
		}
		if ap, ok := m.active[msg.Archive]; ok {
			ap.Done++
		}
	case ArchiveFinishedMsg:
		rep := msg.Report
		ap, ok := m.active[rep.Archive]
		if !ok {
			ap = &archiveProgress{Name: rep.Archive}
		}
		delete(m.active, rep.Archive)
		m.order = slices.DeleteFunc(m.order, func(s string) bool { return s == rep.Archive })
		ap.Status = string(rep.Status)
		if rep.Status == orchestrator.StatusExtracted && !rep.Complete() {
			ap.Status = "partial"
		}
		ap.Documents = rep.Documents
		ap.Done = rep.OK + rep.Timeouts + rep.Failures
		ap.Elapsed = rep.Duration
		if rep.Err != nil {
			ap.ErrMsg = rep.Err.Error()
		}
		m.finished = append(m.finished, ap)
		if len(m.finished) > recentArchives {
			m.finished = m.finished[len(m.finished)-recentArchives:]
		}
		m.archivesDone++
		cmds = append(cmds, m.progress.SetPercent(m.percent()))
	case WorkDoneMsg:
		m.Err = msg.Err
		m.State = Finished
		if msg.Err != nil && !errors.Is(msg.Err, context.Canceled) {
			m.State = ShowError
		}
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case progress.FrameMsg:
		progModel, cmd := m.progress.Update(msg)
		if newModel, ok := progModel.(progress.Model); ok {
			m.progress = newModel
			cmds = append(cmds, cmd)
		}
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) percent() float64 {
	if m.archivesTotal == 0 {
		return 0
	}
	return float64(m.archivesDone) / float64(m.archivesTotal)
}

// Counts returns the document outcome counters seen so far.
func (m *Model) Counts() (ok, timeouts, failures int) {
	return m.ok, m.timeouts, m.failures
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("--- " + m.title + " ---"))
	b.WriteString("\n\n")

	month := "-"
	if m.months > 0 {
		month = m.month.String()
	}
	fmt.Fprintf(&b, "%s Month %s (%d started)  ", m.spinner.View(), month, m.months)
	b.WriteString(progressBarStyle.Render(m.progress.View()))
	fmt.Fprintf(&b, " (%d/%d archives)\n", m.archivesDone, m.archivesTotal)
	fmt.Fprintf(&b, "Documents: %d ok, %d timeout, %d failed\n\n", m.ok, m.timeouts, m.failures)

	if len(m.order) > 0 || len(m.finished) > 0 {
		b.WriteString(headerStyle.Render(fmt.Sprintf("%-32s | %-13s | %-9s | %s", "Archive", "Status", "Docs", "Elapsed")))
		b.WriteString("\n")
		for _, name := range m.order {
			b.WriteString(m.line(m.active[name]))
		}
		for _, ap := range slices.Backward(m.finished) {
			b.WriteString(m.line(ap))
		}
	}

	b.WriteString("\n")
	switch m.State {
	case Running:
		b.WriteString(infoStyle.Render("Extracting... 'q' or Ctrl+C to stop."))
	case Cancelling:
		b.WriteString(infoStyle.Render("Stopping, waiting for running extractions to be killed..."))
	case Finished:
		b.WriteString(infoStyle.Render("Done."))
	case ShowError:
		b.WriteString(errorStyle.Render(wrapText("Run failed: "+m.Err.Error(), m.termWidth-4)))
	}
	b.WriteString("\n")
	return b.String()
}

func (m *Model) line(ap *archiveProgress) string {
	if ap == nil {
		return ""
	}
	style, ok := statusStyle[ap.Status]
	if !ok {
		style = infoStyle
	}
	elapsed := ap.Elapsed
	if elapsed == 0 && !ap.Start.IsZero() {
		elapsed = time.Since(ap.Start)
	}
	name := path.Base(ap.Name)
	if len(name) > 32 {
		name = name[:29] + "..."
	}
	docs := fmt.Sprintf("%d", ap.Done)
	if ap.Documents > 0 {
		docs = fmt.Sprintf("%d/%d", ap.Done, ap.Documents)
	}
	line := fmt.Sprintf("%-32s | %-13s | %-9s | %s", name, style.Render(ap.Status), docs, elapsed.Round(time.Second))
	if ap.ErrMsg != "" {
		line += "\n" + errorStyle.Render("  -> "+ap.ErrMsg)
	}
	return line + "\n"
}

// Work is the run driven under the view. It must honour ctx.
type Work func(ctx context.Context, obs orchestrator.Observer) error

// Run starts work in a goroutine and renders its progress until it returns.
// Quitting the view cancels the work; Run always waits for work to return.
func Run(ctx context.Context, title string, work Work) error {
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := NewModel(title, cancel)
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithContext(ctx))

	done := make(chan error, 1)
	go func() {
		err := work(workCtx, NewObserver(p.Send))
		done <- err
		p.Send(WorkDoneMsg{Err: err})
	}()

	_, uiErr := p.Run()
	cancel()
	workErr := <-done
	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) && !errors.Is(uiErr, context.Canceled) {
		return errors.Join(workErr, fmt.Errorf("progress view: %w", uiErr))
	}
	return workErr
}

func wrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return text
	}
	var result strings.Builder
	var currentLine strings.Builder
	for _, word := range strings.Fields(text) {
		if currentLine.Len() > 0 && currentLine.Len()+len(word)+1 > maxWidth {
			result.WriteString(currentLine.String())
			result.WriteString("\n")
			currentLine.Reset()
		}
		if currentLine.Len() > 0 {
			currentLine.WriteString(" ")
		}
		currentLine.WriteString(word)
	}
	result.WriteString(currentLine.String())
	return result.String()
}
