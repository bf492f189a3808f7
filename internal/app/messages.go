package app

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/brensch/arxivrefs/internal/orchestrator"
	"github.com/brensch/arxivrefs/internal/processor"
	"github.com/brensch/arxivrefs/internal/util"
)

// MonthStartedMsg announces the archives selected for a month.
type MonthStartedMsg struct {
	Month    util.YearMonth
	Archives int
}

// ArchiveStartedMsg marks an archive as in flight.
type ArchiveStartedMsg struct {
	Archive string
}

// ArchiveFinishedMsg carries the terminal report of an archive.
type ArchiveFinishedMsg struct {
	Report orchestrator.ArchiveReport
}

// DocumentFinishedMsg carries one document outcome.
type DocumentFinishedMsg struct {
	Archive string
	Outcome processor.Outcome
}

// WorkDoneMsg is sent once the background work returns.
type WorkDoneMsg struct {
	Err error
}

func (m MonthStartedMsg) String() string {
	return fmt.Sprintf("MonthStarted %s: %d archives", m.Month, m.Archives)
}
func (m ArchiveStartedMsg) String() string { return fmt.Sprintf("ArchiveStarted %s", m.Archive) }
func (m ArchiveFinishedMsg) String() string {
	return fmt.Sprintf("ArchiveFinished %s: %s", m.Report.Archive, m.Report.Status)
}
func (m DocumentFinishedMsg) String() string {
	return fmt.Sprintf("DocumentFinished %s/%s: %s", m.Archive, m.Outcome.DocumentID, m.Outcome.Status)
}
func (m WorkDoneMsg) String() string { return fmt.Sprintf("WorkDone: %v", m.Err) }

// Observer forwards orchestrator notifications into a running program.
type Observer struct {
	send func(tea.Msg)
}

// NewObserver returns an Observer delivering messages through send,
// typically (*tea.Program).Send.
func NewObserver(send func(tea.Msg)) Observer {
	return Observer{send: send}
}

func (o Observer) MonthStarted(ym util.YearMonth, archives int) {
	o.send(MonthStartedMsg{Month: ym, Archives: archives})
}

func (o Observer) ArchiveStarted(archive string) {
	o.send(ArchiveStartedMsg{Archive: archive})
}

func (o Observer) ArchiveFinished(rep orchestrator.ArchiveReport) {
	o.send(ArchiveFinishedMsg{Report: rep})
}

func (o Observer) DocumentFinished(archive string, outcome processor.Outcome) {
	o.send(DocumentFinishedMsg{Archive: archive, Outcome: outcome})
}

var _ orchestrator.Observer = Observer{}
