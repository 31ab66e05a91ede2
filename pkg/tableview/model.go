// Package tableview is a terminal view of a live lock table: one line per
// locked resource, and a detail pane listing its queue.
package tableview

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"blocklock/pkg/concurrency/lock"
	"blocklock/pkg/primitives"
)

// SnapshotFunc returns the current queues, ordered by resource. It may
// return nil before a table exists.
type SnapshotFunc func() []lock.QueueView

type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Select key.Binding
	Back   key.Binding
	Quit   key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "move up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "move down"),
	),
	Select: key.NewBinding(
		key.WithKeys("enter", " "),
		key.WithHelp("enter", "show queue"),
	),
	Back: key.NewBinding(
		key.WithKeys("esc", "backspace"),
		key.WithHelp("esc", "back"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

type tickMsg time.Time

// DoneMsg tells the view that the workload feeding the table has finished.
type DoneMsg struct {
	Summary string
	Err     error
}

// Model is the bubbletea model. Build it with New.
type Model struct {
	title    string
	snapshot SnapshotFunc
	interval time.Duration

	queues     []lock.QueueView
	cursor     int
	selected   primitives.BlockID
	detailMode bool
	viewport   viewport.Model
	width      int
	height     int

	done    bool
	summary string
	err     error
}

func New(title string, snapshot SnapshotFunc, interval time.Duration) Model {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return Model{
		title:    title,
		snapshot: snapshot,
		interval: interval,
		viewport: viewport.New(80, 20),
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.refresh()
		return m, m.tick()

	case DoneMsg:
		m.done = true
		m.summary = msg.Summary
		m.err = msg.Err
		m.refresh()
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport = viewport.New(max(msg.Width-4, 20), max(msg.Height-8, 5))
		m.viewport.SetContent(m.renderDetail())
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case m.detailMode && key.Matches(msg, keys.Back):
			m.detailMode = false
			return m, nil
		case !m.detailMode && key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case !m.detailMode && key.Matches(msg, keys.Down):
			if m.cursor < len(m.queues)-1 {
				m.cursor++
			}
			return m, nil
		case !m.detailMode && key.Matches(msg, keys.Select):
			if m.cursor < len(m.queues) {
				m.selected = m.queues[m.cursor].Resource
				m.detailMode = true
				m.viewport.SetContent(m.renderDetail())
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) refresh() {
	if m.snapshot != nil {
		m.queues = m.snapshot()
	}
	if m.cursor >= len(m.queues) {
		m.cursor = max(len(m.queues)-1, 0)
	}
	if m.detailMode {
		m.viewport.SetContent(m.renderDetail())
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.title) + "\n\n")
	if m.detailMode {
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("esc: back | q: quit"))
	} else {
		b.WriteString(m.renderList())
	}
	b.WriteString("\n" + m.renderStatusBar())
	return b.String()
}

func (m Model) renderList() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf(" Locked resources: %d ", len(m.queues))) + "\n\n")
	if len(m.queues) == 0 {
		b.WriteString(mutedStyle.Render("  no locks held") + "\n")
	}

	visibleStart := max(0, m.cursor-10)
	visibleEnd := min(len(m.queues), visibleStart+20)
	for i := visibleStart; i < visibleEnd; i++ {
		line := formatQueueLine(m.queues[i])
		if i == m.cursor {
			line = selectedItemStyle.Render("▶ " + line)
		} else {
			line = itemStyle.Render("  " + line)
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("↑/↓: navigate | enter: show queue | q: quit"))
	return b.String()
}

func formatQueueLine(q lock.QueueView) string {
	granted, waiting := 0, 0
	mode := "-"
	for _, r := range q.Requests {
		if r.Granted {
			granted++
			mode = r.Mode.String()
		} else {
			waiting++
		}
		if r.Upgrading {
			waiting++
		}
	}
	return fmt.Sprintf("%-20s │ %s │ %s",
		q.Resource.String(),
		grantedStyle.Render(fmt.Sprintf("%d %s", granted, mode)),
		waitingStyle.Render(fmt.Sprintf("%d waiting", waiting)))
}

func (m Model) renderDetail() string {
	var q *lock.QueueView
	for i := range m.queues {
		if m.queues[i].Resource == m.selected {
			q = &m.queues[i]
			break
		}
	}
	if q == nil {
		return detailStyle.Render(fmt.Sprintf("%s is no longer locked", m.selected))
	}

	var b strings.Builder
	b.WriteString(labelStyle.Render("Resource: ") + q.Resource.String() + "\n\n")
	for i, r := range q.Requests {
		state := waitingStyle.Render("waiting ")
		if r.Granted {
			state = grantedStyle.Render("granted ")
		}
		if r.Upgrading {
			state = waitingStyle.Render("upgrading")
		}
		fmt.Fprintf(&b, "%2d. txn %-6d %-9s %s\n", i+1, r.TxnID, r.Mode, state)
	}
	return detailStyle.Render(b.String())
}

func (m Model) renderStatusBar() string {
	state := "running"
	if m.done {
		state = "finished"
	}
	bar := statusBarStyle.Render(fmt.Sprintf(" %s | %d/%d ", state, min(m.cursor+1, len(m.queues)), len(m.queues)))
	if m.err != nil {
		return bar + "\n" + errorStyle.Render("error: "+m.err.Error())
	}
	if m.summary != "" {
		return bar + "\n" + m.summary
	}
	return bar
}
