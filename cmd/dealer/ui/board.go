package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"taskdealer/internal/guide"
	"taskdealer/internal/scheduler"
)

// Coordinator is what the board drives.
type Coordinator interface {
	Board() *guide.Board
	Regenerate(ctx context.Context, req guide.Request) error
}

type updateMsg guide.Update

type updatesClosedMsg struct{}

type regeneratedMsg struct {
	id  int
	err error
}

// BoardModel shows every slot with its live state and, on demand, the guide
// of the selected slot.
type BoardModel struct {
	ctx     context.Context
	coord   Coordinator
	reqs    map[int]guide.Request
	updates <-chan guide.Update

	spinner  spinner.Model
	viewport viewport.Model
	styles   Styles

	ids      []int
	selected int
	detail   bool
	width    int
	height   int
	status   string
}

// NewBoardModel builds the model. updates usually comes from
// coord.Board().Subscribe().
func NewBoardModel(ctx context.Context, coord Coordinator, reqs []guide.Request, updates <-chan guide.Update) BoardModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	vp := viewport.New(80, 20)

	byID := make(map[int]guide.Request, len(reqs))
	for _, r := range reqs {
		byID[r.ID] = r
	}
	return BoardModel{
		ctx:      ctx,
		coord:    coord,
		reqs:     byID,
		updates:  updates,
		spinner:  sp,
		viewport: vp,
		styles:   DefaultStyles(),
		ids:      coord.Board().IDs(),
		width:    80,
		height:   24,
	}
}

func waitForUpdate(ch <-chan guide.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return updatesClosedMsg{}
		}
		return updateMsg(u)
	}
}

func (m BoardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForUpdate(m.updates))
}

func (m BoardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = max(msg.Width-4, 20)
		m.viewport.Height = max(msg.Height-len(m.ids)-8, 5)
		m.refreshDetail()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "k", "up":
			if !m.detail && m.selected > 0 {
				m.selected--
			}
		case "j", "down":
			if !m.detail && m.selected < len(m.ids)-1 {
				m.selected++
			}
		case "enter":
			m.detail = !m.detail
			m.refreshDetail()
			m.viewport.GotoTop()
		case "esc":
			m.detail = false
		case "r":
			if cmd := m.regenerate(); cmd != nil {
				cmds = append(cmds, cmd)
			}
		}
		if m.detail {
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			cmds = append(cmds, cmd)
		}

	case updateMsg:
		if m.detail && len(m.ids) > 0 && msg.ID == m.ids[m.selected] {
			m.refreshDetail()
		}
		cmds = append(cmds, waitForUpdate(m.updates))

	case updatesClosedMsg:

	case regeneratedMsg:
		switch {
		case errors.Is(msg.err, guide.ErrSuperseded):
		case msg.err != nil:
			m.status = fmt.Sprintf("#%d failed: %v", msg.id+1, msg.err)
		default:
			m.status = fmt.Sprintf("#%d regenerated", msg.id+1)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m BoardModel) regenerate() tea.Cmd {
	if len(m.ids) == 0 {
		return nil
	}
	id := m.ids[m.selected]
	req, ok := m.reqs[id]
	if !ok {
		return nil
	}
	coord, ctx := m.coord, m.ctx
	return func() tea.Msg {
		return regeneratedMsg{id: id, err: coord.Regenerate(ctx, req)}
	}
}

func (m *BoardModel) refreshDetail() {
	if len(m.ids) == 0 {
		return
	}
	slot, ok := m.coord.Board().Slot(m.ids[m.selected])
	if !ok {
		return
	}
	var body string
	switch {
	case slot.State == guide.StateRendered:
		body = slot.Markup
	case slot.State == guide.StateFailed:
		body = m.styles.Error.Render(fmt.Sprintf("Error: %v", slot.Err)) + "\n\nPress r to retry."
	case slot.Partial != "":
		body = slot.Partial
	default:
		body = m.styles.Muted.Render(slot.State.String() + "…")
	}
	m.viewport.SetContent(body)
}

func (m BoardModel) View() string {
	board := m.coord.Board()
	counts := board.Counts()
	done := counts[guide.StateRendered] + counts[guide.StateFailed]

	var sb strings.Builder
	sb.WriteString(m.styles.Header.Render(fmt.Sprintf("Task Assignments  %d/%d ready", done, len(m.ids))))
	sb.WriteString("\n\n")

	for i, id := range m.ids {
		slot, ok := board.Slot(id)
		if !ok {
			continue
		}
		icon := m.spinner.View()
		switch slot.State {
		case guide.StateRendered:
			icon = "✓"
		case guide.StateFailed:
			icon = "✗"
		case guide.StatePending:
			icon = "·"
		}
		line := fmt.Sprintf("%s %d. %s — %s  %s", icon, id+1,
			slot.Assignment.Members(), slot.Assignment.TaskName,
			m.styles.StateStyle(slot.State).Render(stateLabel(slot)))
		if i == m.selected {
			sb.WriteString(m.styles.Selected.Render(line))
		} else {
			sb.WriteString(m.styles.Row.Render(line))
		}
		sb.WriteString("\n")
	}

	if m.detail {
		sb.WriteString("\n")
		sb.WriteString(m.styles.Detail.Render(m.viewport.View()))
		sb.WriteString("\n")
	}
	if m.status != "" {
		sb.WriteString("\n" + m.styles.Muted.Render(m.status) + "\n")
	}
	sb.WriteString(m.styles.Footer.Render("↑/↓ select • enter guide • r regenerate • q quit"))
	return lipgloss.NewStyle().MaxWidth(m.width).Render(sb.String())
}

func stateLabel(s guide.Slot) string {
	if s.State == guide.StateRendered && s.Source == guide.SourceCache {
		return "cached"
	}
	return s.State.String()
}

// Run deals the requests through the scheduler while showing the board,
// and returns once the user quits. Runs still in flight are cancelled.
func Run(ctx context.Context, coord *guide.Coordinator, reqs []guide.Request, limit int) (scheduler.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, unsubscribe := coord.Board().Subscribe()
	defer unsubscribe()

	var (
		wg     sync.WaitGroup
		report scheduler.Report
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		report = coord.FetchAll(ctx, reqs, limit)
	}()

	model := NewBoardModel(ctx, coord, reqs, updates)
	_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()

	cancel()
	coord.CancelAll()
	wg.Wait()
	return report, err
}
