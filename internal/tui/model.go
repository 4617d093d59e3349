// Package tui is the terminal front end: one table view per orchestrator
// view, a ticker search panel and the activity console.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"screener/internal/app"
	"screener/internal/dashboard"
	"screener/internal/domain"
)

// Controller is the orchestrator surface the UI drives.
type Controller interface {
	Snapshot() app.Snapshot
	Subscribe() (int, <-chan app.Snapshot)
	Unsubscribe(id int)
	SetView(v app.View)
	SetInterval(iv domain.Interval) error
	ToggleFavorite(ctx context.Context, symbol string) error
	RemoveFavorite(ctx context.Context, symbol string) error
	Search(ctx context.Context, query string) ([]domain.SearchResult, error)
}

var _ Controller = (*app.Orchestrator)(nil)

// Options tune the program model.
type Options struct {
	SearchDebounce time.Duration
	ActivityLines  int
	Now            func() time.Time
}

const (
	defaultSearchDebounce = 300 * time.Millisecond
	defaultActivityLines  = 6
	minSearchLen          = 2
	maxSearchResults      = 8
)

// Messages.
type tickMsg time.Time

type snapshotMsg struct{ snap app.Snapshot }

type searchDebounceMsg struct{ seq int }

type searchResultMsg struct {
	seq     int
	results []domain.SearchResult
	err     error
}

type opDoneMsg struct {
	op     string
	symbol string
	err    error
}

type inputMode int

const (
	modeTable inputMode = iota
	modeFilter
	modeSearch
)

// Model is the bubbletea program model.
type Model struct {
	ctx  context.Context
	ctrl Controller
	opts Options
	log  *slog.Logger

	subID int
	subs  <-chan app.Snapshot
	snap  app.Snapshot

	view   app.View
	tables map[app.View]*TableView
	mode   inputMode

	filter textinput.Model

	search        textinput.Model
	searchSeq     int
	searchResults []domain.SearchResult
	searchCursor  int

	viewport      viewport.Model
	ready         bool
	width, height int
	now           time.Time
}

// New builds the model and subscribes it to the controller's snapshots.
func New(ctx context.Context, ctrl Controller, opts Options, log *slog.Logger) Model {
	if opts.SearchDebounce <= 0 {
		opts.SearchDebounce = defaultSearchDebounce
	}
	if opts.ActivityLines <= 0 {
		opts.ActivityLines = defaultActivityLines
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	filter := textinput.New()
	filter.Prompt = "FILTER> "
	filter.Placeholder = "symbol, exchange or name"
	filter.CharLimit = 64

	search := textinput.New()
	search.Prompt = "SEARCH> "
	search.Placeholder = "ticker or company"
	search.CharLimit = 64

	m := Model{
		ctx:    ctx,
		ctrl:   ctrl,
		opts:   opts,
		log:    log,
		tables: make(map[app.View]*TableView),
		filter: filter,
		search: search,
		now:    opts.Now(),
	}
	for _, v := range app.Views {
		m.tables[v] = NewTableView(v.String(), v == app.ViewLosers)
	}
	tracked := m.tables[app.ViewTracked]
	tracked.Intervals = domain.SelectorIntervals
	tracked.OnInterval = m.setIntervalCmd
	tracked.OnRemove = m.removeCmd

	m.subID, m.subs = ctrl.Subscribe()
	m.applySnapshot(ctrl.Snapshot())
	m.view = m.snap.View
	return m
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitSnapshot blocks for the next published snapshot.
func waitSnapshot(ch <-chan app.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return nil
		}
		return snapshotMsg{snap: snap}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), waitSnapshot(m.subs))
}

// applySnapshot feeds a snapshot into every table.
func (m *Model) applySnapshot(s app.Snapshot) {
	m.snap = s
	for _, v := range app.Views {
		m.tables[v].SetRows(s.RowsFor(v))
	}
	m.tables[app.ViewTracked].SetInterval(s.Interval)
	m.tables[app.ViewLive].SetInterval(s.StreamInterval)
}

func (m Model) active() *TableView { return m.tables[m.view] }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := max(1, m.height-m.chromeHeight())
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.render()
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		return m, tickCmd()

	case snapshotMsg:
		m.applySnapshot(msg.snap)
		m.render()
		return m, waitSnapshot(m.subs)

	case searchDebounceMsg:
		if msg.seq != m.searchSeq {
			return m, nil
		}
		return m, m.searchCmd(msg.seq, m.search.Value())

	case searchResultMsg:
		if msg.seq != m.searchSeq {
			return m, nil
		}
		if msg.err != nil {
			m.log.Warn("search failed", "error", msg.err)
			return m, nil
		}
		m.searchResults = msg.results
		if len(m.searchResults) > maxSearchResults {
			m.searchResults = m.searchResults[:maxSearchResults]
		}
		m.searchCursor = 0
		m.resize()
		return m, nil

	case opDoneMsg:
		if msg.err != nil {
			m.log.Warn("operation failed", "op", msg.op, "symbol", msg.symbol, "error", msg.err)
		}
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case modeFilter:
			return m.updateFilter(msg)
		case modeSearch:
			return m.updateSearch(msg)
		}
		return m.updateTable(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) updateTable(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	t := m.active()
	key := msg.String()
	switch key {
	case "q", "ctrl+c":
		m.ctrl.Unsubscribe(m.subID)
		return m, tea.Quit
	case "tab", "shift+tab":
		i := int(m.view)
		if key == "tab" {
			i = (i + 1) % len(app.Views)
		} else {
			i = (i - 1 + len(app.Views)) % len(app.Views)
		}
		cmd := m.switchView(app.Views[i])
		return m, cmd
	case "up", "k":
		t.MoveCursor(-1)
	case "down", "j":
		t.MoveCursor(1)
	case "pgup":
		t.MoveCursor(-m.viewport.Height)
	case "pgdown":
		t.MoveCursor(m.viewport.Height)
	case "?":
		t.ToggleHelp()
	case "/":
		m.mode = modeFilter
		m.filter.SetValue(t.Filter.Text)
		cmd := m.filter.Focus()
		return m, cmd
	case "f":
		m.mode = modeSearch
		cmd := m.search.Focus()
		m.resize()
		return m, cmd
	case "r":
		f := t.Filter
		f.RSI = (f.RSI + 1) % 3
		t.SetFilter(f)
	case "t":
		f := t.Filter
		f.Trend = (f.Trend + 1) % 3
		t.SetFilter(f)
	case "m":
		f := t.Filter
		f.MACD = (f.MACD + 1) % 3
		t.SetFilter(f)
	case "e":
		f := t.Filter
		f.Exchange = nextExchange(dashboard.Exchanges(m.snap.RowsFor(m.view)), f.Exchange)
		t.SetFilter(f)
	case "c":
		t.SetFilter(dashboard.FilterSpec{})
	case "[", "]":
		delta := 1
		if key == "[" {
			delta = -1
		}
		cmd := t.CycleInterval(delta)
		m.render()
		return m, cmd
	case "x", "delete":
		return m, t.Remove()
	case " ":
		if r, ok := t.Selected(); ok {
			return m, m.toggleCmd(r.Symbol)
		}
	default:
		if len(key) == 1 && key[0] >= '0' && key[0] <= '9' {
			i := int(key[0]-'0') - 1
			if i < 0 {
				i = 9
			}
			if i < len(Columns) {
				t.ClickHeader(Columns[i].Key)
			}
			break
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	m.render()
	return m, nil
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "esc":
		m.mode = modeTable
		m.filter.Blur()
		return m, nil
	case "ctrl+c":
		m.ctrl.Unsubscribe(m.subID)
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	t := m.active()
	f := t.Filter
	f.Text = m.filter.Value()
	t.SetFilter(f)
	m.render()
	return m, cmd
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeTable
		m.search.Blur()
		m.resize()
		return m, nil
	case "ctrl+c":
		m.ctrl.Unsubscribe(m.subID)
		return m, tea.Quit
	case "up":
		m.searchCursor = max(0, m.searchCursor-1)
		return m, nil
	case "down":
		m.searchCursor = max(0, min(m.searchCursor+1, len(m.searchResults)-1))
		return m, nil
	case "enter":
		if m.searchCursor < len(m.searchResults) {
			return m, m.toggleCmd(m.searchResults[m.searchCursor].Symbol)
		}
		return m, nil
	}

	before := m.search.Value()
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	if m.search.Value() == before {
		return m, cmd
	}
	m.searchSeq++
	if len(strings.TrimSpace(m.search.Value())) < minSearchLen {
		m.searchResults = nil
		m.searchCursor = 0
		m.resize()
		return m, cmd
	}
	seq := m.searchSeq
	debounce := tea.Tick(m.opts.SearchDebounce, func(time.Time) tea.Msg {
		return searchDebounceMsg{seq: seq}
	})
	return m, tea.Batch(cmd, debounce)
}

func (m *Model) switchView(v app.View) tea.Cmd {
	m.view = v
	m.render()
	m.viewport.GotoTop()
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.SetView(v)
		return nil
	}
}

func (m Model) searchCmd(seq int, query string) tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		res, err := ctrl.Search(ctx, query)
		return searchResultMsg{seq: seq, results: res, err: err}
	}
}

func (m Model) toggleCmd(symbol string) tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		return opDoneMsg{op: "toggle", symbol: symbol, err: ctrl.ToggleFavorite(ctx, symbol)}
	}
}

func (m Model) removeCmd(symbol string) tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		return opDoneMsg{op: "remove", symbol: symbol, err: ctrl.RemoveFavorite(ctx, symbol)}
	}
}

func (m Model) setIntervalCmd(iv domain.Interval) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		return opDoneMsg{op: "interval", symbol: string(iv), err: ctrl.SetInterval(iv)}
	}
}

// nextExchange cycles "" -> first exchange -> ... -> last -> "".
func nextExchange(exchanges []string, cur string) string {
	if cur == "" {
		if len(exchanges) == 0 {
			return ""
		}
		return exchanges[0]
	}
	for i, e := range exchanges {
		if e == cur && i+1 < len(exchanges) {
			return exchanges[i+1]
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Layout
// ---------------------------------------------------------------------------

// chromeHeight is the number of lines around the table viewport.
func (m Model) chromeHeight() int {
	h := 3 // header, tabs, filter line
	h += 1 + m.opts.ActivityLines
	h++ // footer
	if m.mode == modeSearch {
		h += 1 + max(1, len(m.searchResults))
	}
	return h
}

func (m *Model) resize() {
	if !m.ready {
		return
	}
	m.viewport.Height = max(1, m.height-m.chromeHeight())
	m.render()
}

// render refreshes the viewport content and keeps the cursor in view.
func (m *Model) render() {
	if !m.ready {
		return
	}
	t := m.active()
	if t.HelpOpen {
		m.viewport.SetContent(t.RenderHelp(m.width, m.viewport.Height))
		return
	}
	m.viewport.SetContent(t.Render(m.width, m.snap.IsFavorite))
	line := t.CursorLine()
	if line < m.viewport.YOffset+tableHeaderLines {
		m.viewport.SetYOffset(max(0, line-tableHeaderLines))
	} else if line >= m.viewport.YOffset+m.viewport.Height {
		m.viewport.SetYOffset(line - m.viewport.Height + 1)
	}
}

func (m Model) View() string {
	if !m.ready {
		return "initializing..."
	}
	var b strings.Builder

	conn := m.snap.Connection.String()
	left := " SCREENER  " + m.now.Format("2006-01-02 15:04:05")
	right := fmt.Sprintf("FEED %s  DROPPED %d ", conn, m.snap.Dropped)
	gap := max(1, m.width-len(left)-len(right))
	b.WriteString(headerBarStyle.Render(left + strings.Repeat(" ", gap) + right))
	b.WriteString("\n")

	for _, v := range app.Views {
		style := tabStyle
		if v == m.view {
			style = tabActiveStyle
		}
		b.WriteString(style.Render(v.String()))
	}
	b.WriteString("  ")
	b.WriteString(connectionStyle(m.snap.Connection).Render("● " + conn))
	b.WriteString("\n")

	t := m.active()
	if m.mode == modeFilter {
		b.WriteString(m.filter.View())
	} else {
		text := t.Filter.Text
		if text == "" {
			text = "-"
		}
		b.WriteString(dimStyle.Render(padOrTrunc("FILTER:"+text+"  "+t.FilterLabel(), m.width)))
	}
	b.WriteString("\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.mode == modeSearch {
		b.WriteString(m.search.View())
		b.WriteString("\n")
		b.WriteString(m.renderSearchResults())
	}

	b.WriteString(m.renderActivity())

	footer := " tab:view  ↑↓:select  1-9:sort  /:filter  f:search  space:track  ?:help  q:quit"
	b.WriteString(footerBarStyle.Render(padOrTrunc(footer, m.width)))
	return b.String()
}

func (m Model) renderSearchResults() string {
	var b strings.Builder
	if len(m.searchResults) == 0 {
		b.WriteString(dimStyle.Render("  no results"))
		b.WriteString("\n")
		return b.String()
	}
	for i, r := range m.searchResults {
		hl := i == m.searchCursor
		tag := "TRACK"
		tagStyle := dimStyle
		if m.snap.IsFavorite(r.Symbol) {
			tag = "TRACKED"
			tagStyle = gainStyle
		}
		b.WriteString(hlStyle(symbolStyle, hl).Render(padOrTrunc("  "+r.Symbol, 20)))
		b.WriteString(hlStyle(priceStyle, hl).Render(padOrTrunc(" "+r.Name, max(10, m.width-32))))
		b.WriteString(hlStyle(tagStyle, hl).Render(padLeft(tag, 10)))
		b.WriteString("\n")
	}
	return b.String()
}

// renderActivity draws the newest entries of the activity log.
func (m Model) renderActivity() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("ACTIVITY"))
	b.WriteString("\n")
	entries := m.snap.Activity
	if len(entries) > m.opts.ActivityLines {
		entries = entries[len(entries)-m.opts.ActivityLines:]
	}
	for _, e := range entries {
		line := fmt.Sprintf("[%s] %s", e.Time.Format("15:04:05"), strings.ToUpper(e.Message))
		b.WriteString(levelStyle(e.Level).Render(padOrTrunc(line, m.width)))
		b.WriteString("\n")
	}
	for i := len(entries); i < m.opts.ActivityLines; i++ {
		b.WriteString("\n")
	}
	return b.String()
}
