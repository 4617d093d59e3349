package tui

import (
	"fmt"
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"screener/internal/dashboard"
	"screener/internal/domain"
)

// Column is one sortable table column.
type Column struct {
	Key   dashboard.SortKey
	Title string
	Width int
}

// Columns are the table columns in display order. The number keys 1-9 and 0
// select them as sort headers.
var Columns = []Column{
	{dashboard.KeySymbol, "SYMBOL", 16},
	{dashboard.KeyPrice, "PRICE", 16},
	{dashboard.KeyChange, "CHG%", 9},
	{dashboard.KeyVolume, "VOLUME", 9},
	{dashboard.KeyRSI, "RSI", 7},
	{dashboard.KeyMACD, "MACD", 9},
	{dashboard.KeySMA20, "SMA20", 12},
	{dashboard.KeySMA50, "SMA50", 12},
	{dashboard.KeySMA200, "SMA200", 12},
}

// tableHeaderLines is the number of lines Render writes before the first row.
const tableHeaderLines = 2

// TableView renders one row set through the filter/sort engine. It owns the
// UI-only state of a view: filter, sort, help popover and cursor. Rows come
// in through SetRows and are never modified.
type TableView struct {
	Title string

	// Intervals offered by the interval selector; nil hides it.
	Intervals []domain.Interval
	// OnInterval is called with the newly selected interval.
	OnInterval func(domain.Interval) tea.Cmd
	// OnRemove, when set, enables the per-row remove action.
	OnRemove func(symbol string) tea.Cmd

	Filter   dashboard.FilterSpec
	Sort     dashboard.SortSpec
	HelpOpen bool

	interval domain.Interval
	source   []domain.Row
	visible  []domain.Row
	cursor   int
}

// NewTableView creates a view with the default sort: change descending, or
// ascending for a losers view.
func NewTableView(title string, losers bool) *TableView {
	return &TableView{Title: title, Sort: dashboard.DefaultSort(losers)}
}

// SetRows replaces the source rows and re-applies filter and sort. The
// cursor stays on the same symbol when it is still visible.
func (t *TableView) SetRows(rows []domain.Row) {
	t.source = rows
	t.refresh()
}

// SetInterval records the interval currently in effect, without firing
// OnInterval.
func (t *TableView) SetInterval(iv domain.Interval) { t.interval = iv }

// Interval returns the interval currently in effect.
func (t *TableView) Interval() domain.Interval { return t.interval }

// Visible returns the filtered and sorted rows.
func (t *TableView) Visible() []domain.Row { return t.visible }

// SetFilter replaces the filter spec.
func (t *TableView) SetFilter(f dashboard.FilterSpec) {
	t.Filter = f
	t.refresh()
}

func (t *TableView) refresh() {
	var sel string
	if r, ok := t.Selected(); ok {
		sel = r.Symbol
	}
	t.visible = dashboard.Apply(t.source, t.Filter, t.Sort)
	t.cursor = 0
	if sel != "" {
		if i := slices.IndexFunc(t.visible, func(r domain.Row) bool { return r.Symbol == sel }); i >= 0 {
			t.cursor = i
		}
	}
}

// ClickHeader handles a sort header activation. The active key toggles its
// direction; any other key is selected ascending.
func (t *TableView) ClickHeader(key dashboard.SortKey) {
	if t.Sort.Key == key {
		if t.Sort.Direction == dashboard.Ascending {
			t.Sort.Direction = dashboard.Descending
		} else {
			t.Sort.Direction = dashboard.Ascending
		}
	} else {
		t.Sort = dashboard.SortSpec{Key: key, Direction: dashboard.Ascending}
	}
	t.refresh()
}

// ToggleHelp opens or closes the help popover.
func (t *TableView) ToggleHelp() { t.HelpOpen = !t.HelpOpen }

// MoveCursor moves the selection by delta rows, clamped to the table.
func (t *TableView) MoveCursor(delta int) {
	t.cursor = max(0, min(t.cursor+delta, len(t.visible)-1))
}

// Cursor returns the index of the selected visible row.
func (t *TableView) Cursor() int { return t.cursor }

// CursorLine returns the rendered line of the selected row.
func (t *TableView) CursorLine() int { return tableHeaderLines + t.cursor }

// Selected returns the row under the cursor.
func (t *TableView) Selected() (domain.Row, bool) {
	if t.cursor < 0 || t.cursor >= len(t.visible) {
		return domain.Row{}, false
	}
	return t.visible[t.cursor], true
}

// CycleInterval steps the interval selector by delta and fires OnInterval.
// It does nothing when the view has no selector.
func (t *TableView) CycleInterval(delta int) tea.Cmd {
	if len(t.Intervals) == 0 {
		return nil
	}
	i := slices.Index(t.Intervals, t.interval)
	switch {
	case i < 0 && delta < 0:
		i = len(t.Intervals) - 1
	case i < 0:
		i = 0
	default:
		i = (i + delta + len(t.Intervals)) % len(t.Intervals)
	}
	t.interval = t.Intervals[i]
	if t.OnInterval == nil {
		return nil
	}
	return t.OnInterval(t.interval)
}

// Remove fires OnRemove for the selected row.
func (t *TableView) Remove() tea.Cmd {
	if t.OnRemove == nil {
		return nil
	}
	r, ok := t.Selected()
	if !ok {
		return nil
	}
	return t.OnRemove(r.Symbol)
}

// FilterLabel summarizes the active filters and sort for a status line.
func (t *TableView) FilterLabel() string {
	f := t.Filter
	parts := []string{
		"RSI:" + rsiLabel(f.RSI),
		"TREND:" + trendLabel(f.Trend),
		"MACD:" + macdLabel(f.MACD),
	}
	if f.Exchange != "" {
		parts = append(parts, "EXCH:"+f.Exchange)
	} else {
		parts = append(parts, "EXCH:ALL")
	}
	parts = append(parts, fmt.Sprintf("SORT:%s %s", t.Sort.Key, t.Sort.Direction))
	if len(t.Intervals) > 0 {
		parts = append(parts, "INTERVAL:"+t.interval.Label())
	}
	return strings.Join(parts, "  ")
}

// Render draws the table at width. isTracked marks tracked symbols.
func (t *TableView) Render(width int, isTracked func(string) bool) string {
	var b strings.Builder

	title := fmt.Sprintf("%s (%d/%d)", t.Title, len(t.visible), len(t.source))
	if len(t.Intervals) > 0 {
		title += "  [" + t.interval.Label() + "]"
	}
	b.WriteString(titleStyle.Render(padOrTrunc(title, width)))
	b.WriteString("\n")

	var hdr strings.Builder
	hdr.WriteString(colHeaderStyle.Render(padLeft("#", 4)))
	for i, c := range Columns {
		hdr.WriteString(" ")
		label := c.Title
		style := colHeaderStyle
		if t.Sort.Key == c.Key {
			style = colActiveStyle
			if t.Sort.Direction == dashboard.Ascending {
				label += "▲"
			} else {
				label += "▼"
			}
		}
		label = fmt.Sprintf("%d:%s", (i+1)%10, label)
		if i == 0 {
			hdr.WriteString(style.Render(padOrTrunc(label, c.Width)))
		} else {
			hdr.WriteString(style.Render(padLeft(label, c.Width)))
		}
	}
	b.WriteString(hdr.String())
	b.WriteString("\n")

	if len(t.visible) == 0 {
		b.WriteString(dimStyle.Render("  " + dashboard.NoData))
		b.WriteString("\n")
		return b.String()
	}

	for i, r := range t.visible {
		hl := i == t.cursor
		tracked := isTracked != nil && isTracked(r.Symbol)
		t.renderRow(&b, i, r, hl, tracked)
		b.WriteString("\n")
	}
	return b.String()
}

func (t *TableView) renderRow(b *strings.Builder, i int, r domain.Row, hl, tracked bool) {
	sp := hlStyle(lipgloss.NewStyle(), hl).Render(" ")
	b.WriteString(hlStyle(dimStyle, hl).Render(padLeft(fmt.Sprint(i+1), 4)))

	symStyle := symbolStyle
	if tracked {
		symStyle = symbolFavStyle
	}
	b.WriteString(sp)
	b.WriteString(hlStyle(symStyle, hl).Render(padOrTrunc(r.Symbol, Columns[0].Width)))

	cell := func(s string, style lipgloss.Style, col int) {
		if s == dashboard.Placeholder {
			style = dimStyle
		}
		b.WriteString(sp)
		b.WriteString(hlStyle(style, hl).Render(padLeft(s, Columns[col].Width)))
	}

	cell(dashboard.FormatPriceFit(r.Price, Columns[1].Width), priceStyle, 1)
	chgStyle := lossStyle
	if dashboard.Positive(r.ChangePercent) {
		chgStyle = gainStyle
	}
	cell(dashboard.FormatChange(r.ChangePercent), chgStyle, 2)
	cell(dashboard.FormatVolume(r.Volume), volumeStyle, 3)
	cell(dashboard.FormatIndicator(r.RSI), rsiStyle(r.RSI), 4)
	macdStyle := priceStyle
	if lv, ok := r.MACD.Get(); ok {
		if sg, ok := r.MACDSignal.Get(); ok {
			macdStyle = lossStyle
			if lv > sg {
				macdStyle = gainStyle
			}
		}
	}
	cell(dashboard.FormatIndicator(r.MACD), macdStyle, 5)
	cell(dashboard.FormatPriceFit(r.SMA20, Columns[6].Width), trendStyle(r.Price, r.SMA20), 6)
	cell(dashboard.FormatPriceFit(r.SMA50, Columns[7].Width), trendStyle(r.Price, r.SMA50), 7)
	cell(dashboard.FormatPriceFit(r.SMA200, Columns[8].Width), trendStyle(r.Price, r.SMA200), 8)
}

func rsiStyle(v domain.Value) lipgloss.Style {
	rsi, ok := v.Get()
	switch {
	case !ok:
		return dimStyle
	case rsi >= dashboard.Overbought:
		return lossStyle
	case rsi > 0 && rsi <= dashboard.Oversold:
		return gainStyle
	default:
		return priceStyle
	}
}

// trendStyle colors a moving average by whether price is above it.
func trendStyle(price, avg domain.Value) lipgloss.Style {
	p, pok := price.Get()
	a, aok := avg.Get()
	if !pok || !aok {
		return priceStyle
	}
	if p > a {
		return gainStyle
	}
	return lossStyle
}

func rsiLabel(b dashboard.RSIBucket) string {
	switch b {
	case dashboard.RSIOverbought:
		return "OVERBOUGHT"
	case dashboard.RSIOversold:
		return "OVERSOLD"
	default:
		return "ALL"
	}
}

func trendLabel(b dashboard.TrendBucket) string {
	switch b {
	case dashboard.TrendAboveSMA50:
		return ">SMA50"
	case dashboard.TrendAboveSMA200:
		return ">SMA200"
	default:
		return "ALL"
	}
}

func macdLabel(b dashboard.MACDBucket) string {
	switch b {
	case dashboard.MACDBullish:
		return "BULLISH"
	case dashboard.MACDBearish:
		return "BEARISH"
	default:
		return "ALL"
	}
}

// helpText is the body of the help popover.
const helpText = `KEYS
  tab / shift+tab   switch view
  up / down         move selection
  1-9               sort by column (again to reverse)
  /                 filter text (enter/esc to leave)
  r  t  m  e        cycle RSI / trend / MACD / exchange filter
  c                 clear filters
  [  ]              change interval (tracked view)
  space             track / untrack selected symbol
  x                 remove selected (tracked view)
  f                 search tickers
  ?                 close this help
  q                 quit

INDICATORS
  RSI    relative strength index (14); >= 70 overbought, <= 30 oversold
  MACD   level (12, 26); green when above its signal line
  SMA    simple moving average; green when price is above it
  --     value not supplied by the source`

// RenderHelp draws the help popover centered in width x height.
func (t *TableView) RenderHelp(width, height int) string {
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, popoverStyle.Render(helpText))
}
