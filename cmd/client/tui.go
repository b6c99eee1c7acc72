package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/corelaunch/chartfeed/feed"
	"github.com/corelaunch/chartfeed/interval"
	"github.com/corelaunch/chartfeed/model/ohlc"
)

// ── styles ────────────────────────────────────────────────────────────────────

var (
	bullStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#26a641"))
	bearStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#e05c5c"))
	wickStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	flatStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	axisStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#aaaaaa"))
	errStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#e05c5c"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
)

// ── messages ──────────────────────────────────────────────────────────────────

type updateMsg struct{ u feed.Update }

// intervalKeys maps number keys to catalog intervals.
var intervalKeys = map[string]interval.Interval{
	"1": interval.OneMinute,
	"2": interval.FiveMinutes,
	"3": interval.FifteenMinutes,
	"4": interval.OneHour,
	"5": interval.FourHours,
	"6": interval.OneDay,
	"7": interval.OneWeek,
}

// ── model ─────────────────────────────────────────────────────────────────────

type model struct {
	tokenID string
	iv      string
	ch      <-chan feed.Update
	send    func(controlMsg)

	update feed.Update
	width  int
	height int
}

func newModel(tokenID, iv string, ch <-chan feed.Update, send func(controlMsg)) model {
	return model{
		tokenID: tokenID,
		iv:      iv,
		ch:      ch,
		send:    send,
	}
}

// ── Init / Update / View ──────────────────────────────────────────────────────

func (m model) Init() tea.Cmd {
	return waitForUpdate(m.ch)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		key := msg.String()
		switch key {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			send := m.send
			return m, func() tea.Msg {
				send(controlMsg{Refresh: true})
				return nil
			}
		}
		if iv, ok := intervalKeys[key]; ok {
			m.iv = string(iv)
			send := m.send
			return m, func() tea.Msg {
				send(controlMsg{Interval: string(iv)})
				return nil
			}
		}

	case updateMsg:
		m.update = msg.u
		if msg.u.Snapshot != nil {
			m.iv = string(msg.u.Snapshot.Interval)
		}
		return m, waitForUpdate(m.ch)
	}

	return m, nil
}

func (m model) View() string {
	if m.width == 0 {
		return "connecting…"
	}
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteByte('\n')
	b.WriteString(m.renderChart())
	b.WriteByte('\n')
	b.WriteString(footerStyle.Render("[1-7] interval  [r] refresh  [q] quit"))
	return b.String()
}

// waitForUpdate blocks on the channel and returns a Cmd that fires updateMsg.
func waitForUpdate(ch <-chan feed.Update) tea.Cmd {
	return func() tea.Msg {
		return updateMsg{<-ch}
	}
}

// ── header ────────────────────────────────────────────────────────────────────

func (m model) renderHeader() string {
	snap := m.update.Snapshot

	switch {
	case m.update.State == feed.StateError && snap == nil:
		return errStyle.Render(fmt.Sprintf("%s  %s  failed to load chart data: %s",
			m.tokenID, m.iv, m.update.Error))
	case snap == nil:
		return headerStyle.Render(fmt.Sprintf("%s  %s  loading…", m.tokenID, m.iv))
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("%s  %s", m.tokenID, snap.Interval))

	if snap.LatestPrice != nil {
		parts = append(parts, fmt.Sprintf("last %s", formatPrice(snap.LatestPrice.Price)))
	}
	if ch := snap.Change; ch != nil {
		style := bullStyle
		sign := "+"
		if !ch.Positive {
			style = bearStyle
			sign = ""
		}
		parts = append(parts, style.Render(fmt.Sprintf("%s%s (%s%.2f%%)",
			sign, formatPrice(ch.Change), sign, ch.Percent)))
	}
	if snap.Synthesized {
		parts = append(parts, axisStyle.Render("synthesized"))
	}
	if m.update.NoData {
		parts = append(parts, axisStyle.Render("no data in range"))
	}
	if m.update.State == feed.StateError {
		parts = append(parts, errStyle.Render("stale"))
	}

	return headerStyle.Render(strings.Join(parts, "  "))
}

// formatPrice keeps tiny bonding-curve prices readable.
func formatPrice(v float64) string {
	if v != 0 && math.Abs(v) < 0.000001 {
		return fmt.Sprintf("%.3e", v)
	}
	return fmt.Sprintf("%.6f", v)
}

// ── chart ─────────────────────────────────────────────────────────────────────

const yAxisWidth = 13 // "  0.00012345 │"

func (m model) renderChart() string {
	snap := m.update.Snapshot
	if snap == nil || len(snap.Series.Candles) == 0 {
		return ""
	}

	// Reserve: 1 header + chart rows + 1 x-axis + 1 time labels +
	// 1 volume row + 1 footer.
	chartH := m.height - 5
	if chartH < 3 {
		chartH = 3
	}

	candles := snap.Series.Candles
	chartW := m.width - yAxisWidth
	maxCols := chartW / 2 // each candle occupies 2 chars
	if maxCols < 1 {
		maxCols = 1
	}
	if len(candles) > maxCols {
		candles = candles[len(candles)-maxCols:]
	}
	volumes := visibleVolumes(snap.Series.Volumes, candles)

	hi, lo := priceRange(candles)
	if hi == lo {
		hi = lo * 1.0001
		lo = lo * 0.9999
		if hi == lo { // lo == 0
			hi = 1
		}
	}

	cols := len(candles) * 2
	grid := make([][]string, chartH)
	for r := range grid {
		grid[r] = make([]string, cols)
		for c := range grid[r] {
			grid[r][c] = " "
		}
	}

	for i, c := range candles {
		renderCandle(grid, c, i*2, chartH, hi, lo)
	}

	var b strings.Builder
	for row := 0; row < chartH; row++ {
		price := rowToPrice(row, chartH, hi, lo)
		b.WriteString(axisStyle.Render(fmt.Sprintf("%11.8f │", price)))
		b.WriteString(strings.Join(grid[row], ""))
		b.WriteByte('\n')
	}

	b.WriteString(axisStyle.Render(strings.Repeat("─", yAxisWidth+cols)))
	b.WriteByte('\n')

	// Volume histogram, one block per candle column.
	b.WriteString(strings.Repeat(" ", yAxisWidth))
	b.WriteString(renderVolumes(volumes, candles))
	b.WriteByte('\n')

	// Time labels anchored every 10 candles.
	b.WriteString(strings.Repeat(" ", yAxisWidth))
	b.WriteString(renderTimeLabels(candles))

	return b.String()
}

// visibleVolumes aligns the volume series to the visible candle window
// by timestamp.
func visibleVolumes(volumes []ohlc.VolumeBar, candles []ohlc.Candle) map[int64]ohlc.VolumeBar {
	byTime := make(map[int64]ohlc.VolumeBar, len(volumes))
	for _, v := range volumes {
		byTime[v.Timestamp] = v
	}
	out := make(map[int64]ohlc.VolumeBar, len(candles))
	for _, c := range candles {
		if v, ok := byTime[c.Timestamp]; ok {
			out[c.Timestamp] = v
		}
	}
	return out
}

var volumeBlocks = []rune("▁▂▃▄▅▆▇█")

func renderVolumes(volumes map[int64]ohlc.VolumeBar, candles []ohlc.Candle) string {
	var maxVol float64
	for _, v := range volumes {
		if v.Value > maxVol {
			maxVol = v.Value
		}
	}

	var b strings.Builder
	for _, c := range candles {
		v, ok := volumes[c.Timestamp]
		if !ok || maxVol == 0 || v.Value == 0 {
			b.WriteString("  ")
			continue
		}
		idx := int(v.Value / maxVol * float64(len(volumeBlocks)-1))
		block := string(volumeBlocks[idx])
		style := bearStyle
		if v.Up {
			style = bullStyle
		}
		b.WriteString(style.Render(block))
		b.WriteString(" ")
	}
	return b.String()
}

func renderTimeLabels(candles []ohlc.Candle) string {
	var b strings.Builder
	col := 0
	for i, c := range candles {
		if col > i*2 {
			continue
		}
		if i%10 == 0 {
			label := time.Unix(c.Timestamp, 0).UTC().Format("15:04")
			b.WriteString(axisStyle.Render(label))
			col = i*2 + len(label)
			continue
		}
		b.WriteString("  ")
		col += 2
	}
	return b.String()
}

// renderCandle paints one candle into the grid at column x (2 wide).
// Flat gap-filled candles draw as a single dash so they read as "no
// trading" rather than a real body.
func renderCandle(grid [][]string, c ohlc.Candle, x, chartH int, hi, lo float64) {
	bullish := c.Close >= c.Open
	style := bullStyle
	if !bullish {
		style = bearStyle
	}
	flat := c.Open == c.Close && c.High == c.Low

	bodyTop := priceToRow(math.Max(c.Open, c.Close), chartH, hi, lo)
	bodyBot := priceToRow(math.Min(c.Open, c.Close), chartH, hi, lo)
	wickTop := priceToRow(c.High, chartH, hi, lo)
	wickBot := priceToRow(c.Low, chartH, hi, lo)

	for row := 0; row < chartH; row++ {
		inBody := row >= bodyTop && row <= bodyBot
		inWick := row >= wickTop && row <= wickBot

		var left, right string
		switch {
		case flat && inBody:
			left = flatStyle.Render("─")
			right = flatStyle.Render("─")
		case inBody:
			left = style.Render("█")
			right = style.Render("█")
		case inWick:
			left = wickStyle.Render("│")
			right = " "
		default:
			left = " "
			right = " "
		}

		if x < len(grid[row]) {
			grid[row][x] = left
		}
		if x+1 < len(grid[row]) {
			grid[row][x+1] = right
		}
	}
}

// priceToRow converts a price to a grid row (0 = top = high).
func priceToRow(price float64, chartH int, hi, lo float64) int {
	if hi == lo {
		return chartH / 2
	}
	row := (hi - price) / (hi - lo) * float64(chartH-1)
	r := int(math.Round(row))
	if r < 0 {
		r = 0
	}
	if r >= chartH {
		r = chartH - 1
	}
	return r
}

// rowToPrice is the inverse of priceToRow.
func rowToPrice(row, chartH int, hi, lo float64) float64 {
	if chartH <= 1 {
		return hi
	}
	return hi - float64(row)/float64(chartH-1)*(hi-lo)
}

// priceRange returns the overall high and low across visible candles.
func priceRange(candles []ohlc.Candle) (hi, lo float64) {
	hi = -math.MaxFloat64
	lo = math.MaxFloat64
	for _, c := range candles {
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
	}
	if hi == -math.MaxFloat64 {
		hi, lo = 0, 0
	}
	return
}
