// Package ui renders live replay progress in a terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

// ANSI escape codes
const (
	ClearLine   = "\033[2K"
	MoveToStart = "\r"
	HideCursor  = "\033[?25l"
	ShowCursor  = "\033[?25h"
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorRed    = "\033[31m"
	ColorCyan   = "\033[36m"
	ColorDim    = "\033[2m"
	ColorBold   = "\033[1m"
)

// Counters are the pipeline outcome counts shown on the stats line.
type Counters struct {
	Executed int64
	Rejected int64
	Expired  int64
	Failed   int64
}

// ReplayUI draws a progress bar, an equity chart and a stats line,
// redrawing in place on every Render.
type ReplayUI struct {
	out         io.Writer
	points      []decimal.Decimal
	maxPoints   int
	chartHeight int

	current     int
	total       int
	equity      decimal.Decimal
	startEquity decimal.Decimal
	counters    Counters
	lastSymbol  string
	lastPrice   decimal.Decimal

	width        int
	linesPrinted int
}

// NewReplayUI creates a UI writing to out. Terminal width is read from out
// when it is a terminal.
func NewReplayUI(out io.Writer, total int, startEquity decimal.Decimal) *ReplayUI {
	width := terminalWidth(out)

	maxPoints := width - 20 // room for the equity axis
	if maxPoints < 20 {
		maxPoints = 20
	}
	if maxPoints > 100 {
		maxPoints = 100
	}

	return &ReplayUI{
		out:         out,
		points:      make([]decimal.Decimal, 0, maxPoints),
		maxPoints:   maxPoints,
		chartHeight: 10,
		total:       total,
		startEquity: startEquity,
		equity:      startEquity,
		width:       width,
	}
}

// Start hides the cursor.
func (ui *ReplayUI) Start() {
	fmt.Fprint(ui.out, HideCursor)
	fmt.Fprintln(ui.out)
}

// Stop restores the cursor.
func (ui *ReplayUI) Stop() {
	fmt.Fprint(ui.out, ShowCursor)
	fmt.Fprintln(ui.out)
}

// Update records one replayed tick.
func (ui *ReplayUI) Update(current int, symbol string, price, equity decimal.Decimal, c Counters) {
	ui.current = current
	ui.lastSymbol = symbol
	ui.lastPrice = price
	ui.equity = equity
	ui.counters = c

	ui.points = append(ui.points, equity)
	if len(ui.points) > ui.maxPoints {
		ui.points = ui.points[1:]
	}
}

// Render draws the current state over the previous frame.
func (ui *ReplayUI) Render() {
	if ui.linesPrinted > 0 {
		fmt.Fprintf(ui.out, "\033[%dA", ui.linesPrinted)
	}

	lines := []string{ui.progressLine()}
	lines = append(lines, ui.renderChart()...)
	lines = append(lines, ui.statsLine())

	for _, line := range lines {
		fmt.Fprint(ui.out, ClearLine)
		fmt.Fprintln(ui.out, line)
	}
	ui.linesPrinted = len(lines)
}

func (ui *ReplayUI) progressLine() string {
	progress := 0.0
	if ui.total > 0 {
		progress = float64(ui.current) / float64(ui.total)
	}
	progress = min(progress, 1)

	barWidth := max(ui.width-30, 20)
	filled := int(progress * float64(barWidth))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	return fmt.Sprintf("%s%s %.1f%% [%d/%d]%s", ColorCyan, bar, progress*100, ui.current, ui.total, ColorReset)
}

func (ui *ReplayUI) statsLine() string {
	pnlPct := decimal.Zero
	if !ui.startEquity.IsZero() {
		pnlPct = ui.equity.Sub(ui.startEquity).Div(ui.startEquity).Mul(decimal.NewFromInt(100))
	}
	pnlColor := ColorGreen
	if pnlPct.IsNegative() {
		pnlColor = ColorRed
	}

	return fmt.Sprintf("%sEquity:%s $%.2f (%s%+.2f%%%s) │ %sExec:%s %d │ %sRej:%s %d │ %sExp:%s %d │ %sFail:%s %d │ %s %s",
		ColorBold, ColorReset, ui.equity.InexactFloat64(),
		pnlColor, pnlPct.InexactFloat64(), ColorReset,
		ColorBold, ColorReset, ui.counters.Executed,
		ColorBold, ColorReset, ui.counters.Rejected,
		ColorBold, ColorReset, ui.counters.Expired,
		ColorBold, ColorReset, ui.counters.Failed,
		ui.lastSymbol, ui.lastPrice.String())
}

// renderChart plots the equity points as a line, one column per point.
func (ui *ReplayUI) renderChart() []string {
	height := ui.chartHeight
	if len(ui.points) < 2 {
		lines := make([]string, height)
		for i := range lines {
			lines[i] = ColorDim + "│" + ColorReset
		}
		return lines
	}

	lo, hi := ui.points[0], ui.points[0]
	for _, p := range ui.points {
		lo = decimal.Min(lo, p)
		hi = decimal.Max(hi, p)
	}
	span := hi.Sub(lo)
	if span.IsZero() {
		span = decimal.NewFromInt(1)
	}
	pad := span.Mul(decimal.RequireFromString("0.05"))
	lo = lo.Sub(pad)
	span = hi.Add(pad).Sub(lo)

	width := len(ui.points)
	grid := make([][]rune, height)
	for y := range grid {
		grid[y] = []rune(strings.Repeat(" ", width))
	}

	for x, p := range ui.points {
		y := valueToY(p, lo, span, height)
		grid[y][x] = '•'
	}

	lines := make([]string, 0, height+1)
	for y := 0; y < height; y++ {
		var sb strings.Builder
		if y%(height/4) == 0 {
			fmt.Fprintf(&sb, "%s%9.1f%s │", ColorDim, yToValue(y, lo, span, height).InexactFloat64(), ColorReset)
		} else {
			fmt.Fprintf(&sb, "%s          │%s", ColorDim, ColorReset)
		}
		color := ColorGreen
		if ui.equity.LessThan(ui.startEquity) {
			color = ColorRed
		}
		sb.WriteString(color)
		sb.WriteString(string(grid[y]))
		sb.WriteString(ColorReset)
		lines = append(lines, sb.String())
	}
	lines = append(lines, fmt.Sprintf("%s          └%s%s", ColorDim, strings.Repeat("─", width), ColorReset))
	return lines
}

// valueToY maps v into [0, height-1], 0 being the top row.
func valueToY(v, lo, span decimal.Decimal, height int) int {
	normalized := v.Sub(lo).Div(span)
	y := decimal.NewFromInt(int64(height - 1)).Sub(normalized.Mul(decimal.NewFromInt(int64(height - 1))))
	return min(max(int(y.Round(0).IntPart()), 0), height-1)
}

func yToValue(y int, lo, span decimal.Decimal, height int) decimal.Decimal {
	normalized := decimal.NewFromInt(int64(height - 1 - y)).Div(decimal.NewFromInt(int64(height - 1)))
	return lo.Add(span.Mul(normalized))
}

func terminalWidth(out io.Writer) int {
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil {
			return width
		}
	}
	return 80
}

// ProgressLine prints a single updating progress line.
func ProgressLine(out io.Writer, current, total int, message string) {
	progress := 0.0
	if total > 0 {
		progress = float64(current) / float64(total) * 100
	}
	fmt.Fprintf(out, "%s%s[%d/%d] %.1f%% - %s", ClearLine, MoveToStart, current, total, progress, message)
}
