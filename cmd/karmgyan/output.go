package main

import (
	"fmt"
	"os"

	"github.com/kalambet/karmgyan/internal/credits"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// statusLabelWidth aligns the values of printStatus lines.
const statusLabelWidth = 13

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	l := colorize(colorBold, fmt.Sprintf("%-*s", statusLabelWidth, label+":"))
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

// formatCredits renders a balance, red when nothing can be bought with it and
// yellow when it no longer covers the cheapest report.
func formatCredits(balance int) string {
	text := fmt.Sprintf("%d credits", balance)
	switch {
	case balance < credits.PriceQuestion:
		return colorize(colorRed, text)
	case balance < credits.PriceReportBasic:
		return colorize(colorYellow, text)
	default:
		return text
	}
}

// printCharge reports what an operation cost and what is left.
func printCharge(used, remaining int) {
	printStatus("Credits", "%d used, %s remaining", used, formatCredits(remaining))
	if remaining < credits.PriceQuestion {
		printWarning("balance is empty; top up with: karmgyan credits buy <amount>")
	}
}
