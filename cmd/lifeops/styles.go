package main

import (
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	PrimaryColor = lipgloss.Color("#7AA2F7")
	SuccessColor = lipgloss.Color("#4ECDC4")
	WarningColor = lipgloss.Color("#FFE66D")
	ErrorColor   = lipgloss.Color("#FF6B6B")
	SubtleColor  = lipgloss.Color("#666666")

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1)

	HeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	SuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor)
	WarningStyle = lipgloss.NewStyle().Foreground(WarningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
	SubtleStyle  = lipgloss.NewStyle().Foreground(SubtleColor)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(0, 1)
)

// printer groups thousands the way the user's locale would
var printer = message.NewPrinter(language.English)

// money formats an amount with grouping and two decimals
func money(v float64) string {
	return printer.Sprintf("%.2f", v)
}

// signed formats a delta with an explicit sign
func signed(v float64) string {
	if v > 0 {
		return "+" + money(v)
	}
	return money(v)
}

// balanceStyle colors negative balances
func balanceStyle(v float64) lipgloss.Style {
	if v < 0 {
		return ErrorStyle
	}
	return lipgloss.NewStyle()
}
