package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// pre styled colors, all from lipgloss
var (
	appTitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle  = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle      = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	badgeStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Foreground(lipgloss.Color("255")).Padding(0, 2).MarginTop(1)
	awayStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	noticeBoxStyle  = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(0, 1).MarginTop(1)
	noticeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	menuHotkeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	menuHintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	dividerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	liveDotStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

func (model *WatcherModel) View() string {
	header := appTitleStyle.Render(strings.Join([]string{
		"Visitor Tracker",
		"Page " + model.page,
		"Server " + model.serverURL,
	}, dividerStyle))

	sections := []string{header, model.renderStatus()}
	if badge := model.BadgeText(); badge != "" {
		sections = append(sections, badgeStyle.Render(liveDotStyle.Render("●")+" "+badge))
	}
	if !model.visible {
		sections = append(sections, awayStyle.Render("You are away; this tab does not count."))
	}
	if notices := model.renderNotices(); notices != "" {
		sections = append(sections, notices)
	}
	sections = append(sections, model.renderHints())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *WatcherModel) renderStatus() string {
	switch {
	case model.isConnected:
		line := "Connected"
		if model.lastRTT > 0 {
			line += fmt.Sprintf(" · rtt %s", model.lastRTT.Round(100*time.Microsecond))
		}
		return connectedStyle.Render(line)
	case model.connectionError != nil:
		return errorStyle.Render("Connection error: "+model.connectionError.Error()) + "\n" +
			connectingStyle.Render(model.spinner.View()+" retrying…")
	default:
		return connectingStyle.Render(model.spinner.View() + " Connecting…")
	}
}

func (model *WatcherModel) renderNotices() string {
	if len(model.notices) == 0 {
		return ""
	}
	lines := make([]string, 0, len(model.notices))
	for _, notice := range model.notices {
		lines = append(lines, noticeStyle.Render(notice))
	}
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (model *WatcherModel) renderHints() string {
	toggle := "go away"
	if !model.visible {
		toggle = "come back"
	}
	return menuHintStyle.Render(strings.Join([]string{
		renderMenuOption("space", toggle),
		renderMenuOption("p", "ping"),
		renderMenuOption("q", "quit"),
	}, "  "))
}

func renderMenuOption(hotkey string, label string) string {
	return menuHotkeyStyle.Render(hotkey) + " " + label
}

func formatVisitors(count int) string {
	if count == 1 {
		return "1 visitor"
	}
	return fmt.Sprintf("%d visitors", count)
}
