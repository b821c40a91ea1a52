package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tOgg1/campusmarket/internal/models"
	"github.com/tOgg1/campusmarket/internal/trade"
)

func (m model) View() string {
	if m.quitting {
		return ""
	}

	width := maxInt(minWindowWidth, m.width)
	height := maxInt(minWindowHeight, m.height)

	header := m.renderHeader(width)
	footer := m.renderFooter()
	status := m.renderStatus()

	overhead := lipgloss.Height(header) + lipgloss.Height(footer)
	if status != "" {
		overhead += lipgloss.Height(status)
	}
	paneHeight := maxInt(6, height-overhead)

	listWidth := maxInt(24, width/3)
	chatWidth := maxInt(30, width-listWidth)

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderList(listWidth, paneHeight),
		m.renderChat(chatWidth, paneHeight),
	)

	parts := []string{header, body}
	if status != "" {
		parts = append(parts, status)
	}
	parts = append(parts, footer)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m model) renderHeader(width int) string {
	title := m.palette.fg(m.palette.Accent).Bold(true).Render("campusmarket")
	link := m.palette.fg(m.palette.Warning).Render("○ polling")
	if m.connected {
		link = m.palette.fg(m.palette.Success).Render("● live")
	}
	who := m.palette.fg(m.palette.Muted).Render(m.session.UserID())
	left := title + "  " + who
	gap := maxInt(1, width-lipgloss.Width(left)-lipgloss.Width(link))
	return left + strings.Repeat(" ", gap) + link
}

func (m model) renderList(width, height int) string {
	innerWidth := maxInt(10, width-4)
	innerHeight := maxInt(1, height-2)
	selected := m.session.Selected()
	userID := m.session.UserID()

	lines := make([]string, 0, len(m.conversations))
	if len(m.conversations) == 0 {
		lines = append(lines, m.palette.fg(m.palette.Muted).Render("no conversations"))
	}
	for i, conv := range m.conversations {
		marker := "  "
		if conv.ID == selected {
			marker = "▸ "
		}
		name := truncate(conversationTitle(conv, userID), innerWidth-8)
		line := marker + name
		if n := conv.UnreadFor(userID); n > 0 {
			line += " " + m.palette.fg(m.palette.Accent).Bold(true).Render(fmt.Sprintf("(%d)", n))
		}
		if conv.IsCompleted {
			line += " " + m.palette.fg(m.palette.Muted).Render("sold")
		}
		style := m.palette.fg(m.palette.Text)
		if i == m.cursor && m.focus == focusList {
			style = style.Reverse(true)
		}
		lines = append(lines, style.Render(line))
	}
	lines = clampTail(lines, innerHeight, m.cursor)

	return m.palette.pane(m.focus == focusList).
		Width(innerWidth).
		Height(innerHeight).
		Render(strings.Join(lines, "\n"))
}

func (m model) renderChat(width, height int) string {
	innerWidth := maxInt(10, width-4)
	innerHeight := maxInt(1, height-2)

	conv, ok := m.session.Conversation()
	if !ok {
		hint := m.palette.fg(m.palette.Muted).Render("select a conversation and press enter")
		return m.palette.pane(false).Width(innerWidth).Height(innerHeight).Render(hint)
	}

	userID := m.session.UserID()
	heading := m.palette.fg(m.palette.Text).Bold(true).Render(conversationTitle(conv, userID))
	if conv.Product != nil {
		heading += m.palette.fg(m.palette.Muted).Render(fmt.Sprintf("  %.2f · %s", conv.Product.Price, tradeLabel(conv)))
	}

	composer := m.renderComposer(conv)
	available := maxInt(1, innerHeight-lipgloss.Height(heading)-lipgloss.Height(composer)-1)

	lines := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		lines = append(lines, m.renderMessage(msg, userID, innerWidth))
	}
	if len(lines) == 0 {
		lines = append(lines, m.palette.fg(m.palette.Muted).Render("no messages yet"))
	}
	if len(lines) > available {
		lines = lines[len(lines)-available:]
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		heading,
		strings.Join(lines, "\n"),
		"",
		composer,
	)
	return m.palette.pane(m.focus == focusComposer).
		Width(innerWidth).
		Height(innerHeight).
		Render(content)
}

func (m model) renderMessage(msg models.Message, userID string, width int) string {
	color := m.palette.Other
	name := msg.Sender.DisplayName()
	if msg.Sender.ID == userID {
		color = m.palette.Own
		name = "you"
	}
	if msg.IsAdminMessage {
		color = m.palette.Warning
		name = "admin"
	}

	var b strings.Builder
	if m.showTimestamps && !msg.CreatedAt.IsZero() {
		b.WriteString(m.palette.fg(m.palette.Muted).Render(msg.CreatedAt.Local().Format("15:04")))
		b.WriteString(" ")
	}
	b.WriteString(m.palette.fg(color).Bold(true).Render(name))
	b.WriteString(" ")
	b.WriteString(truncate(messageBody(msg), maxInt(10, width-lipgloss.Width(b.String()))))
	if msg.IsDraft() {
		b.WriteString(m.palette.fg(m.palette.Muted).Render(" sending…"))
	}
	return b.String()
}

func (m model) renderComposer(conv models.Conversation) string {
	if !trade.CanSend(&conv) {
		return m.palette.fg(m.palette.Muted).Render("trade completed: this conversation is closed")
	}
	prompt := m.palette.fg(m.palette.Accent).Render("> ")
	text := m.input
	if m.focus == focusComposer {
		text += "█"
	} else if text == "" {
		text = m.palette.fg(m.palette.Muted).Render("tab to write a message")
	}
	return prompt + text
}

func (m model) renderStatus() string {
	if m.statusText == "" || (!m.statusExpires.IsZero() && time.Now().After(m.statusExpires)) {
		return ""
	}
	color := m.palette.Text
	switch m.statusKind {
	case statusOK:
		color = m.palette.Success
	case statusErr:
		color = m.palette.Error
	}
	return m.palette.fg(color).Render(m.statusText)
}

func (m model) renderFooter() string {
	keys := "tab focus · enter open/send · ctrl+t complete trade · ctrl+r refresh · r mark read · q quit"
	return m.palette.fg(m.palette.Muted).Render(keys)
}

func conversationTitle(conv models.Conversation, userID string) string {
	if conv.Product != nil && conv.Product.Title != "" {
		return conv.Product.Title
	}
	if other, ok := conv.OtherParticipant(userID); ok {
		return other.DisplayName()
	}
	return conv.ID
}

func tradeLabel(conv models.Conversation) string {
	if conv.IsCompleted {
		return "sold"
	}
	return "available"
}

func messageBody(msg models.Message) string {
	parts := make([]string, 0, 3)
	if text := strings.TrimSpace(msg.Content); text != "" {
		parts = append(parts, strings.ReplaceAll(text, "\n", " "))
	}
	if msg.Location != nil {
		label := msg.Location.Label
		if label == "" {
			label = fmt.Sprintf("%.4f, %.4f", msg.Location.Latitude, msg.Location.Longitude)
		}
		parts = append(parts, "[location: "+label+"]")
	}
	if n := len(msg.Attachments); n > 0 {
		noun := "attachment"
		if n > 1 {
			noun = "attachments"
		}
		parts = append(parts, fmt.Sprintf("[%d %s]", n, noun))
	}
	return strings.Join(parts, " ")
}

// clampTail keeps at most n lines, scrolled so that index stays visible.
func clampTail(lines []string, n, index int) []string {
	if len(lines) <= n {
		return lines
	}
	start := 0
	if index >= n {
		start = index - n + 1
	}
	return lines[start : start+n]
}

func truncate(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if width <= 1 || len(runes) <= 1 {
		return string(runes[:1])
	}
	for len(runes) > 0 && lipgloss.Width(string(runes)) > width-1 {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
