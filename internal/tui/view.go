package tui

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const sidebarWidth = 34

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	sidebarStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).Width(sidebarWidth)
	activeBorder   = lipgloss.Color("12")
	headingStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cursorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`[^.!?]+[.!?]+|[^.!?]+$`)
	helpDocuments  = "↑/↓ move · space toggle · a all · p process · tab back"
	helpQuestion   = "enter ask · tab documents · ctrl+p process · pgup/pgdn scroll"
)

// View renders the TUI layout and current answer.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headingStyle.Render("Document QA")

	sidebar := sidebarStyle
	results := resultBoxStyle
	input := queryBoxStyle
	if m.focus == focusDocuments {
		sidebar = sidebar.BorderForeground(activeBorder)
	} else {
		input = input.BorderForeground(activeBorder)
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		sidebar.Height(m.viewport.Height).Render(m.renderSidebar()),
		results.Render(m.viewport.View()),
	)
	help := helpQuestion
	if m.focus == focusDocuments {
		help = helpDocuments
	}
	status := statusStyle.Render(m.status)
	return header + "\n" + body + "\n" + input.Render(m.input.View()) + "\n" + status + "\n" + mutedStyle.Render(help)
}

func (m *Model) resize(width, height int) {
	rw, rh := resultBoxStyle.GetFrameSize()
	_, qh := queryBoxStyle.GetFrameSize()
	sw, _ := sidebarStyle.GetFrameSize()
	reserved := 1 + qh + 1 + 2 + 1 // header, input box, status, help, spacer
	m.viewport.Width = max(20, width-sidebarWidth-sw-rw)
	m.viewport.Height = max(3, height-reserved-rh)
	m.input.Width = max(10, width-6)
}

func (m Model) renderSidebar() string {
	var b strings.Builder
	b.WriteString(headingStyle.Render("Documents for context"))
	b.WriteString("\n")
	if len(m.processed) == 0 {
		b.WriteString(mutedStyle.Render("No processed documents."))
		b.WriteString("\n")
	}
	for i, name := range m.processed {
		box := "[ ]"
		if m.selected[name] {
			box = "[x]"
		}
		line := fmt.Sprintf("%s %s", box, truncate(name, sidebarWidth-6))
		if m.focus == focusDocuments && i == m.cursor {
			line = cursorStyle.Render("› " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(headingStyle.Render(fmt.Sprintf("New files (%d)", len(m.unprocessed))))
	b.WriteString("\n")
	for _, name := range m.unprocessed {
		b.WriteString(mutedStyle.Render("  " + truncate(name, sidebarWidth-4)))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderAnswer() string {
	if m.answer == nil {
		return "Ask a question to get an answer from the selected documents."
	}
	var b strings.Builder
	b.WriteString(headingStyle.Render("Q: " + m.lastQuestion))
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(m.answer.Text))
	if len(m.answer.Sources) == 0 {
		b.WriteString("\n\n")
		b.WriteString(mutedStyle.Render("No matching context in the selected documents."))
		return b.String()
	}
	b.WriteString("\n\n")
	b.WriteString(headingStyle.Render("Sources"))
	for i, src := range m.answer.Sources {
		title := fmt.Sprintf("%d. %s  score=%.3f", i+1, filepath.Base(src.Metadata.SourcePath), src.Score)
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render(title))
		b.WriteString("\n")
		b.WriteString(highlightBestSentence(src.Text, m.lastQuestion))
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	bestIdx, bestScore := -1, 0
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sent = highlightStyle.Render(sent)
		}
		sentences[i] = sent
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
