// This file renders the transcript block tree into terminal output.
package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"codeloom/internal/transcript"
)

// Status glyphs for agent and tool blocks.
const (
	glyphRunning   = "◐"
	glyphComplete  = "●"
	glyphFailed    = "✖"
	glyphCancelled = "■"
	glyphToolDone  = "✓"
)

func (m *Model) View() string {
	if !m.ready {
		return "\n  " + m.spinner.View() + " starting loom..."
	}

	var sb strings.Builder
	sb.WriteString(m.renderHeader())
	sb.WriteString("\n")
	sb.WriteString(m.viewport.View())
	sb.WriteString("\n")
	sb.WriteString(m.renderFooter())
	return sb.String()
}

func (m *Model) renderHeader() string {
	title := m.styles.Header.Render("loom")
	conn := m.styles.Muted.Render(m.client.State().String())
	cost := ""
	if m.costUSD > 0 {
		cost = m.styles.Muted.Render(fmt.Sprintf("  $%.4f", m.costUSD))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", conn, cost)
}

func (m *Model) renderFooter() string {
	if m.streamErr != "" {
		panel := m.styles.ErrorPanel.Render(m.streamErr)
		hint := m.styles.Muted.Render("  esc to dismiss")
		return panel + "\n" + hint
	}
	if m.isLoading {
		return m.spinner.View() + " " + m.styles.Muted.Render(m.status+"  (esc to interrupt)")
	}
	return m.textinput.View() + "\n" + m.styles.Footer.Render(m.status)
}

// renderEntries renders the whole committed transcript.
func (m *Model) renderEntries() string {
	var sb strings.Builder

	for _, entry := range m.entries {
		switch entry.Role {
		case transcript.RoleUser:
			userStyle := m.styles.Bold.Foreground(m.styles.Theme.Primary).MarginTop(1)
			sb.WriteString(userStyle.Render("You") + "\n")
			sb.WriteString(m.styles.UserInput.Render(entry.Content))
			sb.WriteString("\n")

		default:
			assistantStyle := m.styles.Bold.Foreground(m.styles.Theme.Accent).MarginTop(1)
			sb.WriteString(assistantStyle.Render("loom") + "\n")
			sb.WriteString(m.renderBlocks(entry.Blocks, 0))
		}
	}

	return sb.String()
}

// renderBlocks renders a block list at the given nesting depth.
func (m *Model) renderBlocks(blocks []*transcript.Block, depth int) string {
	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(m.renderBlock(b, depth))
	}
	return sb.String()
}

func (m *Model) renderBlock(b *transcript.Block, depth int) string {
	indent := strings.Repeat("  ", depth)

	switch b.Kind {
	case transcript.KindText:
		if b.TextKind == transcript.TextReasoning {
			return m.renderReasoning(b, indent)
		}
		return indentLines(m.safeRenderMarkdown(b.Content), indent) + "\n"

	case transcript.KindTool:
		return m.renderTool(b, indent)

	case transcript.KindAgent:
		return m.renderAgent(b, indent, depth)

	case transcript.KindAskUser:
		return m.renderAskUser(b, indent)

	case transcript.KindPlan:
		header := m.styles.Muted.Render("plan")
		return indent + header + "\n" + indentLines(m.safeRenderMarkdown(b.Content), indent) + "\n"

	case transcript.KindDivider:
		width := m.width - len(indent)
		if width < 4 {
			width = 4
		}
		return indent + m.styles.Divider.Render(strings.Repeat("─", width)) + "\n"

	case transcript.KindImage:
		return indent + m.styles.Muted.Render("[image: "+b.Source+"]") + "\n"

	default:
		return ""
	}
}

func (m *Model) renderReasoning(b *transcript.Block, indent string) string {
	label := "thought"
	if b.IsOpenReasoning() {
		label = "thinking " + m.spinner.View()
	}
	var sb strings.Builder
	sb.WriteString(indent + m.styles.Muted.Render("∴ "+label) + "\n")
	sb.WriteString(indentLines(m.styles.Reasoning.Render(b.Content), indent))
	sb.WriteString("\n")
	return sb.String()
}

func (m *Model) renderTool(b *transcript.Block, indent string) string {
	glyph := m.styles.Warning.Render(glyphRunning)
	if b.Output != nil {
		glyph = m.styles.Success.Render(glyphToolDone)
	}

	var sb strings.Builder
	sb.WriteString(indent + glyph + " " + m.styles.ToolCall.Render(b.ToolName) + "\n")
	if b.Output != nil && *b.Output != "" {
		sb.WriteString(indentLines(m.styles.Muted.Render(truncateOutput(*b.Output, 12)), indent+"  "))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m *Model) renderAgent(b *transcript.Block, indent string, depth int) string {
	var glyph string
	switch b.Status {
	case transcript.StatusRunning:
		glyph = m.styles.Warning.Render(glyphRunning)
	case transcript.StatusComplete:
		glyph = m.styles.Success.Render(glyphComplete)
	case transcript.StatusFailed:
		glyph = m.styles.Error.Render(glyphFailed)
	case transcript.StatusCancelled:
		glyph = m.styles.Muted.Render(glyphCancelled)
	default:
		glyph = m.styles.Muted.Render(glyphComplete)
	}

	name := b.AgentType
	if name == "" {
		name = b.AgentID
	}

	var sb strings.Builder
	sb.WriteString(indent + glyph + " " + m.styles.AgentName.Render(name) + "\n")
	sb.WriteString(m.renderBlocks(b.Children, depth+1))
	return sb.String()
}

func (m *Model) renderAskUser(b *transcript.Block, indent string) string {
	var sb strings.Builder
	for i, q := range b.Questions {
		sb.WriteString(indent + m.styles.Bold.Render("? "+q.Text) + "\n")
		if b.Skipped {
			sb.WriteString(indent + "  " + m.styles.Muted.Render("(skipped)") + "\n")
		} else if i < len(b.Answers) {
			sb.WriteString(indent + "  " + m.styles.UserInput.Render(b.Answers[i]) + "\n")
		}
	}
	return sb.String()
}

// safeRenderMarkdown renders markdown with panic recovery; glamour can choke
// on partially streamed constructs.
func (m *Model) safeRenderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content
		}
	}()

	if m.renderer == nil {
		return content
	}
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}

// indentLines prefixes every line of s with the indent string.
func indentLines(s, indent string) string {
	if indent == "" || s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}

// truncateOutput caps tool output at maxLines for display.
func truncateOutput(s string, maxLines int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= maxLines {
		return strings.Join(lines, "\n")
	}
	kept := lines[:maxLines]
	return strings.Join(kept, "\n") + fmt.Sprintf("\n... (%d more lines)", len(lines)-maxLines)
}
