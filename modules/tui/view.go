package tui

import (
	"fmt"
	"strings"

	"github.com/example/taskflow/client"
	"github.com/example/taskflow/domain/task"
)

func (m *model) View() string {
	var b strings.Builder
	writeTitle(&b, m.state)

	if !m.state.Configured {
		writeConfigurationRequired(&b)
		return b.String()
	}

	switch m.mode {
	case modeAuth:
		b.WriteString("Sign in or create an account\n\n")
		m.writeFields(&b)
		writeNotices(&b, m.state.Notices)
		m.writeStatus(&b)
		b.WriteString("tab next field | enter sign in | ctrl+n sign up | esc quit\n")
		return b.String()
	case modeCompose:
		b.WriteString("New task\n\n")
		m.writeFields(&b)
		if n, ok := m.state.Notices[client.NoticeForm]; ok {
			writeNotice(&b, n)
		}
		m.writeStatus(&b)
		b.WriteString("tab next field | enter create | esc cancel\n")
		return b.String()
	case modeEdit:
		b.WriteString("Edit task\n\n")
		m.writeFields(&b)
		if n, ok := m.state.Notices[m.editing]; ok {
			writeNotice(&b, n)
		}
		m.writeStatus(&b)
		b.WriteString("tab next field | enter save | esc cancel\n")
		return b.String()
	case modeVerify:
		b.WriteString("Confirm your email\n\n")
		m.writeFields(&b)
		if n, ok := m.state.Notices[client.NoticeConfirmation]; ok {
			writeNotice(&b, n)
		}
		m.writeStatus(&b)
		b.WriteString("enter verify | esc back\n")
		return b.String()
	}

	m.writeAccount(&b)
	writeFilterBar(&b, m.state)
	if m.mode == modeSearch {
		m.writeFields(&b)
		b.WriteString("\n")
	}
	m.writeTasks(&b)
	writeNotices(&b, m.state.Notices)
	m.writeStatus(&b)
	if m.showHelp {
		writeHelp(&b)
	} else if m.mode == modeSearch {
		b.WriteString("enter search now | esc clear\n")
	} else {
		b.WriteString("? help | q quit\n")
	}
	return b.String()
}

func writeTitle(b *strings.Builder, vs client.ViewState) {
	title := fmt.Sprintf("Tasks (%s theme)", vs.Theme)
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", len(title)) + "\n\n")
}

func writeConfigurationRequired(b *strings.Builder) {
	b.WriteString("Configuration required\n\n")
	b.WriteString("  No gateway is configured. Set SUPABASE_URL and SUPABASE_ANON_KEY,\n")
	b.WriteString("  or unset both to use the embedded gateway.\n\n")
	b.WriteString("ctrl+c quit\n")
}

func (m *model) writeFields(b *strings.Builder) {
	for i, f := range m.fields {
		marker := "  "
		if i == m.focus {
			marker = "> "
		}
		value := f.value
		if f.secret {
			value = strings.Repeat("*", len([]rune(value)))
		}
		b.WriteString(fmt.Sprintf("%s%s: %s\n", marker, f.label, value))
	}
	b.WriteString("\n")
}

func (m *model) writeAccount(b *strings.Builder) {
	u := m.state.User
	if u == nil {
		return
	}
	line := "Signed in as " + u.Email
	if m.copied {
		line += fmt.Sprintf("  [user id %s copied]", u.ID)
	}
	b.WriteString(line + "\n")
	if m.state.AccessRestricted {
		b.WriteString("  Email not confirmed: tasks are read-only. R resend | v enter code\n")
	}
	b.WriteString("\n")
}

func writeFilterBar(b *strings.Builder, vs client.ViewState) {
	parts := make([]string, 0, 3)
	for i, f := range []task.Filter{task.FilterAll, task.FilterPending, task.FilterCompleted} {
		label := fmt.Sprintf("%d %s", i+1, f)
		if vs.Filter == f {
			label = "[" + label + "]"
		}
		parts = append(parts, label)
	}
	b.WriteString("Filter: " + strings.Join(parts, "  "))
	if vs.Search != "" {
		b.WriteString(fmt.Sprintf("  Search: %q", vs.Search))
	}
	b.WriteString("\n\n")
}

func (m *model) writeTasks(b *strings.Builder) {
	if m.state.Loading && len(m.state.Tasks) == 0 {
		b.WriteString("Loading...\n\n")
		return
	}
	if len(m.state.Tasks) == 0 {
		b.WriteString("  No tasks.\n\n")
		return
	}
	for i, t := range m.state.Tasks {
		b.WriteString(formatTask(t, i == m.cursor))
		b.WriteString("\n")
		if m.state.DeletePending(t.ID) {
			b.WriteString("      Delete this task? y/n\n")
		}
		if n, ok := m.state.Notices[t.ID]; ok {
			b.WriteString("      " + n.Message + "\n")
		}
	}
	b.WriteString("\n")
}

func formatTask(t task.Task, selected bool) string {
	cursor := "  "
	if selected {
		cursor = "> "
	}
	check := "[ ]"
	if t.IsCompleted {
		check = "[x]"
	}
	line := fmt.Sprintf("%s%s %s", cursor, check, t.Title)
	if t.HasImage() {
		line += " (image)"
	}
	if desc := task.Text(t.Description); desc != "" {
		line += "\n      " + desc
	}
	return line
}

func writeNotice(b *strings.Builder, n client.Notice) {
	b.WriteString(fmt.Sprintf("%s: %s\n\n", n.Level, n.Message))
}

// writeNotices renders the notices not bound to a task row.
func writeNotices(b *strings.Builder, notices map[string]client.Notice) {
	for _, key := range []string{client.NoticeAuth, client.NoticeConfirmation} {
		if n, ok := notices[key]; ok {
			writeNotice(b, n)
		}
	}
}

func (m *model) writeStatus(b *strings.Builder) {
	if m.status != "" {
		b.WriteString(m.status + "\n\n")
	}
}

func writeHelp(b *strings.Builder) {
	b.WriteString("Keyboard Shortcuts\n\n")
	b.WriteString("  j/k, up/down  Move\n")
	b.WriteString("  space, x      Toggle completed\n")
	b.WriteString("  n             New task\n")
	b.WriteString("  e             Edit task\n")
	b.WriteString("  d             Delete task\n")
	b.WriteString("  /             Search\n")
	b.WriteString("  1 2 3         All, pending, completed\n")
	b.WriteString("  r             Refresh\n")
	b.WriteString("  t             Toggle theme\n")
	b.WriteString("  c             Copy user id\n")
	b.WriteString("  o             Sign out\n")
	b.WriteString("  esc           Dismiss messages\n")
	b.WriteString("  q, ctrl+c     Quit\n\n")
}
