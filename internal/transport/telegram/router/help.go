package router

import (
	"sort"
	"strings"
)

// helpText lists every command, or details one when args names it.
func (m *CommandManager) helpText(args []string) string {
	m.mu.RLock()
	cmds := m.cmds
	alias := m.alias
	m.mu.RUnlock()

	if len(args) > 0 {
		name := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		c, ok := cmds[name]
		if !ok {
			c, ok = alias[name]
		}
		if !ok {
			return "Unknown command. Type /help to see the list."
		}
		lines := []string{"/" + c.Name}
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, d)
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "Usage: "+u)
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "Aliases: /"+strings.Join(c.Aliases, ", /"))
		}
		return strings.Join(lines, "\n")
	}

	names := make([]string, 0, len(cmds))
	for n := range cmds {
		names = append(names, n)
	}
	sort.Strings(names)

	lines := []string{"Commands:"}
	for _, n := range names {
		c := cmds[n]
		line := "/" + n
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + d
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "Type /help <command> for details.")
	return strings.Join(lines, "\n")
}
