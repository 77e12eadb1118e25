package router

import (
	"strings"
)

// helpText renders plain-text help for all commands, or for one when path
// names it.
func (m *CommandManager) helpText(path []string) string {
	if len(path) > 0 {
		name := strings.ToLower(strings.TrimPrefix(path[0], "/"))
		c, ok := m.lookup(name)
		if !ok || c.Hidden {
			return "Unknown command: /" + name + "\nTry /help"
		}
		lines := []string{"/" + c.Name}
		if c.Description != "" {
			lines = append(lines, c.Description)
		}
		if c.Usage != "" {
			lines = append(lines, "", "Usage: "+c.Usage)
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "Aliases: /"+strings.Join(c.Aliases, ", /"))
		}
		if c.PrivateOnly {
			lines = append(lines, "Private chat only.")
		}
		return strings.Join(lines, "\n")
	}

	lines := []string{"Commands:"}
	for _, c := range m.Commands() {
		if c.Hidden {
			continue
		}
		line := "/" + c.Name
		if c.Description != "" {
			line += " - " + c.Description
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "Type /help <command> for details.")
	return strings.Join(lines, "\n")
}
