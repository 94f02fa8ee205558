package models

import "strings"

// CommandType enumerates the commands farm workers can send over WhatsApp.
type CommandType string

const (
	CommandUsage     CommandType = "usage"
	CommandRestock   CommandType = "restock"
	CommandStock     CommandType = "stock"
	CommandMortality CommandType = "mortality"
	CommandHelp      CommandType = "help"
	CommandUnknown   CommandType = "unknown"
)

var commandAliases = map[string]CommandType{
	"usage":     CommandUsage,
	"use":       CommandUsage,
	"feed":      CommandUsage,
	"restock":   CommandRestock,
	"stock":     CommandStock,
	"mortality": CommandMortality,
	"dead":      CommandMortality,
	"help":      CommandHelp,
}

// Command represents a parsed worker instruction extracted from WhatsApp text.
type Command struct {
	Type CommandType
	Raw  string
	Args []string
}

// ParseCommand derives a Command instance from free-form text messages.
func ParseCommand(message string) Command {
	tokens := strings.Fields(strings.TrimSpace(message))
	cmd := Command{Type: CommandUnknown, Raw: message}
	if len(tokens) == 0 {
		return cmd
	}

	head := strings.ToLower(strings.TrimPrefix(tokens[0], "/"))
	if t, ok := commandAliases[head]; ok {
		cmd.Type = t
	}

	if len(tokens) > 1 {
		cmd.Args = tokens[1:]
	}

	return cmd
}
