package bot

import (
	"strings"
	"unicode"
)

// Command - разобранная команда.
type Command struct {
	Name string
	Args []string
	// Body - текст после имени команды как есть, с переводами строк
	Body string
}

// CommandParser разбирает команды с заданными префиксами.
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд. Без префиксов используется "!".
func NewCommandParser(prefixes ...string) *CommandParser {
	if len(prefixes) == 0 {
		prefixes = []string{"!"}
	}
	return &CommandParser{validPrefixes: prefixes}
}

// ParseCommand разбирает текст на команду и аргументы.
func (p *CommandParser) ParseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return Command{}, false
	}

	// "! привет" - не команда
	if text == "" || unicode.IsSpace(rune(text[0])) {
		return Command{}, false
	}
	parts := strings.Fields(text)

	cmd := Command{
		Name: strings.ToLower(parts[0]),
		Body: strings.TrimSpace(strings.TrimPrefix(text, parts[0])),
	}
	if len(parts) > 1 {
		cmd.Args = parts[1:]
	}
	return cmd, true
}
