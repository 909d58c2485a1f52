package telegram

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"

	"github.com/m3rciful/storebot/core/logger"
	"github.com/m3rciful/storebot/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

var (
	ErrInvalidCommand   = errors.New("telegram: invalid command")
	ErrDuplicateCommand = errors.New("telegram: duplicate command")
)

// Registry holds the bot's slash commands keyed by "/name".
type Registry struct {
	commands map[string]commands.Command
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]commands.Command)}
}

// RegisterCommand adds cmd under name. The first registration of a name wins;
// rejected registrations are logged and returned as errors.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) error {
	err := validateCommand(name, cmd)
	if err == nil {
		if _, dup := r.commands[name]; dup {
			err = fmt.Errorf("%w: %s", ErrDuplicateCommand, name)
		}
	}
	if err != nil {
		logger.TWire.Warn("command rejected",
			slog.String("event", "register.command"),
			slog.String("status", "skip"),
			slog.String("name", name),
			slog.String("err", err.Error()),
		)
		return err
	}
	r.commands[name] = cmd
	return nil
}

func validateCommand(name string, cmd commands.Command) error {
	switch {
	case !strings.HasPrefix(name, "/") || len(name) < 2:
		return fmt.Errorf("%w: name %q must start with /", ErrInvalidCommand, name)
	case cmd.Handler == nil:
		return fmt.Errorf("%w: %s has no handler", ErrInvalidCommand, name)
	case strings.TrimSpace(cmd.Description) == "":
		return fmt.Errorf("%w: %s has no description", ErrInvalidCommand, name)
	}
	return nil
}

// ListCommands returns the commands sorted by name. With listedOnly, hidden
// and admin-only commands are left out.
func (r *Registry) ListCommands(listedOnly bool) []tele.Command {
	list := make([]tele.Command, 0, len(r.commands))
	for name, cmd := range r.commands {
		if listedOnly && !cmd.Listed() {
			continue
		}
		list = append(list, tele.Command{Text: name, Description: cmd.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
	return list
}

// Commands returns a copy of the registered commands.
func (r *Registry) Commands() map[string]commands.Command {
	return maps.Clone(r.commands)
}

// InitBotCommands publishes the listed commands as the bot's menu.
func InitBotCommands(bot *tele.Bot, reg *Registry) {
	if bot == nil || reg == nil {
		return
	}
	list := reg.ListCommands(true)
	if len(list) == 0 {
		return
	}
	err := bot.SetCommands(list)
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.Int("commands", len(list)),
	}
	if err != nil {
		logger.LogEvent(logger.Background(), logger.TWire, slog.LevelError, "commands.publish",
			append(attrs, slog.String("err", err.Error()))...)
		return
	}
	logger.LogEvent(logger.Background(), logger.TWire, slog.LevelDebug, "commands.publish", attrs...)
}
