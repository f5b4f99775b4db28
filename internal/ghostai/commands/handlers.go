package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bdobrica/ghostai/internal/ghostai/catalog"
	"github.com/bdobrica/ghostai/internal/ghostai/memory"
)

// Memory is the part of the memory engine the commands need.
type Memory interface {
	Clear(ctx context.Context, conversationID string) error
	SetModel(ctx context.Context, conversationID, modelKey string) error
	SetStyle(ctx context.Context, conversationID, styleKey string) error
	Settings(ctx context.Context, conversationID string) (memory.Settings, error)
	Status(ctx context.Context, conversationID string) (memory.Status, error)
}

// Catalog provides the currently loaded catalogue.
type Catalog interface {
	Current() *catalog.Catalog
}

// Handlers holds the dependencies of the built-in commands.
type Handlers struct {
	Memory  Memory
	Catalog Catalog
	BotName string
}

// NewDefaultRouter returns a router with every built-in command registered.
func NewDefaultRouter(h *Handlers) *Router {
	r := NewRouter(Prefix)
	r.Register("start", h.HandleStart)
	r.Register("help", h.HandleHelp)
	r.Register("model", h.HandleModel)
	r.Register("style", h.HandleStyle)
	r.Register("clear", h.HandleClear)
	r.Register("memory", h.HandleMemory)
	return r
}

// HandleStart greets the user.
func (h *Handlers) HandleStart(_ context.Context, _ *Command, _ Origin) (string, error) {
	name := h.BotName
	if name == "" {
		name = "ghostai"
	}
	return fmt.Sprintf("Hi! I'm %s. I remember the context of this chat, keep short digests of older talk, and answer briefly. Send /help for commands.", name), nil
}

// HandleHelp lists the commands.
func (h *Handlers) HandleHelp(_ context.Context, _ *Command, _ Origin) (string, error) {
	return strings.Join([]string{
		"Commands:",
		"/model – list models, /model <key> – switch model",
		"/style – list styles, /style <key> – switch style",
		"/memory – show what I remember about this chat",
		"/clear – forget this chat (settings are kept)",
		"/help – this message",
	}, "\n"), nil
}

// HandleModel lists models or selects one for the conversation.
func (h *Handlers) HandleModel(ctx context.Context, cmd *Command, origin Origin) (string, error) {
	c := h.Catalog.Current()
	key, ok := cmd.GetArg(0)
	if !ok {
		settings, err := h.Memory.Settings(ctx, origin.ConversationID)
		if err != nil {
			return "", fmt.Errorf("load settings: %w", err)
		}
		active := settings.ModelKey
		if _, known := c.Models[active]; !known {
			active = c.DefaultModel
		}
		var b strings.Builder
		b.WriteString("Models:\n")
		for _, k := range c.ModelKeys() {
			m := c.Models[k]
			marker := "  "
			if k == active {
				marker = "* "
			}
			fmt.Fprintf(&b, "%s%s (%s)", marker, k, m.ID)
			if m.Description != "" {
				fmt.Fprintf(&b, " – %s", m.Description)
			}
			b.WriteByte('\n')
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}

	key = strings.ToLower(key)
	if err := h.Memory.SetModel(ctx, origin.ConversationID, key); err != nil {
		if errors.Is(err, catalog.ErrUnknownModel) {
			return fmt.Sprintf("Unknown model %q. Available: %s", key, strings.Join(c.ModelKeys(), ", ")), nil
		}
		return "", err
	}
	return fmt.Sprintf("Model set to %s (%s).", key, c.Models[key].ID), nil
}

// HandleStyle lists styles or selects one for the conversation.
func (h *Handlers) HandleStyle(ctx context.Context, cmd *Command, origin Origin) (string, error) {
	c := h.Catalog.Current()
	key, ok := cmd.GetArg(0)
	if !ok {
		settings, err := h.Memory.Settings(ctx, origin.ConversationID)
		if err != nil {
			return "", fmt.Errorf("load settings: %w", err)
		}
		active := settings.StyleKey
		if _, known := c.Styles[active]; !known {
			active = c.DefaultStyle
		}
		var b strings.Builder
		b.WriteString("Styles:\n")
		for _, k := range c.StyleKeys() {
			marker := "  "
			if k == active {
				marker = "* "
			}
			b.WriteString(marker + k)
			if d := c.Styles[k].Description; d != "" {
				b.WriteString(" – " + d)
			}
			b.WriteByte('\n')
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}

	key = strings.ToLower(key)
	if err := h.Memory.SetStyle(ctx, origin.ConversationID, key); err != nil {
		if errors.Is(err, catalog.ErrUnknownStyle) {
			return fmt.Sprintf("Unknown style %q. Available: %s", key, strings.Join(c.StyleKeys(), ", ")), nil
		}
		return "", err
	}
	return fmt.Sprintf("Style set to %s.", key), nil
}

// HandleClear forgets the conversation.
func (h *Handlers) HandleClear(ctx context.Context, _ *Command, origin Origin) (string, error) {
	if err := h.Memory.Clear(ctx, origin.ConversationID); err != nil {
		return "", err
	}
	return "Done, I forgot everything about this chat.", nil
}

// HandleMemory reports the conversation's memory usage.
func (h *Handlers) HandleMemory(ctx context.Context, _ *Command, origin Origin) (string, error) {
	st, err := h.Memory.Status(ctx, origin.ConversationID)
	if err != nil {
		return "", err
	}
	c := h.Catalog.Current()
	style := st.Settings.StyleKey
	if _, ok := c.Styles[style]; !ok {
		style = c.DefaultStyle + " (default)"
	}
	model := st.Settings.ModelKey
	if _, ok := c.Models[model]; !ok {
		model = c.DefaultModel + " (default)"
	}
	return fmt.Sprintf(
		"Recent turns in memory: %d\nStored turns: %d\nDigests: %d\nStyle: %s\nModel: %s",
		st.HotTurns, st.DurableTurns, st.Summaries, style, model,
	), nil
}
