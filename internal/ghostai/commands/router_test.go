package commands

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	r := NewRouter(Prefix)

	tests := []struct {
		name     string
		input    string
		wantName string
		wantArgs []string
		wantErr  error
	}{
		{"bare", "/help", "help", []string{}, nil},
		{"with arg", "/model gpt-mini", "model", []string{"gpt-mini"}, nil},
		{"case and spacing", "  /STYLE   terse  ", "style", []string{"terse"}, nil},
		{"plain text", "hello there", "", nil, ErrNotACommand},
		{"slash in middle", "a/b", "", nil, ErrNotACommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := r.Parse(tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, cmd.Name)
			assert.Equal(t, tt.wantArgs, cmd.Args)
		})
	}
}

func TestParse_EmptyCommand(t *testing.T) {
	_, err := NewRouter(Prefix).Parse("/")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotACommand))
}

func TestRoute(t *testing.T) {
	r := NewRouter(Prefix)
	var got Origin
	r.Register("ping", func(_ context.Context, cmd *Command, origin Origin) (string, error) {
		got = origin
		arg, _ := cmd.GetArg(0)
		return "pong " + arg, nil
	})

	out, err := r.Route(context.Background(), "/ping x", Origin{ConversationID: "room"})
	require.NoError(t, err)
	assert.Equal(t, "pong x", out)
	assert.Equal(t, "room", got.ConversationID)

	_, err = r.Route(context.Background(), "/nope", Origin{})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}
