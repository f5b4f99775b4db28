package trace

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsure_KeepsExistingID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "t_fixed")
	assert.Equal(t, "t_fixed", FromContext(Ensure(ctx)))
}

func TestEnsure_GeneratesWhenMissing(t *testing.T) {
	ctx := Ensure(context.Background())
	id := FromContext(ctx)
	assert.True(t, strings.HasPrefix(id, "t_"), "got %q", id)
	assert.NotEqual(t, id, GenerateID())
}

func TestFromContext_Empty(t *testing.T) {
	assert.Empty(t, FromContext(context.Background()))
}
