package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipepmaragno/llm-router/internal/domain"
)

func TestMessagesFrom(t *testing.T) {
	msgs := messagesFrom("be brief", []string{"what", "is", "2+2?"})

	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleSystem, msgs[0].Role)
	assert.Equal(t, domain.RoleUser, msgs[1].Role)
	assert.Equal(t, "what is 2+2?", msgs[1].Content)

	assert.Len(t, messagesFrom("", []string{"hi"}), 1)
}

func TestRouterFromFile_AppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.yaml")
	require.NoError(t, os.WriteFile(path, []byte("overrides:\n  gpt-4: claude-3-haiku\n"), 0o600))

	rt, err := routerFromFile(path)
	require.NoError(t, err)

	d := rt.Decide(context.Background(), "gpt-4", messagesFrom("", []string{"hello"}))
	assert.Equal(t, "claude-3-haiku", d.TargetModel)
}

func TestRouterFromFile_MissingFile(t *testing.T) {
	_, err := routerFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
