package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KodaTao/linguachat/conversation"
	"github.com/KodaTao/linguachat/model"
	"github.com/KodaTao/linguachat/prompt"
	"github.com/KodaTao/linguachat/store"
)

type cannedGateway struct{ reply string }

func (g cannedGateway) Converse(context.Context, model.ConverseRequest) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(g.reply)), nil
}

func newChatController(t *testing.T, reply string) *conversation.Controller {
	t.Helper()
	sc, ok := prompt.ScenarioByID("cafe")
	require.True(t, ok)
	st := store.New()
	st.Select(model.Selections{Language: "es", Difficulty: model.Beginner, Scenario: &sc})
	return conversation.New(st, cannedGateway{reply: reply})
}

func TestChatLoop(t *testing.T) {
	ctrl := newChatController(t, `{"message":"¡Perfecto!","corrections":[{"original":"un café","corrected":"un café, por favor","explanation":"politeness","category":"style"}],"vocabulary":[{"word":"por favor","translation":"please","context":"un café, por favor"}]}`)
	var out bytes.Buffer

	require.NoError(t, begin(&out, ctrl))
	in := strings.NewReader("un café\n/vocab\n/corrections\n/quit\n")
	require.NoError(t, chatLoop(context.Background(), in, &out, ctrl, zap.NewNop()))

	text := out.String()
	assert.Contains(t, text, "¡Hola!")
	assert.Contains(t, text, "¡Perfecto!")
	assert.Contains(t, text, "un café, por favor")
	assert.Contains(t, text, "por favor: please")
	assert.Contains(t, text, "corrections hidden")
	assert.Contains(t, text, "saved conversation: 3 messages")

	st := ctrl.Store()
	assert.Empty(t, st.Messages())
	assert.Len(t, st.History(), 1)
}

func TestChatLoopEOFArchives(t *testing.T) {
	ctrl := newChatController(t, "Muy bien.")
	var out bytes.Buffer

	require.NoError(t, chatLoop(context.Background(), strings.NewReader("hola\n"), &out, ctrl, zap.NewNop()))
	assert.Len(t, ctrl.Store().History(), 1)
}

func TestChatLoopEndRestarts(t *testing.T) {
	ctrl := newChatController(t, "Muy bien.")
	var out bytes.Buffer

	require.NoError(t, begin(&out, ctrl))
	require.NoError(t, chatLoop(context.Background(), strings.NewReader("hola\n/end\n/history\n/quit\n"), &out, ctrl, zap.NewNop()))

	assert.Contains(t, out.String(), "1 conversations")
	assert.Len(t, ctrl.Store().History(), 2, "the greeting of the second conversation is archived on quit")
}
