package decoder

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodaTao/linguachat/model"
)

const structured = `{"message":"Bien","corrections":[{"original":"yo es","corrected":"yo soy","explanation":"verb agreement","category":"grammar"}],"vocabulary":[{"word":"bien","translation":"well","context":"Estoy bien"}]}`

// oneByte 逐字节返回，多字节字符会被切开
func oneByte(s string) io.Reader {
	return iotest.OneByteReader(strings.NewReader(s))
}

func TestDecodeStructured(t *testing.T) {
	reply, err := Decode(context.Background(), strings.NewReader(structured))
	require.NoError(t, err)

	assert.Equal(t, "Bien", reply.Message)
	assert.False(t, reply.Degraded)
	require.Len(t, reply.Corrections, 1)
	assert.Equal(t, CorrectionDraft{
		Original:    "yo es",
		Corrected:   "yo soy",
		Explanation: "verb agreement",
		Category:    model.CategoryGrammar,
	}, reply.Corrections[0])
	require.Len(t, reply.Vocabulary, 1)
	assert.Equal(t, "bien", reply.Vocabulary[0].Word)
	assert.Equal(t, "Estoy bien", reply.Vocabulary[0].Context)
}

func TestDecodeFallbackPlainText(t *testing.T) {
	reply, err := Decode(context.Background(), oneByte("Hola, ¿cómo estás?"))
	require.NoError(t, err)

	assert.Equal(t, "Hola, ¿cómo estás?", reply.Message)
	assert.Empty(t, reply.Corrections)
	assert.NotNil(t, reply.Corrections)
	assert.Empty(t, reply.Vocabulary)
	assert.True(t, reply.Degraded)
}

func TestDecodeFallbackKeepsRawBuffer(t *testing.T) {
	raw := "  Hola.\n\n¿Qué tal?\n"
	reply := DecodeString(raw)
	assert.Equal(t, raw, reply.Message)
	assert.True(t, reply.Degraded)
}

func TestDecodeSplitMultibyteChunks(t *testing.T) {
	payload := `{"message":"こんにちは、元気ですか？","corrections":[],"vocabulary":[{"word":"元気","translation":"well","context":"元気ですか"}]}`
	reply, err := Decode(context.Background(), oneByte(payload))
	require.NoError(t, err)
	assert.Equal(t, "こんにちは、元気ですか？", reply.Message)
	require.Len(t, reply.Vocabulary, 1)
	assert.Equal(t, "元気", reply.Vocabulary[0].Word)
}

func TestDecodeMissingMessageUsesRaw(t *testing.T) {
	raw := `{"corrections":[],"vocabulary":[]}`
	reply := DecodeString(raw)
	assert.Equal(t, raw, reply.Message)
	assert.False(t, reply.Degraded)
}

func TestDecodeMalformedLists(t *testing.T) {
	reply := DecodeString(`{"message":"Vale","corrections":"none","vocabulary":{"word":"vale"}}`)
	assert.Equal(t, "Vale", reply.Message)
	assert.Empty(t, reply.Corrections)
	assert.Empty(t, reply.Vocabulary)
}

func TestDecodeSkipsMalformedEntries(t *testing.T) {
	reply := DecodeString(`{
		"message": "Claro",
		"corrections": [
			{"original":"la problema","corrected":"el problema","explanation":"gender","category":"Grammar"},
			{"original":"x","corrected":"y","category":"tone"},
			{"corrected":"missing original","category":"style"},
			"not an object",
			{"original":"ke","corrected":"que","explanation":"","category":"spelling"}
		],
		"vocabulary": [
			{"word":"claro","translation":"of course","context":"Claro que sí"},
			{"translation":"no word"},
			42
		]
	}`)

	require.Len(t, reply.Corrections, 2)
	assert.Equal(t, model.CategoryGrammar, reply.Corrections[0].Category)
	assert.Equal(t, model.CategorySpelling, reply.Corrections[1].Category)
	require.Len(t, reply.Vocabulary, 1)
	assert.Equal(t, "claro", reply.Vocabulary[0].Word)
}

func TestDecodeCodeFence(t *testing.T) {
	reply := DecodeString("```json\n" + structured + "\n```")
	assert.Equal(t, "Bien", reply.Message)
	assert.False(t, reply.Degraded)
	assert.Len(t, reply.Corrections, 1)
}

func TestDecodeNonObjectJSON(t *testing.T) {
	reply := DecodeString(`["Bien"]`)
	assert.True(t, reply.Degraded)
	assert.Equal(t, `["Bien"]`, reply.Message)
}

func TestDecodeReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader(`{"message":`), iotest.ErrReader(boom))

	_, err := Decode(context.Background(), r)
	assert.ErrorIs(t, err, boom)
}

func TestDecodeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Decode(ctx, strings.NewReader(structured))
	assert.ErrorIs(t, err, context.Canceled)
}
