// Package decoder turns the tutor's buffered reply into a message plus
// corrections and vocabulary. A reply that is not the expected JSON document
// still yields a usable message.
package decoder

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/KodaTao/linguachat/model"
)

const chunkSize = 4096

// CorrectionDraft is a correction as the model reported it, before it is tied
// to a user message.
type CorrectionDraft struct {
	Original    string
	Corrected   string
	Explanation string
	Category    model.Category
}

type VocabularyDraft struct {
	Word        string
	Translation string
	Context     string
}

type Reply struct {
	Message     string
	Corrections []CorrectionDraft
	Vocabulary  []VocabularyDraft
	// Degraded is set when the payload was not structured and the raw text
	// was used as the message.
	Degraded bool
}

// Decode reads r to completion and parses the result. Read errors are
// returned as-is; malformed payloads are not errors.
func Decode(ctx context.Context, r io.Reader) (Reply, error) {
	var buf strings.Builder
	chunk := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return Reply{}, err
		}
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Reply{}, err
		}
	}
	return DecodeString(buf.String()), nil
}

// DecodeString parses an already buffered payload.
func DecodeString(raw string) Reply {
	doc := stripFence(strings.TrimSpace(raw))
	if !gjson.Valid(doc) {
		return fallback(raw)
	}
	root := gjson.Parse(doc)
	if !root.IsObject() {
		return fallback(raw)
	}

	reply := Reply{
		Message:     raw,
		Corrections: []CorrectionDraft{},
		Vocabulary:  []VocabularyDraft{},
	}
	if msg := root.Get("message"); msg.Type == gjson.String {
		reply.Message = msg.String()
	}

	if list := root.Get("corrections"); list.IsArray() {
		list.ForEach(func(_, item gjson.Result) bool {
			if c, ok := correction(item); ok {
				reply.Corrections = append(reply.Corrections, c)
			}
			return true
		})
	}

	if list := root.Get("vocabulary"); list.IsArray() {
		list.ForEach(func(_, item gjson.Result) bool {
			if v, ok := vocabulary(item); ok {
				reply.Vocabulary = append(reply.Vocabulary, v)
			}
			return true
		})
	}

	return reply
}

// 非结构化回复原样作为消息内容
func fallback(raw string) Reply {
	return Reply{
		Message:     raw,
		Corrections: []CorrectionDraft{},
		Vocabulary:  []VocabularyDraft{},
		Degraded:    true,
	}
}

// 条目缺字段或类别不在枚举内时丢弃该条目
func correction(item gjson.Result) (CorrectionDraft, bool) {
	if !item.IsObject() {
		return CorrectionDraft{}, false
	}
	c := CorrectionDraft{
		Original:    stringField(item, "original"),
		Corrected:   stringField(item, "corrected"),
		Explanation: stringField(item, "explanation"),
		Category:    model.Category(strings.ToLower(stringField(item, "category"))),
	}
	if c.Original == "" || c.Corrected == "" || !c.Category.Valid() {
		return CorrectionDraft{}, false
	}
	return c, true
}

func vocabulary(item gjson.Result) (VocabularyDraft, bool) {
	if !item.IsObject() {
		return VocabularyDraft{}, false
	}
	v := VocabularyDraft{
		Word:        stringField(item, "word"),
		Translation: stringField(item, "translation"),
		Context:     stringField(item, "context"),
	}
	if v.Word == "" {
		return VocabularyDraft{}, false
	}
	return v, true
}

func stringField(item gjson.Result, key string) string {
	v := item.Get(key)
	if v.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(v.String())
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	}
	return strings.TrimSpace(s)
}
