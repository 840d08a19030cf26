// Package conversation drives one learner's tutor session: it sequences the
// store, prompt, gateway and decoder for each turn.
package conversation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KodaTao/linguachat/apperr"
	"github.com/KodaTao/linguachat/decoder"
	"github.com/KodaTao/linguachat/model"
	"github.com/KodaTao/linguachat/prompt"
	"github.com/KodaTao/linguachat/ratelimit"
	"github.com/KodaTao/linguachat/store"
)

// Gateway streams the tutor's raw reply for one turn.
type Gateway interface {
	Converse(ctx context.Context, req model.ConverseRequest) (io.ReadCloser, error)
}

var (
	ErrIncompleteSelections = apperr.Validation("Please choose a language, difficulty and scenario first.")
	ErrEmptyMessage         = apperr.Validation("Message content is required")
	ErrTurnInProgress       = apperr.Validation("The tutor is still replying. Please wait.")
)

type Controller struct {
	store    *store.Store
	gw       Gateway
	log      *zap.Logger
	limiter  ratelimit.Limiter
	limitKey string
	now      func() time.Time
	newID    func() string

	// 同一时间只允许一个等待回复的回合
	inFlight atomic.Bool
}

type Option func(*Controller)

// WithLimiter checks l before each turn. key is used unless the turn's
// context carries a client key (ratelimit.WithClientKey).
func WithLimiter(l ratelimit.Limiter, key string) Option {
	return func(c *Controller) {
		c.limiter = l
		c.limitKey = key
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) { c.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithIDs(newID func() string) Option {
	return func(c *Controller) { c.newID = newID }
}

func New(s *store.Store, gw Gateway, opts ...Option) *Controller {
	c := &Controller{
		store: s,
		gw:    gw,
		log:   zap.NewNop(),
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("component", "conversation"), zap.String("record", s.Name()))
	return c
}

func (c *Controller) Store() *store.Store { return c.store }

// Busy reports whether a turn is awaiting the tutor's reply.
func (c *Controller) Busy() bool { return c.inFlight.Load() }

// Send runs one learner turn and returns the tutor's message. On failure no
// assistant message is appended and the typing flag is cleared.
func (c *Controller) Send(ctx context.Context, content string) (*model.Message, error) {
	sel := c.store.Selections()
	if !sel.Complete() {
		return nil, ErrIncompleteSelections
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	if c.limiter != nil && !c.limiter.Allow(ctx, ratelimit.ClientKey(ctx, c.limitKey)) {
		return nil, apperr.ErrTooManyRequests
	}

	user := model.Message{
		ID:        c.newID(),
		Role:      model.RoleUser,
		Content:   content,
		Timestamp: c.now(),
	}
	c.store.AppendMessage(user)
	c.store.SetTyping(true)
	defer c.store.SetTyping(false)

	req := model.ConverseRequest{
		Instruction: prompt.Build(sel.Language, sel.Difficulty, *sel.Scenario),
		Selections:  sel,
		Messages:    model.Transcript(c.store.Messages()),
	}

	stream, err := c.gw.Converse(ctx, req)
	if err != nil {
		c.log.Warn("tutor request failed", zap.Stringer("kind", apperr.KindOf(err)), zap.Error(err))
		return nil, err
	}
	defer stream.Close()

	reply, err := decoder.Decode(ctx, stream)
	if err != nil {
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			err = apperr.Provider("The tutor's reply was interrupted. Please try again.", err)
		}
		c.log.Warn("read tutor reply failed", zap.Error(err))
		return nil, err
	}
	if reply.Degraded {
		c.log.Warn("tutor reply was not structured, using raw text", zap.Int("bytes", len(reply.Message)))
	}

	corrections := make([]model.Correction, 0, len(reply.Corrections))
	for _, d := range reply.Corrections {
		corrections = append(corrections, model.Correction{
			ID:          c.newID(),
			Original:    d.Original,
			Corrected:   d.Corrected,
			Explanation: d.Explanation,
			Category:    d.Category,
			MessageID:   user.ID,
		})
	}

	assistant := model.Message{
		ID:          c.newID(),
		Role:        model.RoleAssistant,
		Content:     reply.Message,
		Corrections: corrections,
		Timestamp:   c.now(),
	}

	c.store.SetTyping(false)
	c.store.AppendMessage(assistant)
	for _, corr := range corrections {
		c.store.RecordCorrection(corr)
	}
	for _, v := range reply.Vocabulary {
		c.store.UpsertVocabulary(model.VocabularyItem{
			ID:          c.newID(),
			Word:        v.Word,
			Translation: v.Translation,
			Context:     v.Context,
			Language:    sel.Language,
			LearnedAt:   c.now(),
		})
	}

	c.log.Debug("turn complete",
		zap.Int("corrections", len(corrections)),
		zap.Int("vocabulary", len(reply.Vocabulary)),
	)
	return &assistant, nil
}

// acquire 占用回合锁；等待回复期间不能修改会话
func (c *Controller) acquire() error {
	if !c.inFlight.CompareAndSwap(false, true) {
		return ErrTurnInProgress
	}
	return nil
}

func (c *Controller) release() { c.inFlight.Store(false) }

// Start marks the beginning of a conversation.
func (c *Controller) Start() {
	c.store.StartConversation()
}

// Greet appends the scenario's opening line as a tutor message.
func (c *Controller) Greet() (*model.Message, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()
	return c.greet()
}

func (c *Controller) greet() (*model.Message, error) {
	sel := c.store.Selections()
	if !sel.Complete() {
		return nil, ErrIncompleteSelections
	}
	reply := decoder.DecodeString(prompt.Greeting(sel.Language, *sel.Scenario))
	msg := model.Message{
		ID:        c.newID(),
		Role:      model.RoleAssistant,
		Content:   reply.Message,
		Timestamp: c.now(),
	}
	c.store.AppendMessage(msg)
	return &msg, nil
}

// Begin starts a conversation and greets the learner when nothing has been
// said yet.
func (c *Controller) Begin() error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	if c.store.MessageCount() > 0 {
		return nil
	}
	c.Start()
	_, err := c.greet()
	return err
}

// End archives the conversation when it has messages, then clears it. It
// fails with ErrTurnInProgress while a reply is pending, so a late reply
// never lands in the next conversation.
func (c *Controller) End() (model.ConversationHistory, bool, error) {
	if err := c.acquire(); err != nil {
		return model.ConversationHistory{}, false, err
	}
	defer c.release()

	var (
		entry model.ConversationHistory
		saved bool
	)
	if c.store.MessageCount() > 0 {
		entry, saved = c.store.SaveToHistory()
	}
	c.store.ClearConversation()
	if saved {
		c.log.Info("conversation archived",
			zap.String("id", entry.ID),
			zap.Int("messages", entry.MessageCount),
			zap.Int64("duration", entry.Duration),
		)
	}
	return entry, saved, nil
}

// Clear drops the live conversation without archiving it.
func (c *Controller) Clear() error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	c.store.ClearConversation()
	return nil
}

// Reset clears everything except history.
func (c *Controller) Reset() error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	c.store.ResetAll()
	return nil
}
