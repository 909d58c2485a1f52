package middleware

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tele "gopkg.in/telebot.v4"
)

// fakeContext implements the parts of tele.Context used by the middleware.
type fakeContext struct {
	tele.Context
	sender *tele.User
	chat   *tele.Chat
	update tele.Update
	store  map[string]interface{}
	sent   []interface{}
}

func newFakeContext(userID int64, text string) *fakeContext {
	msg := &tele.Message{Text: text}
	return &fakeContext{
		sender: &tele.User{ID: userID, Username: "buyer"},
		chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
		update: tele.Update{ID: 7, Message: msg},
		store:  map[string]interface{}{},
	}
}

func (f *fakeContext) Sender() *tele.User          { return f.sender }
func (f *fakeContext) Chat() *tele.Chat            { return f.chat }
func (f *fakeContext) Update() tele.Update         { return f.update }
func (f *fakeContext) Text() string                { return f.update.Message.Text }
func (f *fakeContext) Get(k string) interface{}    { return f.store[k] }
func (f *fakeContext) Set(k string, v interface{}) { f.store[k] = v }
func (f *fakeContext) Send(what interface{}, _ ...interface{}) error {
	f.sent = append(f.sent, what)
	return nil
}

func TestParseAdminIDs(t *testing.T) {
	ids := ParseAdminIDs([]string{" 111 ", "@orders", "-100200", "", "222"})
	assert.Equal(t, map[int64]struct{}{111: {}, 222: {}}, ids)
}

func TestAdminOnlyMiddleware(t *testing.T) {
	rejected := 0
	opts := AdminOptions{
		AdminIDs: ParseAdminIDs([]string{"111"}),
		OnReject: func(tele.Context) error { rejected++; return nil },
	}
	called := 0
	h := AdminOnlyMiddleware(opts)(func(tele.Context) error { called++; return nil })

	require.NoError(t, h(newFakeContext(111, "/stats")))
	require.NoError(t, h(newFakeContext(999, "/stats")))
	assert.Equal(t, 1, called)
	assert.Equal(t, 1, rejected)

	empty := AdminOnlyMiddleware(AdminOptions{})(func(tele.Context) error { called++; return nil })
	require.NoError(t, empty(newFakeContext(111, "/stats")))
	assert.Equal(t, 1, called, "no configured admins rejects everyone")
}

func TestRecoverMiddlewareTurnsPanicIntoError(t *testing.T) {
	h := RecoverMiddleware(func(tele.Context) error { panic("boom") })
	err := h(newFakeContext(1, "/start"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	sentinel := errors.New("plain")
	h = RecoverMiddleware(func(tele.Context) error { return sentinel })
	assert.ErrorIs(t, h(newFakeContext(1, "/start")), sentinel)
}

func TestLoggerMiddlewareSetsRID(t *testing.T) {
	c := newFakeContext(42, "/start deadbeefdeadbeef")
	var seen string
	h := LoggerMiddleware(func(c tele.Context) error {
		seen, _ = c.Get("rid").(string)
		return nil
	})
	require.NoError(t, h(c))
	assert.NotEmpty(t, seen)
}

func TestMessageAttrsMasksCommandPayload(t *testing.T) {
	attrs := messageAttrs(&tele.Message{Payload: "deadbeefcafebabe"}, "/start deadbeefcafebabe")
	require.Len(t, attrs, 2)
	assert.Equal(t, "/start", attrs[0].Value.String())
	assert.NotContains(t, attrs[1].Value.String(), "cafebabe")

	attrs = messageAttrs(&tele.Message{}, "hello")
	require.Len(t, attrs, 1)
	assert.Equal(t, "hello", attrs[0].Value.String())
}

func TestMessageMetricsCountsSends(t *testing.T) {
	c := newFakeContext(1, "/start")
	h := MessageMetricsMiddleware(func(c tele.Context) error {
		_ = c.Send("one")
		return c.Send("two", &tele.ReplyMarkup{})
	})
	require.NoError(t, h(c))
	msgs, kb := GetCounters(c)
	assert.Equal(t, 2, msgs)
	assert.True(t, kb)
}
