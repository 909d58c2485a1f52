package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/storebot/internal/session"
)

func newTestService(t *testing.T, store session.Store) *Service {
	t.Helper()
	svc, err := NewService(Options{Store: store, BotUsername: "@ryboed_bot"})
	require.NoError(t, err)
	return svc
}

func TestInitiateBuildsDeepLink(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore(0)
	svc := newTestService(t, store)

	ch, err := svc.Initiate(ctx)
	require.NoError(t, err)

	assert.Len(t, ch.Code, 32)
	assert.Equal(t, "https://t.me/ryboed_bot?start="+ch.Code, ch.BotLink)

	s, ok, err := store.Get(ctx, ch.Code)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.StatusPending, s.Status)
}

func TestInitiateWithoutBotUsername(t *testing.T) {
	svc, err := NewService(Options{Store: session.NewMemoryStore(0)})
	require.NoError(t, err)

	_, err = svc.Initiate(context.Background())
	assert.ErrorIs(t, err, ErrGatewayNotReady)

	svc.SetBotUsername("shop_bot")
	_, err = svc.Initiate(context.Background())
	assert.NoError(t, err)
}

func TestInitiateProducesDistinctCodes(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore(0)
	svc := newTestService(t, store)

	const n = 500
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		ch, err := svc.Initiate(ctx)
		require.NoError(t, err)
		seen[ch.Code] = struct{}{}
	}
	assert.Len(t, seen, n)

	count, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, count)
}

func TestInitiateRetriesOnCollision(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore(0)
	require.NoError(t, store.Create(ctx, "taken0000"))

	codes := []string{"taken0000", "fresh0000"}
	i := 0
	svc, err := NewService(Options{
		Store:       store,
		BotUsername: "bot",
		NewCode: func() (string, error) {
			c := codes[i]
			i++
			return c, nil
		},
	})
	require.NoError(t, err)

	ch, err := svc.Initiate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh0000", ch.Code)
}

func TestHandshakePendingResolvedExpired(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, session.NewMemoryStore(0))

	ch, err := svc.Initiate(ctx)
	require.NoError(t, err)

	res, err := svc.Poll(ctx, ch.Code)
	require.NoError(t, err)
	assert.Equal(t, PollPending, res.Status)
	assert.Nil(t, res.User)

	sender := session.User{ID: 777, FirstName: "Olga", Username: "olga"}
	outcome, err := svc.OnGatewayStart(ctx, ch.Code, sender)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, outcome)

	res, err = svc.Poll(ctx, ch.Code)
	require.NoError(t, err)
	assert.Equal(t, PollResolved, res.Status)
	require.NotNil(t, res.User)
	assert.Equal(t, sender, *res.User)

	for i := 0; i < 3; i++ {
		res, err = svc.Poll(ctx, ch.Code)
		require.NoError(t, err)
		assert.Equal(t, PollExpired, res.Status)
	}
}

func TestPollUnknownCodeIsExpired(t *testing.T) {
	svc := newTestService(t, session.NewMemoryStore(0))

	for _, code := range []string{"neverissued", "", "   "} {
		res, err := svc.Poll(context.Background(), code)
		require.NoError(t, err)
		assert.Equal(t, PollExpired, res.Status, "code %q", code)
	}
}

func TestOnGatewayStartUnmatchedPayloadIsNoop(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore(0)
	svc := newTestService(t, store)

	ch, err := svc.Initiate(ctx)
	require.NoError(t, err)

	payloads := []string{"", "deadbeefdeadbeef", "short", "<script>alert(1)</script>", strings.Repeat("a", 65)}
	for _, p := range payloads {
		outcome, err := svc.OnGatewayStart(ctx, p, session.User{ID: 1})
		require.NoError(t, err)
		assert.Equal(t, OutcomeGreeting, outcome, "payload %q", p)
	}

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	s, ok, err := store.Get(ctx, ch.Code)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.StatusPending, s.Status)
}

func TestOnGatewayStartAnonymousSenderIsNoop(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore(0)
	svc := newTestService(t, store)

	ch, err := svc.Initiate(ctx)
	require.NoError(t, err)

	outcome, err := svc.OnGatewayStart(ctx, ch.Code, session.User{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeGreeting, outcome)

	s, ok, err := store.Get(ctx, ch.Code)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.StatusPending, s.Status)
	assert.Nil(t, s.User)
}

func TestConcurrentPollsConsumeOnce(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, session.NewMemoryStore(0))

	ch, err := svc.Initiate(ctx)
	require.NoError(t, err)
	_, err = svc.OnGatewayStart(ctx, ch.Code, session.User{ID: 5, FirstName: "Five"})
	require.NoError(t, err)

	const pollers = 16
	results := make(chan PollStatus, pollers)
	var wg sync.WaitGroup
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Poll(ctx, ch.Code)
			if err != nil {
				results <- ""
				return
			}
			results <- res.Status
		}()
	}
	wg.Wait()
	close(results)

	counts := map[PollStatus]int{}
	for st := range results {
		counts[st]++
	}
	assert.Equal(t, 1, counts[PollResolved])
	assert.Equal(t, pollers-1, counts[PollExpired])
}

type failingStore struct {
	session.Store
	err error
}

func (f failingStore) Create(context.Context, string) error { return f.err }

func (f failingStore) Get(context.Context, string) (session.Session, bool, error) {
	return session.Session{}, false, f.err
}

func (f failingStore) Resolve(context.Context, string, session.User) (bool, error) {
	return false, f.err
}

func TestStoreErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("redis down")
	svc := newTestService(t, failingStore{err: boom})

	_, err := svc.Initiate(ctx)
	assert.ErrorIs(t, err, boom)

	_, err = svc.Poll(ctx, "abcdef12")
	assert.ErrorIs(t, err, boom)

	outcome, err := svc.OnGatewayStart(ctx, "abcdef12", session.User{ID: 1})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, OutcomeGreeting, outcome)
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(Options{})
	assert.Error(t, err)
}

func TestDeepLinkEscapesCode(t *testing.T) {
	assert.Equal(t, "https://t.me/bot?start=a%2Bb", DeepLink("bot", "a+b"))
	assert.Equal(t, fmt.Sprintf("https://t.me/bot?start=%s", "abc_DEF-1"), DeepLink("bot", "abc_DEF-1"))
}

func TestRandomCodeShape(t *testing.T) {
	code, err := RandomCode()
	require.NoError(t, err)
	assert.Len(t, code, 32)
	assert.True(t, plausibleCode(code))
	assert.Equal(t, strings.ToLower(code), code)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "authenticated", OutcomeAuthenticated.String())
	assert.Equal(t, "greeting", OutcomeGreeting.String())
}
