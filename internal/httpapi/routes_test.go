package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/quiz-chat/internal/hub"
	"github.com/DoyleJ11/quiz-chat/internal/identity"
	"github.com/DoyleJ11/quiz-chat/internal/messages"
	"github.com/DoyleJ11/quiz-chat/internal/room"
	"github.com/DoyleJ11/quiz-chat/internal/store"
	"github.com/DoyleJ11/quiz-chat/internal/transport"
	"github.com/DoyleJ11/quiz-chat/internal/types"
	"github.com/DoyleJ11/quiz-chat/internal/ws"
	pkgtypes "github.com/DoyleJ11/quiz-chat/pkg/types"
)

type relay struct {
	srv   *httptest.Server
	store *store.Store
	hub   *hub.Hub
}

func (r relay) wsURL() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws"
}

func startRelay(t *testing.T, wsOpts ws.Options) relay {
	t.Helper()
	st, err := store.Open(":memory:", false)
	require.NoError(t, err)

	h := hub.NewHub(context.Background(), st, nil)
	srv := httptest.NewServer(SetupRoutes(Deps{Hub: h, Store: st, HistoryLimit: 50, WS: wsOpts}))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
		srv.Close()
		_ = st.Close()
	})
	return relay{srv: srv, store: st, hub: h}
}

func getHistory(t *testing.T, r relay, roomID string) (int, pkgtypes.HistoryResponse) {
	t.Helper()
	resp, err := r.srv.Client().Get(r.srv.URL + "/api/chat/messages/" + roomID)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body pkgtypes.HistoryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealthz(t *testing.T) {
	r := startRelay(t, ws.Options{})
	resp, err := r.srv.Client().Get(r.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRooms(t *testing.T) {
	r := startRelay(t, ws.Options{})
	_, err := r.hub.Lobby(context.Background(), "general")
	require.NoError(t, err)

	resp, err := r.srv.Client().Get(r.srv.URL + "/api/chat/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Rooms []string `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"general"}, body.Rooms)
}

func TestRooms_UnavailableAfterHubShutdown(t *testing.T) {
	r := startRelay(t, ws.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.hub.Shutdown(ctx))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.srv.URL+"/api/chat/rooms", nil)
	require.NoError(t, err)
	resp, err := r.srv.Client().Do(req)
	require.NoError(t, err, "request must not hang on a stopped hub")
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHistory_EmptyRoom(t *testing.T) {
	r := startRelay(t, ws.Options{})
	status, body := getHistory(t, r, "general")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, body.Success)
	assert.Empty(t, body.Data)
}

func TestHistory_ReturnsNewestWindow(t *testing.T) {
	r := startRelay(t, ws.Options{})
	ctx := context.Background()
	for _, body := range []string{"one", "two", "three"} {
		_, err := r.store.Append(ctx, pkgtypes.Message{RoomID: "general room", Body: body})
		require.NoError(t, err)
	}

	status, body := getHistory(t, r, "general%20room")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body.Data, 3)
	assert.Equal(t, "one", body.Data[0].Body)
	assert.Equal(t, "three", body.Data[2].Body)
}

// rawClient speaks frames directly so the relay can be tested without the
// room client.
type rawClient struct {
	conn *websocket.Conn
}

func dialRaw(t *testing.T, r relay, header http.Header) *rawClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, r.wsURL(), &websocket.DialOptions{HTTPHeader: header})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return &rawClient{conn: conn}
}

func (c *rawClient) send(t *testing.T, event string, payload any) {
	t.Helper()
	f, err := types.NewFrame(event, payload)
	require.NoError(t, err)
	b, err := f.Encode()
	require.NoError(t, err)
	require.NoError(t, c.conn.Write(context.Background(), websocket.MessageText, b))
}

func (c *rawClient) expect(t *testing.T, event string) types.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		_, data, err := c.conn.Read(ctx)
		require.NoError(t, err, "waiting for %s", event)
		f, err := types.DecodeFrame(data)
		require.NoError(t, err)
		if f.Event == event {
			return f
		}
	}
}

func TestWS_SendBeforeJoinIsRejected(t *testing.T) {
	r := startRelay(t, ws.Options{})
	c := dialRaw(t, r, nil)

	c.send(t, pkgtypes.EventSendMessage, pkgtypes.SendMessage{RoomID: "general", Message: "hi"})
	f := c.expect(t, pkgtypes.EventMessageError)

	var n pkgtypes.ErrorNotice
	require.NoError(t, json.Unmarshal(f.Data, &n))
	assert.NotEmpty(t, n.Message)

	c.send(t, pkgtypes.EventRequestHelp, pkgtypes.RequestHelp{RoomID: "general", Question: "?"})
	c.expect(t, pkgtypes.EventHelpError)
}

func TestWS_JoinSendEcho(t *testing.T) {
	r := startRelay(t, ws.Options{})
	alice := dialRaw(t, r, nil)
	bob := dialRaw(t, r, nil)

	alice.send(t, pkgtypes.EventJoinRoom, pkgtypes.JoinRoom{RoomID: "general", Username: "Alice", UserID: "a"})
	alice.expect(t, pkgtypes.EventOnlineUsers)
	bob.send(t, pkgtypes.EventJoinRoom, pkgtypes.JoinRoom{RoomID: "general", Username: "Bob", UserID: "b"})
	bob.expect(t, pkgtypes.EventOnlineUsers)
	alice.expect(t, pkgtypes.EventUserJoined)

	bob.send(t, pkgtypes.EventTypingStart, pkgtypes.Typing{RoomID: "general", Username: "Bob", UserID: "b"})
	var ut pkgtypes.UserTyping
	require.NoError(t, json.Unmarshal(alice.expect(t, pkgtypes.EventUserTyping).Data, &ut))
	assert.Equal(t, pkgtypes.UserTyping{Username: "Bob", UserID: "b", IsTyping: true}, ut)

	bob.send(t, pkgtypes.EventSendMessage, pkgtypes.SendMessage{RoomID: "general", UserID: "b", Username: "Bob", Message: "hello"})
	for _, c := range []*rawClient{alice, bob} {
		var m pkgtypes.Message
		require.NoError(t, json.Unmarshal(c.expect(t, pkgtypes.EventNewMessage).Data, &m))
		assert.Equal(t, "hello", m.Body)
		assert.Equal(t, "b", m.AuthorID)
		assert.NotEmpty(t, m.ID)
		assert.Positive(t, m.Seq)
	}

	_, body := getHistory(t, r, "general")
	require.Len(t, body.Data, 1)

	bob.send(t, pkgtypes.EventLeaveRoom, "general")
	var left pkgtypes.UserLeft
	require.NoError(t, json.Unmarshal(alice.expect(t, pkgtypes.EventUserLeft).Data, &left))
	assert.Equal(t, "b", left.UserID)
}

func TestWS_VerifiedTokenRequired(t *testing.T) {
	r := startRelay(t, ws.Options{Resolver: identity.NewResolver("secret")})

	forged, err := identity.Sign("other", identity.Identity{UserID: "a", DisplayName: "Alice"}, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, r.wsURL(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + forged}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	good, err := identity.Sign("secret", identity.Identity{UserID: "a", DisplayName: "Alice"}, time.Hour)
	require.NoError(t, err)
	c := dialRaw(t, r, http.Header{"Authorization": []string{"Bearer " + good}})

	// The token's identity wins over whatever the payload claims.
	c.send(t, pkgtypes.EventJoinRoom, pkgtypes.JoinRoom{RoomID: "general", Username: "Mallory", UserID: "m"})
	var roster []pkgtypes.PresenceEntry
	require.NoError(t, json.Unmarshal(c.expect(t, pkgtypes.EventOnlineUsers).Data, &roster))
	assert.Equal(t, []pkgtypes.PresenceEntry{{UserID: "a", DisplayName: "Alice"}}, roster)
}

type chatter struct {
	client *room.Client
}

func startChatter(t *testing.T, r relay, userID, name string) chatter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	sess := transport.NewSession(transport.Config{URL: r.wsURL(), MinBackoff: 10 * time.Millisecond})
	client := room.New(ctx, room.Config{
		Transport: sess,
		History:   messages.NewHistoryClient(r.srv.URL, messages.WithHTTPClient(r.srv.Client())),
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = sess.Run(ctx)
	}()
	t.Cleanup(func() {
		client.Close()
		cancel()
		wg.Wait()
	})

	tok, err := identity.Sign("dev", identity.Identity{UserID: userID, DisplayName: name}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, client.Enter(ctx, "general", tok))
	require.Eventually(t, func() bool {
		v, err := client.View(ctx)
		return err == nil && v.Joined && !v.HistoryLoading
	}, 2*time.Second, 10*time.Millisecond)
	return chatter{client: client}
}

func (c chatter) view(t *testing.T) room.View {
	t.Helper()
	v, err := c.client.View(context.Background())
	require.NoError(t, err)
	return v
}

func TestEndToEnd_TwoClients(t *testing.T) {
	r := startRelay(t, ws.Options{})
	_, err := r.store.Append(context.Background(), pkgtypes.Message{RoomID: "general", AuthorID: "x", AuthorName: "Xavier", Body: "earlier"})
	require.NoError(t, err)

	alice := startChatter(t, r, "a", "Alice")
	bob := startChatter(t, r, "b", "Bob")

	require.Eventually(t, func() bool { return len(alice.view(t).Online) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, bob.view(t).Messages, 1)

	require.NoError(t, alice.client.Send(context.Background(), "hi bob"))
	require.Eventually(t, func() bool { return len(bob.view(t).Messages) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, bob.client.RequestHelp(context.Background(), "stuck on 3"))

	for _, c := range []chatter{alice, bob} {
		require.Eventually(t, func() bool { return len(c.view(t).Messages) == 3 }, 2*time.Second, 10*time.Millisecond)
		msgs := c.view(t).Messages
		assert.Equal(t, "earlier", msgs[0].Body)
		assert.Equal(t, "hi bob", msgs[1].Body)
		assert.Equal(t, pkgtypes.KindHelp, msgs[2].Kind)
	}

	bob.client.Keystroke()
	require.Eventually(t, func() bool {
		typing := alice.view(t).Typing
		return len(typing) == 1 && typing[0] == "Bob"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.client.Leave(context.Background()))
	require.Eventually(t, func() bool {
		v := alice.view(t)
		return len(v.Online) == 1 && len(v.Typing) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
