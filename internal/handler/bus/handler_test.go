package bus

import (
	"bufio"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	busService "github.com/zhouzirui/travochat/internal/service/bus"
	"github.com/zhouzirui/travochat/internal/stomp"
)

func setupServer(t *testing.T, topic string) (*httptest.Server, *busService.Broadcaster) {
	t.Helper()
	b := busService.NewBroadcaster(zerolog.Nop())
	h := New(b, Options{Topic: topic, Destination: "/app/chat"}, zerolog.Nop())

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, b
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return data
}

func readFrame(t *testing.T, conn *websocket.Conn) stomp.Frame {
	t.Helper()
	f, err := stomp.Unmarshal(read(t, conn))
	require.NoError(t, err)
	return f
}

func write(t *testing.T, conn *websocket.Conn, data []byte) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func waitSubscribers(t *testing.T, b *busService.Broadcaster, topic string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.Subscribers(topic) == n }, 2*time.Second, 5*time.Millisecond)
}

func TestRawBroadcast(t *testing.T) {
	srv, b := setupServer(t, "/topic/messages")
	ann := dial(t, srv, "/connect")
	bob := dial(t, srv, "/connect")
	waitSubscribers(t, b, busService.AllTopics, 2)

	payload := `{"content":"hi","sender":"Ann","session":1}`
	write(t, ann, []byte(payload))

	assert.JSONEq(t, payload, string(read(t, ann)))
	assert.JSONEq(t, payload, string(read(t, bob)))
}

func TestRawIgnoresNonJSON(t *testing.T) {
	srv, b := setupServer(t, "/topic/messages")
	conn := dial(t, srv, "/connect")
	waitSubscribers(t, b, busService.AllTopics, 1)

	write(t, conn, []byte("not json"))
	write(t, conn, []byte(`{"content":"ok"}`))

	assert.JSONEq(t, `{"content":"ok"}`, string(read(t, conn)))
}

func stompConnect(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	write(t, conn, stomp.New(stomp.Connect, "accept-version", "1.2", "host", "localhost").Marshal())
	f := readFrame(t, conn)
	require.Equal(t, stomp.Connected, f.Command)
	assert.Equal(t, "1.2", f.Header.Get("version"))
}

func TestSTOMPSendReachesSubscribers(t *testing.T) {
	srv, b := setupServer(t, "/topic/messages")
	ann := dial(t, srv, "/ws/websocket")
	bob := dial(t, srv, "/ws")
	stompConnect(t, ann)
	stompConnect(t, bob)

	write(t, bob, stomp.New(stomp.Subscribe, "id", "sub-0", "destination", "/topic/messages").Marshal())
	waitSubscribers(t, b, "/topic/messages", 1)

	send := stomp.New(stomp.Send, "destination", "/app/chat", "receipt", "r-1")
	send.Body = []byte(`{"content":"hi","sender":"Ann","session":1}`)
	write(t, ann, send.Marshal())

	receipt := readFrame(t, ann)
	assert.Equal(t, stomp.Receipt, receipt.Command)
	assert.Equal(t, "r-1", receipt.Header.Get("receipt-id"))

	msg := readFrame(t, bob)
	assert.Equal(t, stomp.Message, msg.Command)
	assert.Equal(t, "sub-0", msg.Header.Get("subscription"))
	assert.Equal(t, "/topic/messages", msg.Header.Get("destination"))
	assert.NotEmpty(t, msg.Header.Get("message-id"))
	assert.JSONEq(t, string(send.Body), string(msg.Body))
}

func TestSTOMPSessionTopic(t *testing.T) {
	srv, b := setupServer(t, "/topic/session.{session}")
	conn := dial(t, srv, "/ws/websocket")
	stompConnect(t, conn)

	write(t, conn, stomp.New(stomp.Subscribe, "id", "s", "destination", "/topic/session.7").Marshal())
	waitSubscribers(t, b, "/topic/session.7", 1)

	other := stomp.New(stomp.Send, "destination", "/app/chat")
	other.Body = []byte(`{"content":"elsewhere","session":8}`)
	write(t, conn, other.Marshal())

	mine := stomp.New(stomp.Send, "destination", "/app/chat")
	mine.Body = []byte(`{"content":"here","session":7}`)
	write(t, conn, mine.Marshal())

	msg := readFrame(t, conn)
	assert.JSONEq(t, string(mine.Body), string(msg.Body))
}

func TestSTOMPUnsubscribe(t *testing.T) {
	srv, b := setupServer(t, "/topic/messages")
	conn := dial(t, srv, "/ws/websocket")
	stompConnect(t, conn)

	write(t, conn, stomp.New(stomp.Subscribe, "id", "s", "destination", "/topic/messages").Marshal())
	waitSubscribers(t, b, "/topic/messages", 1)
	write(t, conn, stomp.New(stomp.Unsubscribe, "id", "s").Marshal())
	waitSubscribers(t, b, "/topic/messages", 0)
}

func TestSTOMPRequiresConnect(t *testing.T) {
	srv, _ := setupServer(t, "/topic/messages")
	conn := dial(t, srv, "/ws/websocket")

	write(t, conn, stomp.New(stomp.Subscribe, "id", "s", "destination", "/topic/messages").Marshal())

	f := readFrame(t, conn)
	assert.Equal(t, stomp.Error, f.Command)
	assert.Equal(t, "not connected", f.Header.Get("message"))
}

func TestSTOMPDisconnectReceipt(t *testing.T) {
	srv, _ := setupServer(t, "/topic/messages")
	conn := dial(t, srv, "/ws/websocket")
	stompConnect(t, conn)

	write(t, conn, stomp.New(stomp.Disconnect, "receipt", "bye").Marshal())

	f := readFrame(t, conn)
	assert.Equal(t, stomp.Receipt, f.Command)
	assert.Equal(t, "bye", f.Header.Get("receipt-id"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestEventsStreamsPublishedPayloads(t *testing.T) {
	srv, b := setupServer(t, "/topic/messages")

	resp, err := srv.Client().Get(srv.URL + "/events?topic=/topic/messages")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if line == "\n" {
				return strings.Join(lines, "")
			}
			lines = append(lines, line)
		}
	}

	assert.Contains(t, readEvent(), "event: status")
	waitSubscribers(t, b, "/topic/messages", 1)

	b.Publish("/topic/messages", []byte(`{"content":"hi"}`))
	assert.Equal(t, "event: message\ndata: {\"content\":\"hi\"}\n", readEvent())
}
