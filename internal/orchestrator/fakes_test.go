package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/travochat/internal/gateway"
	"github.com/zhouzirui/travochat/internal/identity"
	"github.com/zhouzirui/travochat/internal/model/chat"
	"github.com/zhouzirui/travochat/internal/realtime"
)

type fakeIdentities struct {
	mu          sync.Mutex
	registerRes gateway.RegistrationResult
	registerErr error
	checkRes    gateway.IdentityStatus
	checkErr    error
	// checkGate, when set, holds CheckIdentity until closed.
	checkGate chan struct{}
	registers []string
	checks    []string
}

func (f *fakeIdentities) Register(_ context.Context, name, email string) (gateway.RegistrationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers = append(f.registers, name+"|"+email)
	return f.registerRes, f.registerErr
}

func (f *fakeIdentities) CheckIdentity(_ context.Context, email string) (gateway.IdentityStatus, error) {
	if f.checkGate != nil {
		<-f.checkGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks = append(f.checks, email)
	return f.checkRes, f.checkErr
}

func (f *fakeIdentities) registerCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registers)
}

func (f *fakeIdentities) checkCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.checks)
}

type fakeSessions struct {
	mu    sync.Mutex
	res   gateway.SessionActivationResult
	err   error
	gate  chan struct{}
	calls []string
}

func (f *fakeSessions) Activate(_ context.Context, userID string) (gateway.SessionActivationResult, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID)
	res := f.res
	if res.UserID == "" {
		res.UserID = userID
	}
	return res, f.err
}

func (f *fakeSessions) activated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type renderCall struct {
	msg chat.Message
	own bool
}

type recorder struct {
	mu      sync.Mutex
	renders []renderCall
	notices []string
}

func (r *recorder) Render(msg chat.Message, own bool) {
	r.mu.Lock()
	r.renders = append(r.renders, renderCall{msg, own})
	r.mu.Unlock()
}

func (r *recorder) Notify(notice string) {
	r.mu.Lock()
	r.notices = append(r.notices, notice)
	r.mu.Unlock()
}

func (r *recorder) renderCalls() []renderCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]renderCall(nil), r.renders...)
}

func (r *recorder) noticesSeen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}

// pipeConn is an in-memory raw bus connection.
type pipeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu  sync.Mutex
	out [][]byte
}

func newPipeConn() *pipeConn {
	return &pipeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *pipeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	c.mu.Lock()
	c.out = append(c.out, data)
	c.mu.Unlock()
	return nil
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) deliver(t *testing.T, msg chat.Message) {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"content": msg.Content,
		"sender":  msg.Sender,
		"session": msg.SessionID,
	})
	require.NoError(t, err)
	c.in <- data
}

func (c *pipeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.out...)
}

type pipeDialer struct {
	mu    sync.Mutex
	conns []*pipeConn
}

func (d *pipeDialer) Dial(_ context.Context, _ string) (realtime.Conn, error) {
	conn := newPipeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *pipeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *pipeDialer) last() *pipeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type harness struct {
	orch       *Orchestrator
	store      *identity.MemoryStore
	identities *fakeIdentities
	sessions   *fakeSessions
	dialer     *pipeDialer
	ui         *recorder
}

func newHarness(t *testing.T, seed map[string]string) *harness {
	t.Helper()
	h := &harness{
		store:      identity.NewMemoryStore(seed),
		identities: &fakeIdentities{},
		sessions:   &fakeSessions{},
		dialer:     &pipeDialer{},
		ui:         &recorder{},
	}
	orch, err := New(Deps{
		Store:      h.store,
		Identities: h.identities,
		Sessions:   h.sessions,
		NewChannel: func(session realtime.SessionSource) (Channel, error) {
			return realtime.New(realtime.Options{
				URL:      "ws://bus.test/connect",
				Protocol: realtime.ProtocolRaw,
				Dialer:   h.dialer,
			}, session, zerolog.Nop())
		},
		Renderer: h.ui,
		Notifier: h.ui,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { orch.Close() })
	h.orch = orch
	return h
}

func (h *harness) stored(t *testing.T, key string) string {
	t.Helper()
	v, err := h.store.Get(key)
	require.NoError(t, err)
	return v
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}
