package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeHandler records pipeline calls made by the broker.
type fakeHandler struct {
	mu          sync.Mutex
	transcripts []string
	selections  []int
	confirms    []bool
	vias        []string
	failNext    bool
}

func (h *fakeHandler) Status() StatusPayload {
	return StatusPayload{Running: true, LiveRequestID: "req-1", LiveKind: "selection"}
}

func (h *fakeHandler) InjectTranscript(text string, confidence float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failNext {
		h.failNext = false
		return fmt.Errorf("pipeline unavailable")
	}
	h.transcripts = append(h.transcripts, text)
	return nil
}

func (h *fakeHandler) ResolveSelection(requestID string, index int, via string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.selections = append(h.selections, index)
	h.vias = append(h.vias, via)
	return nil
}

func (h *fakeHandler) ResolveConfirmation(requestID string, affirmative bool, via string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.confirms = append(h.confirms, affirmative)
	h.vias = append(h.vias, via)
	return nil
}

func startTestServer(t *testing.T, h Handler) (*Server, string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "voxgate.sock")
	s := NewServer(Config{
		SocketPath:   sock,
		ReplayWindow: 30 * time.Second,
		RateMax:      100,
		RateWindow:   time.Second,
	}, h, zap.NewNop())

	if err := s.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		s.Close()
		<-done
	})
	return s, sock
}

func TestSocketPermissionsRestricted(t *testing.T) {
	_, sock := startTestServer(t, &fakeHandler{})

	info, err := os.Stat(sock)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("socket mode = %o, want 0600", info.Mode().Perm())
	}
}

func TestClientRoundTrips(t *testing.T) {
	h := &fakeHandler{}
	_, sock := startTestServer(t, h)

	c, err := Dial(sock)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	st, err := c.Status()
	if err != nil {
		t.Fatal(err)
	}
	if !st.Running || st.LiveRequestID != "req-1" {
		t.Fatalf("status = %+v", st)
	}
	if st.Clients != 1 {
		t.Fatalf("clients = %d, want 1", st.Clients)
	}

	if err := c.Say("pause", 1.0); err != nil {
		t.Fatal(err)
	}
	if err := c.Select("req-1", 2); err != nil {
		t.Fatal(err)
	}
	if err := c.Confirm("req-1"); err != nil {
		t.Fatal(err)
	}
	if err := c.Deny("req-1"); err != nil {
		t.Fatal(err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.transcripts) != 1 || h.transcripts[0] != "pause" {
		t.Fatalf("transcripts = %v", h.transcripts)
	}
	if len(h.selections) != 1 || h.selections[0] != 2 {
		t.Fatalf("selections = %v", h.selections)
	}
	if len(h.confirms) != 2 || !h.confirms[0] || h.confirms[1] {
		t.Fatalf("confirms = %v", h.confirms)
	}
	for _, via := range h.vias {
		if via != "cli" {
			t.Fatalf("via = %v, want cli", h.vias)
		}
	}
}

func TestHandlerErrorBecomesErrorReply(t *testing.T) {
	h := &fakeHandler{failNext: true}
	_, sock := startTestServer(t, h)

	c, err := Dial(sock)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	err = c.Say("pause", 1.0)
	if err == nil || !strings.Contains(err.Error(), "pipeline unavailable") {
		t.Fatalf("err = %v", err)
	}
}

// rawConn writes messages without the client's automatic nonce handling.
type rawConn struct {
	t       *testing.T
	conn    net.Conn
	scanner *json.Decoder
}

func dialRaw(t *testing.T, sock string) *rawConn {
	t.Helper()
	conn, err := net.DialTimeout("unix", sock, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return &rawConn{t: t, conn: conn, scanner: json.NewDecoder(conn)}
}

func (r *rawConn) send(msg Message) Message {
	r.t.Helper()
	line, err := json.Marshal(msg)
	if err != nil {
		r.t.Fatal(err)
	}
	if _, err := r.conn.Write(append(line, '\n')); err != nil {
		r.t.Fatal(err)
	}
	r.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply Message
	if err := r.scanner.Decode(&reply); err != nil {
		r.t.Fatalf("decode reply: %v", err)
	}
	return reply
}

func errorReason(t *testing.T, reply Message) string {
	t.Helper()
	if reply.Type != TypeError {
		t.Fatalf("reply type = %s, want error", reply.Type)
	}
	var e ErrorPayload
	if err := json.Unmarshal(reply.Payload, &e); err != nil {
		t.Fatal(err)
	}
	return e.Reason
}

func TestOutOfOrderSequenceRejected(t *testing.T) {
	h := &fakeHandler{}
	_, sock := startTestServer(t, h)
	rc := dialRaw(t, sock)

	reply := rc.send(Message{Seq: 1, Sender: "x", Type: TypeTranscript,
		Payload: mustJSON(t, TranscriptPayload{Text: "pause", Confidence: 1})})
	if reply.Type != TypeAck {
		t.Fatalf("first message rejected: %+v", reply)
	}

	// Replay the same sequence.
	reply = rc.send(Message{Seq: 1, Sender: "x", Type: TypeTranscript,
		Payload: mustJSON(t, TranscriptPayload{Text: "stop", Confidence: 1})})
	if reason := errorReason(t, reply); reason != "ipc_replay_rejected" {
		t.Fatalf("reason = %s", reason)
	}

	// State must not have mutated.
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.transcripts) != 1 {
		t.Fatalf("transcripts = %v, replay mutated state", h.transcripts)
	}
}

func TestDuplicateNonceRejected(t *testing.T) {
	h := &fakeHandler{}
	_, sock := startTestServer(t, h)
	rc := dialRaw(t, sock)

	msg := Message{Seq: 1, Nonce: "n-123", Sender: "x", Type: TypeTranscript,
		Payload: mustJSON(t, TranscriptPayload{Text: "pause", Confidence: 1})}
	if reply := rc.send(msg); reply.Type != TypeAck {
		t.Fatalf("fresh nonce rejected: %+v", reply)
	}

	msg.Seq = 2
	reply := rc.send(msg)
	if reason := errorReason(t, reply); reason != "ipc_replay_rejected" {
		t.Fatalf("reason = %s", reason)
	}
}

func TestNonceReusableAfterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	w := NewNonceWindowWithClock(30*time.Second, func() time.Time { return now })

	if !w.Observe("n-1") {
		t.Fatal("fresh nonce rejected")
	}
	if w.Observe("n-1") {
		t.Fatal("duplicate inside window accepted")
	}

	now = now.Add(31 * time.Second)
	if !w.Observe("n-1") {
		t.Fatal("nonce still rejected after window elapsed")
	}
}

func TestUnknownTypeGetsErrorReplyAndMutatesNothing(t *testing.T) {
	h := &fakeHandler{}
	_, sock := startTestServer(t, h)
	rc := dialRaw(t, sock)

	reply := rc.send(Message{Seq: 1, Sender: "x", Type: "frobnicate"})
	if reason := errorReason(t, reply); reason != "unhandled_message" {
		t.Fatalf("reason = %s", reason)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.transcripts)+len(h.selections)+len(h.confirms) != 0 {
		t.Fatal("unknown type mutated handler state")
	}
}

func TestRateLimitDropsExcess(t *testing.T) {
	h := &fakeHandler{}
	sock := filepath.Join(t.TempDir(), "voxgate.sock")
	s := NewServer(Config{
		SocketPath:   sock,
		ReplayWindow: 30 * time.Second,
		RateMax:      2,
		RateWindow:   time.Minute,
	}, h, zap.NewNop())
	if err := s.Listen(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Serve(ctx); close(done) }()
	t.Cleanup(func() { cancel(); s.Close(); <-done })

	rc := dialRaw(t, sock)
	for seq := uint64(1); seq <= 2; seq++ {
		reply := rc.send(Message{Seq: seq, Sender: "x", Type: TypeTranscript,
			Payload: mustJSON(t, TranscriptPayload{Text: "pause", Confidence: 1})})
		if reply.Type != TypeAck {
			t.Fatalf("message %d rejected: %+v", seq, reply)
		}
	}

	reply := rc.send(Message{Seq: 3, Sender: "x", Type: TypeTranscript,
		Payload: mustJSON(t, TranscriptPayload{Text: "stop", Confidence: 1})})
	if reason := errorReason(t, reply); reason != "ipc_rate_limited" {
		t.Fatalf("reason = %s", reason)
	}
}

func TestSelectionOfferFansOutToGUIOnly(t *testing.T) {
	h := &fakeHandler{}
	s, sock := startTestServer(t, h)

	gui := dialRaw(t, sock)
	if reply := gui.send(Message{Seq: 1, Sender: "gui", Type: TypeHello,
		Payload: mustJSON(t, HelloPayload{Kind: "gui"})}); reply.Type != TypeAck {
		t.Fatalf("hello rejected: %+v", reply)
	}

	cli := dialRaw(t, sock)
	if reply := cli.send(Message{Seq: 1, Sender: "cli", Type: TypeHello,
		Payload: mustJSON(t, HelloPayload{Kind: "cli"})}); reply.Type != TypeAck {
		t.Fatalf("hello rejected: %+v", reply)
	}

	s.OfferSelection(SelectionOfferPayload{
		RequestID:  "req-9",
		Intent:     "play_artist",
		Candidates: []Candidate{{Index: 0, Label: "Abbey Road"}},
	})

	gui.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var offer Message
	if err := gui.scanner.Decode(&offer); err != nil {
		t.Fatalf("gui did not receive offer: %v", err)
	}
	if offer.Type != TypeSelectionOffer {
		t.Fatalf("offer type = %s", offer.Type)
	}
	var p SelectionOfferPayload
	if err := json.Unmarshal(offer.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.RequestID != "req-9" || len(p.Candidates) != 1 {
		t.Fatalf("offer payload = %+v", p)
	}

	// The CLI connection must not receive the broadcast.
	cli.conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var stray Message
	if err := cli.scanner.Decode(&stray); err == nil {
		t.Fatalf("cli received broadcast: %+v", stray)
	}
}

func TestOversizedLineDropsConnection(t *testing.T) {
	_, sock := startTestServer(t, &fakeHandler{})

	conn, err := net.DialTimeout("unix", sock, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	big := strings.Repeat("a", MaxLineBytes+100)
	if _, err := conn.Write([]byte(big + "\n")); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	for {
		if _, err := conn.Read(buf); err != nil {
			return // connection dropped as expected
		}
	}
}

func TestShutdownRepliesToInFlight(t *testing.T) {
	h := &fakeHandler{}
	s, sock := startTestServer(t, h)

	rc := dialRaw(t, sock)
	if reply := rc.send(Message{Seq: 1, Sender: "x", Type: TypeStatus}); reply.Type != TypeAck {
		t.Fatalf("status rejected: %+v", reply)
	}

	s.Close()

	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Fatal("socket file not removed on close")
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestBroadcastNeverBlocksOnStalledGUI(t *testing.T) {
	h := &fakeHandler{}
	s, sock := startTestServer(t, h)

	gui := dialRaw(t, sock)
	if reply := gui.send(Message{Seq: 1, Sender: "gui", Type: TypeHello,
		Payload: mustJSON(t, HelloPayload{Kind: "gui"})}); reply.Type != TypeAck {
		t.Fatalf("hello rejected: %+v", reply)
	}
	// The client now stops reading. Its socket buffer and broadcast
	// queue fill up; further offers must be dropped, never awaited.

	candidates := make([]Candidate, 40)
	for i := range candidates {
		candidates[i] = Candidate{Index: i, Label: strings.Repeat("x", 50)}
	}
	offer := SelectionOfferPayload{
		RequestID:  "req-7",
		Intent:     "play_artist",
		Candidates: candidates,
	}

	start := time.Now()
	for i := 0; i < 200; i++ {
		s.OfferSelection(offer)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("200 offers to a stalled client took %s", elapsed)
	}
}

func TestListenRefusesActiveSocket(t *testing.T) {
	_, sock := startTestServer(t, &fakeHandler{})

	second := NewServer(Config{
		SocketPath:   sock,
		ReplayWindow: time.Second,
		RateMax:      10,
		RateWindow:   time.Second,
	}, &fakeHandler{}, zap.NewNop())

	err := second.Listen()
	if err == nil {
		second.Close()
		t.Fatal("second daemon bound an in-use socket")
	}
	if !strings.Contains(err.Error(), "in use") {
		t.Fatalf("unexpected error: %v", err)
	}

	// The first daemon keeps answering on its socket.
	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("original daemon unreachable: %v", err)
	}
	c.Close()
}

func TestListenReplacesStaleSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "voxgate.sock")

	// Leave a socket file behind with nothing listening, as a crashed
	// daemon would.
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: sock, Net: "unix"})
	if err != nil {
		t.Fatal(err)
	}
	l.SetUnlinkOnClose(false)
	l.Close()
	if _, err := os.Stat(sock); err != nil {
		t.Fatalf("stale socket file missing: %v", err)
	}

	s := NewServer(Config{
		SocketPath:   sock,
		ReplayWindow: time.Second,
		RateMax:      10,
		RateWindow:   time.Second,
	}, &fakeHandler{}, zap.NewNop())
	if err := s.Listen(); err != nil {
		t.Fatalf("listen over stale socket: %v", err)
	}
	s.Close()
}
