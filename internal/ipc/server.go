package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voxgate/voxgate/internal/model"
	"github.com/voxgate/voxgate/internal/ratelimit"
)

// Handler is the pipeline-facing surface the broker drives. Calls may
// arrive concurrently from multiple connection goroutines.
type Handler interface {
	Status() StatusPayload
	InjectTranscript(text string, confidence float64) error
	ResolveSelection(requestID string, index int, via string) error
	ResolveConfirmation(requestID string, affirmative bool, via string) error
}

// Config holds broker settings.
type Config struct {
	SocketPath   string
	ReplayWindow time.Duration
	RateMax      int
	RateWindow   time.Duration
}

// broadcastQueueSize bounds per-connection outbound broadcasts. A GUI
// that stops reading fills its queue and loses offers; it must never
// stall the pipeline goroutine.
const broadcastQueueSize = 16

// conn is one accepted client.
type conn struct {
	id      string
	netConn net.Conn
	kind    string // set by hello; "" until then
	nextSeq uint64
	limiter *ratelimit.Window

	writeMu sync.Mutex

	// out carries broadcast lines to the writer goroutine.
	outMu     sync.Mutex
	out       chan []byte
	outClosed bool
}

// Server is the IPC broker: it owns the unix socket, applies replay
// and rate protection per connection, and multiplexes messages between
// clients and the pipeline.
type Server struct {
	cfg     Config
	handler Handler
	nonces  *NonceWindow
	log     *zap.Logger

	mu       sync.Mutex
	conns    map[string]*conn
	listener net.Listener
	closing  bool

	group *errgroup.Group
}

// NewServer creates a broker bound to the given handler.
func NewServer(cfg Config, handler Handler, log *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
		nonces:  NewNonceWindow(cfg.ReplayWindow),
		log:     log,
		conns:   map[string]*conn{},
	}
}

// Listen binds the unix socket and restricts it to the owning user.
// Failure to establish 0600 permissions is fatal: the socket is removed
// and an error returned.
func (s *Server) Listen() error {
	// A stale socket from a crashed run blocks the bind, but a socket
	// another daemon is answering on must not be stolen.
	if _, err := os.Stat(s.cfg.SocketPath); err == nil {
		if c, err := net.DialTimeout("unix", s.cfg.SocketPath, time.Second); err == nil {
			c.Close()
			return fmt.Errorf("ipc: socket %s is in use by a running daemon", s.cfg.SocketPath)
		}
		if err := os.Remove(s.cfg.SocketPath); err != nil {
			return fmt.Errorf("ipc: remove stale socket: %w", err)
		}
	}

	l, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("ipc: listen on %s: %w", s.cfg.SocketPath, err)
	}

	if err := os.Chmod(s.cfg.SocketPath, 0600); err != nil {
		l.Close()
		os.Remove(s.cfg.SocketPath)
		return fmt.Errorf("ipc: restrict socket permissions: %w", err)
	}
	info, err := os.Stat(s.cfg.SocketPath)
	if err != nil || info.Mode().Perm() != 0600 {
		l.Close()
		os.Remove(s.cfg.SocketPath)
		return fmt.Errorf("ipc: socket permissions not 0600 after chmod")
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.log.Info("ipc listening", zap.String("socket", s.cfg.SocketPath))
	return nil
}

// Serve accepts connections until ctx is cancelled or Close is called.
// Listen must have succeeded first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return fmt.Errorf("ipc: serve before listen")
	}

	s.group, ctx = errgroup.WithContext(ctx)
	s.group.Go(func() error {
		<-ctx.Done()
		s.Close()
		return nil
	})

	for {
		nc, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing || ctx.Err() != nil {
				return s.group.Wait()
			}
			return fmt.Errorf("ipc: accept: %w", err)
		}

		c := &conn{
			id:      fmt.Sprintf("%p", nc),
			netConn: nc,
			nextSeq: 1,
			limiter: ratelimit.NewWindow(s.cfg.RateMax, s.cfg.RateWindow),
			out:     make(chan []byte, broadcastQueueSize),
		}
		s.mu.Lock()
		s.conns[c.id] = c
		s.mu.Unlock()

		s.group.Go(func() error {
			s.writeLoop(c)
			return nil
		})
		s.group.Go(func() error {
			defer s.dropConn(c)
			s.serveConn(c)
			return nil
		})
	}
}

func (s *Server) dropConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()

	c.outMu.Lock()
	if !c.outClosed {
		c.outClosed = true
		close(c.out)
	}
	c.outMu.Unlock()
	c.netConn.Close()
}

// serveConn reads JSON lines until the connection closes or misbehaves.
func (s *Server) serveConn(c *conn) {
	scanner := bufio.NewScanner(c.netConn)
	scanner.Buffer(make([]byte, MaxLineBytes), MaxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.log.Warn("ipc malformed message", zap.String("conn", c.id), zap.Error(err))
			s.reply(c, errorReply(0, "malformed", err.Error()))
			return
		}
		if !s.handleMessage(c, &msg) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		// Oversized lines land here via bufio.ErrTooLong.
		s.log.Warn("ipc connection read failed", zap.String("conn", c.id), zap.Error(err))
	}
}

// handleMessage applies protection checks and dispatches one message.
// Returns false when the connection should be dropped.
func (s *Server) handleMessage(c *conn, msg *Message) bool {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		// In-flight messages during shutdown get a reply, not a drop.
		s.reply(c, errorReply(msg.Seq, "shutting_down", "daemon is shutting down"))
		return false
	}

	if ok, _ := c.limiter.Allow(); !ok {
		s.log.Warn("ipc rate limited", zap.String("conn", c.id), zap.Uint64("seq", msg.Seq))
		s.reply(c, errorReply(msg.Seq, string(model.ReasonIPCRateLimited), "message dropped"))
		return true
	}

	if !s.checkReplay(c, msg) {
		s.log.Warn("ipc replay rejected",
			zap.String("conn", c.id),
			zap.Uint64("seq", msg.Seq),
			zap.String("nonce", msg.Nonce))
		s.reply(c, errorReply(msg.Seq, string(model.ReasonIPCReplayRejected), "sequence or nonce rejected"))
		return true
	}

	// Every known type has its own branch. An unrecognized type is an
	// error reply plus a visible log line.
	switch msg.Type {
	case TypeHello:
		s.handleHello(c, msg)
	case TypeStatus:
		s.handleStatus(c, msg)
	case TypeTranscript:
		s.handleTranscript(c, msg)
	case TypeSelect:
		s.handleSelect(c, msg)
	case TypeConfirm:
		s.handleDecision(c, msg, true)
	case TypeDeny:
		s.handleDecision(c, msg, false)
	case TypeAck:
		// Clients may ack broker-originated messages; nothing to apply.
	case TypeError, TypeSelectionOffer, TypePromptResult:
		s.log.Warn("ipc broker-originated type received inbound",
			zap.String("conn", c.id), zap.String("type", msg.Type))
		s.reply(c, errorReply(msg.Seq, string(model.ReasonUnhandledMessage),
			fmt.Sprintf("type %q is broker-originated", msg.Type)))
	default:
		s.log.Warn("ipc unhandled message type",
			zap.String("conn", c.id), zap.String("type", msg.Type))
		s.reply(c, errorReply(msg.Seq, string(model.ReasonUnhandledMessage),
			fmt.Sprintf("unknown type %q", msg.Type)))
	}
	return true
}

// checkReplay enforces either the per-connection sequence or the
// single-use nonce, depending on which the message carries.
func (s *Server) checkReplay(c *conn, msg *Message) bool {
	if msg.Nonce != "" {
		return s.nonces.Observe(msg.Nonce)
	}
	if msg.Seq != c.nextSeq {
		return false
	}
	c.nextSeq++
	return true
}

func (s *Server) handleHello(c *conn, msg *Message) {
	var p HelloPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		s.reply(c, errorReply(msg.Seq, "malformed", "bad hello payload"))
		return
	}
	c.kind = p.Kind
	s.log.Info("ipc client registered", zap.String("conn", c.id), zap.String("kind", p.Kind))
	s.reply(c, ackReply(msg.Seq, nil))
}

func (s *Server) handleStatus(c *conn, msg *Message) {
	st := s.handler.Status()
	s.mu.Lock()
	st.Clients = len(s.conns)
	s.mu.Unlock()

	raw, err := json.Marshal(st)
	if err != nil {
		s.reply(c, errorReply(msg.Seq, "internal", err.Error()))
		return
	}
	s.reply(c, ackReply(msg.Seq, raw))
}

func (s *Server) handleTranscript(c *conn, msg *Message) {
	var p TranscriptPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		s.reply(c, errorReply(msg.Seq, "malformed", "bad transcript payload"))
		return
	}
	if err := s.handler.InjectTranscript(p.Text, p.Confidence); err != nil {
		s.reply(c, errorReply(msg.Seq, "rejected", err.Error()))
		return
	}
	s.reply(c, ackReply(msg.Seq, nil))
}

func (s *Server) handleSelect(c *conn, msg *Message) {
	var p SelectPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		s.reply(c, errorReply(msg.Seq, "malformed", "bad select payload"))
		return
	}
	if err := s.handler.ResolveSelection(p.RequestID, p.Index, c.via()); err != nil {
		s.reply(c, errorReply(msg.Seq, "rejected", err.Error()))
		return
	}
	s.reply(c, ackReply(msg.Seq, nil))
}

func (s *Server) handleDecision(c *conn, msg *Message, affirmative bool) {
	var p DecisionPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		s.reply(c, errorReply(msg.Seq, "malformed", "bad decision payload"))
		return
	}
	if err := s.handler.ResolveConfirmation(p.RequestID, affirmative, c.via()); err != nil {
		s.reply(c, errorReply(msg.Seq, "rejected", err.Error()))
		return
	}
	s.reply(c, ackReply(msg.Seq, nil))
}

func (c *conn) via() string {
	if c.kind == "gui" {
		return "gui"
	}
	return "cli"
}

// OfferSelection fans a new selection prompt out to every registered
// GUI client.
func (s *Server) OfferSelection(offer SelectionOfferPayload) {
	s.broadcast(TypeSelectionOffer, offer, func(c *conn) bool { return c.kind == "gui" })
}

// AnnounceResult fans a terminal prompt state out to every registered
// GUI client, so stale prompts can be dismissed.
func (s *Server) AnnounceResult(res PromptResultPayload) {
	s.broadcast(TypePromptResult, res, func(c *conn) bool { return c.kind == "gui" })
}

func (s *Server) broadcast(msgType string, payload any, want func(*conn) bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("ipc marshal broadcast", zap.String("type", msgType), zap.Error(err))
		return
	}
	msg := Message{
		Sender:  "voxgate",
		Type:    msgType,
		Payload: raw,
		TS:      time.Now(),
	}

	s.mu.Lock()
	targets := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		if want(c) {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	line, err := json.Marshal(&msg)
	if err != nil {
		s.log.Error("ipc marshal broadcast", zap.String("type", msgType), zap.Error(err))
		return
	}
	line = append(line, '\n')
	for _, c := range targets {
		s.enqueue(c, line)
	}
}

// enqueue hands a broadcast line to the connection's writer goroutine.
// Never blocks the caller: a full queue drops the line with a log entry.
func (s *Server) enqueue(c *conn, line []byte) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.outClosed {
		return
	}
	select {
	case c.out <- line:
	default:
		s.log.Warn("ipc broadcast dropped, client not reading", zap.String("conn", c.id))
	}
}

// writeLoop drains the broadcast queue onto the socket. A stalled
// write blocks only this goroutine; dropConn closes the socket and the
// queue, unblocking and terminating the loop.
func (s *Server) writeLoop(c *conn) {
	for line := range c.out {
		c.writeMu.Lock()
		c.netConn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_, err := c.netConn.Write(line)
		c.writeMu.Unlock()
		if err != nil {
			s.log.Warn("ipc broadcast write failed", zap.String("conn", c.id), zap.Error(err))
		}
	}
}

// reply writes one message line. A write failure drops the connection
// on its next read; it is logged here, not retried.
func (s *Server) reply(c *conn, msg *Message) {
	line, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("ipc marshal reply", zap.Error(err))
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.netConn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.netConn.Write(append(line, '\n')); err != nil {
		s.log.Warn("ipc write failed", zap.String("conn", c.id), zap.Error(err))
	}
}

func ackReply(seq uint64, result json.RawMessage) *Message {
	raw, _ := json.Marshal(AckPayload{AckSeq: seq, Result: result})
	return &Message{Sender: "voxgate", Type: TypeAck, Payload: raw, TS: time.Now()}
}

func errorReply(seq uint64, reason, detail string) *Message {
	raw, _ := json.Marshal(ErrorPayload{AckSeq: seq, Reason: reason, Detail: detail})
	return &Message{Sender: "voxgate", Type: TypeError, Payload: raw, TS: time.Now()}
}

// Close stops accepting, marks the broker closing so in-flight messages
// get a shutdown reply, and closes every connection.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	l := s.listener
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if l != nil {
		l.Close()
	}
	for _, c := range conns {
		c.netConn.Close()
	}
	os.Remove(s.cfg.SocketPath)
}
