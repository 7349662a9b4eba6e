package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// Client is the CLI side of the socket. Not safe for concurrent use;
// each command invocation opens its own client.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	seq     uint64
	sender  string
}

// Dial connects to the daemon socket and registers as a CLI client.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w (is the daemon running?)", socketPath, err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, MaxLineBytes), MaxLineBytes)

	c := &Client{
		conn:    conn,
		scanner: scanner,
		sender:  "cli-" + uuid.NewString()[:8],
	}
	if _, err := c.roundTrip(TypeHello, HelloPayload{Kind: "cli"}); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Close tears the connection down.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Status queries the daemon.
func (c *Client) Status() (StatusPayload, error) {
	var st StatusPayload
	result, err := c.roundTrip(TypeStatus, nil)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(result, &st); err != nil {
		return st, fmt.Errorf("ipc: decode status: %w", err)
	}
	return st, nil
}

// Say injects a replay-source transcript.
func (c *Client) Say(text string, confidence float64) error {
	_, err := c.roundTrip(TypeTranscript, TranscriptPayload{Text: text, Confidence: confidence})
	return err
}

// Select resolves the live selection prompt by candidate index.
func (c *Client) Select(requestID string, index int) error {
	_, err := c.roundTrip(TypeSelect, SelectPayload{RequestID: requestID, Index: index})
	return err
}

// Confirm resolves the live confirmation request affirmatively.
func (c *Client) Confirm(requestID string) error {
	_, err := c.roundTrip(TypeConfirm, DecisionPayload{RequestID: requestID})
	return err
}

// Deny resolves the live confirmation request negatively.
func (c *Client) Deny(requestID string) error {
	_, err := c.roundTrip(TypeDeny, DecisionPayload{RequestID: requestID})
	return err
}

// roundTrip sends one message and waits for its ack or error reply.
// Broker-originated broadcasts arriving in between are skipped.
func (c *Client) roundTrip(msgType string, payload any) (json.RawMessage, error) {
	c.seq++
	msg := Message{
		Seq:    c.seq,
		Nonce:  uuid.NewString(),
		Sender: c.sender,
		Type:   msgType,
		TS:     time.Now(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("ipc: marshal payload: %w", err)
		}
		msg.Payload = raw
	}

	line, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("ipc: marshal message: %w", err)
	}
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("ipc: write: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for c.scanner.Scan() {
		var reply Message
		if err := json.Unmarshal(c.scanner.Bytes(), &reply); err != nil {
			return nil, fmt.Errorf("ipc: decode reply: %w", err)
		}

		switch reply.Type {
		case TypeAck:
			var ack AckPayload
			if err := json.Unmarshal(reply.Payload, &ack); err != nil {
				return nil, fmt.Errorf("ipc: decode ack: %w", err)
			}
			if ack.AckSeq != msg.Seq {
				continue
			}
			return ack.Result, nil
		case TypeError:
			var e ErrorPayload
			if err := json.Unmarshal(reply.Payload, &e); err != nil {
				return nil, fmt.Errorf("ipc: decode error reply: %w", err)
			}
			if e.AckSeq != msg.Seq && e.AckSeq != 0 {
				continue
			}
			if e.Detail != "" {
				return nil, fmt.Errorf("ipc: %s: %s", e.Reason, e.Detail)
			}
			return nil, fmt.Errorf("ipc: %s", e.Reason)
		default:
			// Broadcast traffic for GUI subscribers; not ours.
			continue
		}
	}
	if err := c.scanner.Err(); err != nil {
		return nil, fmt.Errorf("ipc: read reply: %w", err)
	}
	return nil, fmt.Errorf("ipc: connection closed before reply")
}
