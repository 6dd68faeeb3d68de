package realtime

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/zhouzirui/travochat/internal/model/chat"
	"github.com/zhouzirui/travochat/internal/stomp"
)

// protocol frames chat messages on top of a Conn.
type protocol interface {
	// open completes any handshake and subscribes to topic.
	open(conn Conn, target, topic string) error
	encode(msg chat.Message) ([]byte, error)
	// decode returns ok == false for frames that carry no chat message.
	decode(data []byte) (msg chat.Message, ok bool, err error)
	// close says goodbye before the connection is torn down.
	close(conn Conn)
}

// Protocol names accepted in configuration.
const (
	ProtocolRaw   = "raw"
	ProtocolSTOMP = "stomp"
)

func newProtocol(name, destination string) (protocol, error) {
	switch name {
	case ProtocolRaw, "":
		return rawProtocol{}, nil
	case ProtocolSTOMP:
		return &stompProtocol{destination: destination}, nil
	default:
		return nil, fmt.Errorf("unknown realtime protocol %q", name)
	}
}

type wirePayload struct {
	Content string `json:"content"`
	Sender  string `json:"sender"`
	Session int64  `json:"session"`
}

func encodePayload(msg chat.Message) ([]byte, error) {
	return json.Marshal(wirePayload{Content: msg.Content, Sender: msg.Sender, Session: msg.SessionID})
}

// decodePayload accepts session as a number or a numeric string.
func decodePayload(data []byte) (chat.Message, error) {
	if !gjson.ValidBytes(data) {
		return chat.Message{}, fmt.Errorf("invalid message payload: %q", truncate(data))
	}
	body := gjson.ParseBytes(data)
	return chat.Message{
		Content:   body.Get("content").String(),
		Sender:    body.Get("sender").String(),
		SessionID: body.Get("session").Int(),
	}, nil
}

func truncate(data []byte) string {
	const limit = 64
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}

// rawProtocol sends one JSON object per websocket message on a dedicated
// endpoint; every connection receives every message.
type rawProtocol struct{}

func (rawProtocol) open(Conn, string, string) error { return nil }

func (rawProtocol) encode(msg chat.Message) ([]byte, error) { return encodePayload(msg) }

func (rawProtocol) decode(data []byte) (chat.Message, bool, error) {
	msg, err := decodePayload(data)
	if err != nil {
		return chat.Message{}, false, err
	}
	return msg, true, nil
}

func (rawProtocol) close(Conn) {}

// stompProtocol speaks STOMP 1.2: one subscription to the broadcast topic and
// SEND frames to the application destination.
type stompProtocol struct {
	destination    string
	subscriptionID string
}

func (p *stompProtocol) open(conn Conn, target, topic string) error {
	host := "localhost"
	if u, err := url.Parse(target); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}

	connect := stomp.New(stomp.Connect, "accept-version", "1.2", "host", host, "heart-beat", "0,0")
	if err := conn.WriteMessage(connect.Marshal()); err != nil {
		return fmt.Errorf("sending CONNECT: %w", err)
	}

	if err := awaitConnected(conn); err != nil {
		return err
	}

	p.subscriptionID = "sub-" + uuid.NewString()
	sub := stomp.New(stomp.Subscribe, "id", p.subscriptionID, "destination", topic, "ack", "auto")
	if err := conn.WriteMessage(sub.Marshal()); err != nil {
		return fmt.Errorf("sending SUBSCRIBE: %w", err)
	}
	return nil
}

func awaitConnected(conn Conn) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading CONNECTED: %w", err)
		}
		f, err := stomp.Unmarshal(data)
		if err != nil {
			return err
		}
		switch f.Command {
		case "":
			continue
		case stomp.Connected:
			return nil
		case stomp.Error:
			return fmt.Errorf("broker rejected connect: %s %s", f.Header.Get("message"), string(f.Body))
		default:
			return fmt.Errorf("expected CONNECTED, got %s", f.Command)
		}
	}
}

func (p *stompProtocol) encode(msg chat.Message) ([]byte, error) {
	body, err := encodePayload(msg)
	if err != nil {
		return nil, err
	}
	f := stomp.New(stomp.Send, "destination", p.destination, "content-type", "application/json")
	f.Body = body
	return f.Marshal(), nil
}

func (p *stompProtocol) decode(data []byte) (chat.Message, bool, error) {
	f, err := stomp.Unmarshal(data)
	if err != nil {
		return chat.Message{}, false, err
	}
	switch f.Command {
	case stomp.Message:
		if sub := f.Header.Get("subscription"); sub != "" && sub != p.subscriptionID {
			return chat.Message{}, false, nil
		}
		msg, err := decodePayload(f.Body)
		if err != nil {
			return chat.Message{}, false, err
		}
		return msg, true, nil
	case stomp.Error:
		return chat.Message{}, false, fmt.Errorf("broker error: %s", f.Header.Get("message"))
	default:
		return chat.Message{}, false, nil
	}
}

func (p *stompProtocol) close(conn Conn) {
	_ = conn.WriteMessage(stomp.New(stomp.Disconnect).Marshal())
}
