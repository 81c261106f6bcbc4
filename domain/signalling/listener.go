package signalling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/signalhouse/calltrace/internal/config"
	"github.com/signalhouse/calltrace/pkg/logger"
)

// Listener consumes signalling frames from a websocket endpoint and publishes
// the decoded events on the Bus. It reconnects with a fixed interval until
// stopped.
type Listener struct {
	cfg config.SignallingConfig
	bus *Bus
	log *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewListener creates a listener. It does not connect until Start is called.
func NewListener(cfg *config.Config, bus *Bus, log *slog.Logger) *Listener {
	return &Listener{
		cfg: cfg.Signalling,
		bus: bus,
		log: log.With(logger.Scope("signalling.listener")),
	}
}

// Start launches the read loop in a background goroutine.
func (l *Listener) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		l.run(ctx)
	}()
}

// Stop terminates the read loop and waits for it to exit.
func (l *Listener) Stop() {
	l.once.Do(func() {
		if l.cancel != nil {
			l.cancel()
			<-l.done
		}
	})
}

func (l *Listener) run(ctx context.Context) {
	for {
		if err := l.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Warn("signalling connection lost",
				logger.Error(err),
				slog.Duration("retry_in", l.cfg.ReconnectInterval),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.cfg.ReconnectInterval):
		}
	}
}

// consume dials the endpoint and reads frames until the connection breaks or
// ctx is cancelled.
func (l *Listener) consume(ctx context.Context) error {
	header := http.Header{}
	if l.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+l.cfg.AuthToken)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial signalling endpoint: %w", err)
	}
	defer conn.Close()

	if l.cfg.ReadLimit > 0 {
		conn.SetReadLimit(l.cfg.ReadLimit)
	}

	connID := uuid.NewString()
	l.log.Info("signalling connected",
		slog.String("connection_id", connID),
		slog.String("url", l.cfg.URL),
	)

	// Unblock ReadMessage when the context is cancelled.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read signalling frame: %w", err)
		}

		ev, err := DecodeFrame(data)
		if err != nil {
			// A bad frame is a per-event failure, not a connection failure.
			l.log.Warn("dropping undecodable signalling frame",
				slog.String("connection_id", connID),
				logger.Error(err),
			)
			continue
		}

		l.bus.Publish(ev)
	}
}

// frame is the wire envelope of one signalling notification.
type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// wireCall mirrors Call in the call-set payload.
type wireCall struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	State       string `json:"state"`
}

// ErrUnknownFrame is returned by DecodeFrame for frame types this version
// does not understand.
var ErrUnknownFrame = errors.New("signalling: unknown frame type")

// DecodeFrame parses one wire frame into its Event.
func DecodeFrame(data []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	unmarshal := func(v any) error {
		if len(f.Payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(f.Payload, v); err != nil {
			return fmt.Errorf("decode %q payload: %w", f.Type, err)
		}
		return nil
	}

	switch f.Type {
	case "joined":
		return Joined{}, nil

	case "left":
		return Left{}, nil

	case "room_state":
		var p struct {
			Type    string         `json:"type"`
			Sender  string         `json:"sender"`
			Content map[string]any `json:"content"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return RoomState{Type: p.Type, Sender: p.Sender, Content: p.Content}, nil

	case "calls_changed":
		var p struct {
			Calls map[string]map[string]wireCall `json:"calls"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		calls := make(CallMap, len(p.Calls))
		for user, devices := range p.Calls {
			m := make(map[DeviceID]*Call, len(devices))
			for device, wc := range devices {
				m[DeviceID(device)] = &Call{
					ID:          CallID(wc.ID),
					UserID:      MemberID(user),
					DeviceID:    DeviceID(device),
					DisplayName: wc.DisplayName,
					State:       wc.State,
				}
			}
			calls[MemberID(user)] = m
		}
		return CallsChanged{Calls: calls}, nil

	case "call_state":
		var p struct {
			CallID string `json:"call_id"`
			State  string `json:"state"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return CallStateChanged{CallID: CallID(p.CallID), State: p.State}, nil

	case "outbound":
		var p struct {
			CallID  string         `json:"call_id"`
			Type    string         `json:"type"`
			Channel string         `json:"channel"`
			Content map[string]any `json:"content"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		ch := Channel(p.Channel)
		if ch != ChannelBroadcast {
			ch = ChannelDirect
		}
		return OutboundSent{CallID: CallID(p.CallID), Type: p.Type, Channel: ch, Content: p.Content}, nil

	case "voip":
		var p struct {
			Sender  string         `json:"sender"`
			Content map[string]any `json:"content"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return VoIPReceived{Sender: p.Sender, Content: p.Content}, nil

	case "toggle":
		var p struct {
			Control string `json:"control"`
			Enabled bool   `json:"enabled"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return ToggleChanged{Control: Control(p.Control), Enabled: p.Enabled}, nil

	case "report_connection", "report_media":
		var p struct {
			Report map[string]any `json:"report"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		kind := ReportConnection
		if f.Type == "report_media" {
			kind = ReportMedia
		}
		return StatsReport{ReportKind: kind, Report: p.Report}, nil

	case "speaking":
		var p struct {
			UserID   string `json:"user_id"`
			DeviceID string `json:"device_id"`
			Speaking bool   `json:"speaking"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return SpeakingChanged{UserID: MemberID(p.UserID), DeviceID: DeviceID(p.DeviceID), Speaking: p.Speaking}, nil

	case "call_error":
		var p struct {
			CallID  string `json:"call_id"`
			Message string `json:"message"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return CallError{CallID: CallID(p.CallID), Message: p.Message}, nil

	case "group_call_error":
		var p struct {
			Message string `json:"message"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return GroupCallError{Message: p.Message}, nil

	case "undecryptable":
		var p struct {
			Sender    string `json:"sender"`
			EventType string `json:"event_type"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return Undecryptable{Sender: p.Sender, EventType: p.EventType}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
	}
}
