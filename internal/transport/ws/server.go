package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"trafficsim.dev/internal/access"
	"trafficsim.dev/internal/control"
	"trafficsim.dev/internal/debugflags"
	"trafficsim.dev/internal/protocol"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 25 * time.Second
	commandWait  = 5 * time.Second
	outboxFrames = 8
)

// StateSource hands out the live world document once per broadcast.
type StateSource interface {
	RequestState(ctx context.Context) (protocol.Document, error)
}

// Dispatcher runs one client frame.
type Dispatcher interface {
	Dispatch(ctx context.Context, who, frame string) (*protocol.ReplyMsg, error)
}

type ClientGauge interface {
	SetClients(n int)
}

type Option func(*Server)

func WithLogger(l *log.Logger) Option       { return func(s *Server) { s.log = l } }
func WithDebug(d *debugflags.Set) Option    { return func(s *Server) { s.debug = d } }
func WithClientGauge(g ClientGauge) Option  { return func(s *Server) { s.gauge = g } }
func WithBroadcastPeriod(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.period = d
		}
	}
}

type Server struct {
	state  StateSource
	access *access.Registry
	disp   Dispatcher
	log    *log.Logger
	debug  *debugflags.Set
	gauge  ClientGauge
	period time.Duration

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type frame struct {
	kind int
	b    []byte
}

type client struct {
	ip      string
	msgpack bool
	out     chan frame
}

func NewServer(state StateSource, reg *access.Registry, d Dispatcher, opts ...Option) *Server {
	s := &Server{
		state:  state,
		access: reg,
		disp:   d,
		period: 100 * time.Millisecond,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		clients: map[*client]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = log.New(os.Stdout, "[ws] ", log.LstdFlags)
	}
	return s
}

// RemoteIP is the identity of a request: the remote address without its port.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().String()
	}
	return host
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := &client{
			ip:      RemoteIP(r),
			msgpack: r.URL.Query().Get("encoding") == "msgpack",
			out:     make(chan frame, outboxFrames),
		}
		if !s.access.Has(c.ip, access.Connect) {
			closeConn(conn, "connect not permitted")
			return
		}
		s.add(c)
		defer s.remove(c)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			ping := time.NewTicker(pingPeriod)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case f := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(f.kind, f.b); err != nil {
						cancel()
						return
					}
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			if !s.access.Has(c.ip, access.Connect) {
				closeConn(conn, "connect not permitted")
				return
			}

			cctx, ccancel := context.WithTimeout(ctx, commandWait)
			reply, err := s.disp.Dispatch(cctx, c.ip, string(msg))
			ccancel()
			switch {
			case err != nil:
				s.send(c, control.ErrorMsg(err), true)
			case reply != nil:
				s.send(c, reply, true)
			}
		}
	}
}

func closeConn(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func (s *Server) add(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	if s.gauge != nil {
		s.gauge.SetClients(n)
	}
	if s.debug.On(debugflags.WS) {
		s.log.Printf("%s connected (%d clients)", c.ip, n)
	}
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	n := len(s.clients)
	s.mu.Unlock()
	if s.gauge != nil {
		s.gauge.SetClients(n)
	}
	if s.debug.On(debugflags.WS) {
		s.log.Printf("%s disconnected (%d clients)", c.ip, n)
	}
}

func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) snapshotClients() []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}

// send encodes v for c and queues it. Broadcast frames are dropped when the client is behind;
// replies wait for room.
func (s *Server) send(c *client, v any, reply bool) {
	f, err := encode(v, c.msgpack)
	if err != nil {
		s.log.Printf("encode for %s: %v", c.ip, err)
		return
	}
	if reply {
		select {
		case c.out <- f:
		case <-time.After(writeWait):
		}
		return
	}
	select {
	case c.out <- f:
	default:
	}
}

func encode(v any, binary bool) (frame, error) {
	if !binary {
		b, err := json.Marshal(v)
		return frame{kind: websocket.TextMessage, b: b}, err
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return frame{}, err
	}
	return frame{kind: websocket.BinaryMessage, b: buf.Bytes()}, nil
}

// Run broadcasts the world state to every client once per period until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	t := time.NewTicker(s.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Broadcast(ctx)
		}
	}
}

// Broadcast requests one state document and sends every client its view of it.
func (s *Server) Broadcast(ctx context.Context) {
	clients := s.snapshotClients()
	if len(clients) == 0 {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, s.period)
	doc, err := s.state.RequestState(rctx)
	cancel()
	if err != nil {
		if s.debug.On(debugflags.WS) {
			s.log.Printf("broadcast skipped: %v", err)
		}
		return
	}
	others := s.others()
	for _, c := range clients {
		s.send(c, s.stateFor(c.ip, doc, others), false)
	}
}

func (s *Server) others() []protocol.OtherMsg {
	entries := s.access.Entries()
	out := make([]protocol.OtherMsg, 0, len(entries))
	for _, e := range entries {
		out = append(out, protocol.OtherMsg{IP: e.IP, Name: e.Name})
	}
	return out
}

// stateFor builds what ip may see. Without the view permission only the identity block is filled.
func (s *Server) stateFor(ip string, doc protocol.Document, others []protocol.OtherMsg) protocol.StateMsg {
	if !s.access.Has(ip, access.View) {
		return protocol.StateMsg{
			Document: protocol.Document{
				Roads:         []protocol.RoadMsg{},
				Cars:          []protocol.CarMsg{},
				Intersections: []protocol.IntersectionMsg{},
			},
			You:    protocol.YouMsg{IP: ip, Info: protocol.YouInfo{Perms: []string{}}},
			Others: []protocol.OtherMsg{},
		}
	}
	_, loggedIn := s.access.Lookup(ip)
	perms := s.access.Perms(ip)
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return protocol.StateMsg{
		Document: doc,
		You:      protocol.YouMsg{IP: ip, Info: protocol.YouInfo{LoggedIn: loggedIn, Perms: names}},
		Others:   others,
	}
}
