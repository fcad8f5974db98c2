package server

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"starmsg/db"
	"starmsg/protocol"

	"github.com/gorilla/websocket"
)

type Server struct {
	db        *db.DB
	config    *ServerConfig
	registry  *Registry
	relations *Relations
	presence  *Broadcaster
	relay     *Relay
	metrics   *Metrics
	media     *MediaStore
	upgrader  websocket.Upgrader
	httpSrv   *http.Server

	mu    sync.Mutex
	conns map[*wsConn]struct{} // все открытые соединения, включая неопознанные
}

type ServerConfig struct {
	Addr          string
	WriteTimeout  time.Duration
	StrictCalls   bool
	DataDir       string
	AuthRateLimit int
	AuthRateBurst int
}

func New(database *db.DB, config *ServerConfig) *Server {
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if config.DataDir == "" {
		config.DataDir = "data"
	}
	if config.AuthRateLimit == 0 {
		config.AuthRateLimit = 30
	}
	if config.AuthRateBurst == 0 {
		config.AuthRateBurst = 10
	}

	s := &Server{
		db:       database,
		config:   config,
		registry: NewRegistry(),
		metrics:  NewMetrics(),
		conns:    make(map[*wsConn]struct{}),
		upgrader: websocket.Upgrader{
			// Мобильные клиенты подключаются с любых origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.presence = NewBroadcaster(s.registry)
	s.relations = NewRelations(database, s.deliver)
	s.relay = NewRelay(s.registry, s.relations, database, config.StrictCalls, s.metrics)
	s.media = NewMediaStore(config.DataDir)

	return s
}

// deliver sends ev to identity if it is currently reachable. Used as
// the relationship store's notification callback.
func (s *Server) deliver(identity string, ev *protocol.Event) {
	conn, ok := s.registry.Lookup(identity)
	if !ok {
		return
	}
	if err := conn.Send(ev); err != nil {
		log.Printf("[notify] delivery of %s to %s: %v", ev.Type, identity, err)
	}
}

func (s *Server) Start() error {
	if err := s.media.Init(); err != nil {
		return err
	}

	s.httpSrv = &http.Server{
		Addr:    s.config.Addr,
		Handler: s.Routes(),
	}

	log.Printf("Star Messenger server started on %s", s.config.Addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown closes every live websocket with a going-away frame and
// stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, conn := range conns {
		conn.mu.Lock()
		conn.ws.SetWriteDeadline(time.Now().Add(time.Second))
		conn.ws.WriteMessage(websocket.CloseMessage, msg)
		conn.mu.Unlock()
		conn.Close()
	}

	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// HandleWS upgrades the request and runs the connection's session.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade from %s: %v", r.RemoteAddr, err)
		return
	}

	conn := newWSConn(ws, s.config.WriteTimeout)

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	log.Printf("[ws] connection %s from %s", conn.ID(), r.RemoteAddr)
	s.serveConn(&session{conn: conn})
}

// serveConn reads events until the connection dies, then tears the
// session down.
func (s *Server) serveConn(sess *session) {
	defer s.teardown(sess)

	for {
		_, data, err := sess.conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[ws] connection %s read: %v", sess.conn.ID(), err)
			}
			return
		}

		ev, err := protocol.Decode(data)
		if err != nil {
			// Непонятный кадр не роняет сессию
			log.Printf("[ws] connection %s sent malformed frame: %v", sess.conn.ID(), err)
			continue
		}

		s.handleEvent(sess, ev)
	}
}

func (s *Server) teardown(sess *session) {
	sess.conn.Close()

	s.mu.Lock()
	delete(s.conns, sess.conn)
	s.mu.Unlock()

	if !sess.bound() {
		log.Printf("[ws] connection %s closed", sess.conn.ID())
		return
	}

	// Оффлайн объявляем только если привязка действительно снята:
	// вытесненное соединение не должно гасить более новое
	if s.registry.Release(sess.identity, sess.conn) {
		s.metrics.ActiveConnections.Set(float64(s.registry.Len()))
		s.presence.Status(sess.identity, false)
		log.Printf("[ws] %s disconnected", sess.identity)
	} else {
		log.Printf("[ws] superseded connection %s for %s closed", sess.conn.ID(), sess.identity)
	}
}

// Stats returns server statistics as a formatted string.
func (s *Server) Stats() string {
	identities := s.registry.Snapshot()

	s.mu.Lock()
	open := len(s.conns)
	s.mu.Unlock()

	return "connections=" + strconv.Itoa(open) +
		",identified=" + strconv.Itoa(len(identities)) +
		",users=" + strings.Join(identities, ";")
}
