package routes

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/productcache/cache"
)

const (
	watchBuffer    = 16
	watchWriteWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// watchMessage is one frame sent to a watcher
type watchMessage struct {
	Type    string `json:"type"`
	Key     string `json:"key"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newWatchMessage(ev cache.Event) watchMessage {
	m := watchMessage{Type: ev.Type.String(), Key: ev.Key.String(), Payload: ev.Payload}
	if ev.Err != nil {
		m.Error = ev.Err.Error()
	}
	return m
}

// handleWatch streams the cache events of one product over a websocket.
// The first frame is the product as read through the cache. While
// connected the watcher keeps the entry from being collected.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	log := hlog.FromRequest(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	key := s.Store.ProductKey(id)
	events := make(chan cache.Event, watchBuffer)
	unsubscribe := s.Cache.Subscribe(key, func(ev cache.Event) {
		// observers run inline with cache writes; a slow watcher loses events
		select {
		case events <- ev:
		default:
		}
	})
	defer unsubscribe()

	first := watchMessage{Type: "snapshot", Key: key.String()}
	if p, err := s.Store.Product(r.Context(), id); err != nil {
		first.Type, first.Error = cache.EventError.String(), err.Error()
	} else {
		first.Payload = p
	}
	if err := s.send(conn, first); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev := <-events:
			if err := s.send(conn, newWatchMessage(ev)); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("websocket write")
				}
				return
			}
		}
	}
}

func (s *Server) send(conn *websocket.Conn, m watchMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(watchWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(m)
}
