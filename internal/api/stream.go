package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/motion.report/internal/httputil"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/stream"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the service binds to trusted interfaces only
	},
}

// streamWriteTimeout bounds a single websocket write. A client that cannot
// drain a message within it is disconnected; per-sample backpressure is
// already absorbed by the hub dropping on a full subscriber buffer.
const streamWriteTimeout = 5 * time.Second

func (s *Server) handleSampleStream(w http.ResponseWriter, r *http.Request) {
	streamHub(w, r, s.samples)
}

func (s *Server) handleDebugStream(w http.ResponseWriter, r *http.Request) {
	streamHub(w, r, s.debug)
}

// streamHub upgrades the request and forwards hub items as JSON messages
// until the client goes away or the hub shuts down.
func streamHub[T any](w http.ResponseWriter, r *http.Request, h *stream.Hub[T]) {
	if h == nil {
		httputil.NotFound(w, "Stream is not enabled")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		monitoring.Logf("api: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	id, items := h.Subscribe()
	defer h.Unsubscribe(id)

	// Drain the connection so control frames are processed and a client
	// close is noticed even while no samples are flowing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case item, ok := <-items:
			if !ok {
				// Hub shut down; tell the client this is deliberate.
				deadline := time.Now().Add(streamWriteTimeout)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"), deadline)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(item); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					monitoring.Logf("api: websocket write failed: %v", err)
				}
				return
			}
		case <-gone:
			return
		}
	}
}
