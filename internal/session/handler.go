package session

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/voxgate/audio-gateway/internal/config"
	"github.com/voxgate/audio-gateway/internal/endpoint"
	"github.com/voxgate/audio-gateway/internal/observability"
	"github.com/voxgate/audio-gateway/internal/store"
	"github.com/voxgate/audio-gateway/internal/stt"
	"github.com/voxgate/audio-gateway/internal/tts"
	"github.com/voxgate/audio-gateway/internal/work"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced at the edge proxy.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Deps are the process-wide collaborators shared by every session.
// The handler builds one Session per accepted connection; per-session
// state never leaves the Session.
type Deps struct {
	Config *config.Config

	// NewEndpointer builds a per-session endpointer. Endpointers are
	// stateful and never shared between sessions.
	NewEndpointer func() (endpoint.Endpointer, error)

	Transcriber stt.Transcriber
	Responder   Responder
	Renderer    tts.Renderer
	Turns       store.TurnStore
	Pool        *work.Pool
}

// HandleAudioWS upgrades connections on the audio endpoint and runs
// one session per connection until the transport closes.
func HandleAudioWS(deps Deps) http.HandlerFunc {
	log := observability.WithComponent("session")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error response.
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
			return
		}

		s, err := newSession(conn, deps)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create session")
			conn.WriteJSON(ErrorMessage{Type: TypeError, Message: "session setup failed"})
			conn.Close()
			return
		}

		s.Run()
	}
}
