// Package session owns the per-connection audio pipeline: frame
// validation, accumulation, endpointing, and the state machine that
// turns finalized utterances into transcriptions and spoken replies.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/voxgate/audio-gateway/internal/audio"
	"github.com/voxgate/audio-gateway/internal/config"
	"github.com/voxgate/audio-gateway/internal/endpoint"
	"github.com/voxgate/audio-gateway/internal/observability"
	"github.com/voxgate/audio-gateway/internal/pipeline"
	"github.com/voxgate/audio-gateway/internal/store"
	"github.com/voxgate/audio-gateway/internal/stt"
	"github.com/voxgate/audio-gateway/internal/tts"
	"github.com/voxgate/audio-gateway/internal/work"
)

const (
	// speakQueueSize bounds pending agent speech
	speakQueueSize = 8

	// speakChunkMs is the pacing unit for streamed agent audio
	speakChunkMs = 100

	// statsLogEvery is the received-frame period of the debug stats line
	statsLogEvery = 50

	// normalizeTarget is the peak level utterances are brought to
	// before transcription
	normalizeTarget = 0.9

	// controlWriteWait bounds control frame writes
	controlWriteWait = 5 * time.Second
)

// wsConn is the subset of *websocket.Conn the session uses. Tests
// substitute it.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Responder produces the assistant's reply to one transcribed user
// turn. *pipeline.Client satisfies it.
type Responder interface {
	Respond(ctx context.Context, sessionID, text string) (*pipeline.Reply, error)
}

// speakRequest is one queued line of agent speech
type speakRequest struct {
	text   string
	ack    bool // barge-in interjection, streamed without interrupt checks
	hangUp bool // terminate the session after speaking
}

// Session owns the state of one live audio connection. The receive
// loop, the silence watchdog, the keepalive ticker and the speaker
// goroutine share it; mutable fields are guarded by mu.
type Session struct {
	// Connection
	conn wsConn

	// Identity
	connectionID string // server-assigned, for log correlation
	sessionID    string // client-assigned on start_conversation

	// State, guarded by mu
	mu          sync.Mutex
	state       State
	lastMessage time.Time
	acc         *audio.Accumulator
	validator   *audio.Validator
	frames      int64
	utterances  int64

	// Endpointing and turn-taking
	ep  endpoint.Endpointer
	arb *Arbitrator

	// Agent speech queue, drained by the speaker goroutine
	speakCh chan speakRequest

	// Collaborators
	transcriber stt.Transcriber
	responder   Responder
	renderer    tts.Renderer
	turns       store.TurnStore
	pool        *work.Pool

	// Configuration
	cfg    *config.Config
	format audio.Format

	// Observability
	log     zerolog.Logger
	metrics *observability.Metrics

	// Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time

	// writeMu serializes frame writes; gorilla/websocket allows one
	// writer at a time (WriteControl is safe alongside)
	writeMu sync.Mutex
}

// newSession builds a Session for one accepted connection
func newSession(conn wsConn, deps Deps) (*Session, error) {
	cfg := deps.Config

	format, err := audio.ParseFormat(cfg.SampleFormat)
	if err != nil {
		return nil, err
	}

	ep, err := deps.NewEndpointer()
	if err != nil {
		return nil, fmt.Errorf("create endpointer: %w", err)
	}

	turns := deps.Turns
	if turns == nil {
		turns = store.NoopStore{}
	}

	connID := observability.NewConnectionID()
	logger := observability.GetLogger().With().Str("connection_id", connID).Logger()

	return &Session{
		conn:         conn,
		connectionID: connID,

		state:       StateIdle,
		lastMessage: time.Now(),
		acc:         audio.NewAccumulator(cfg.InputSampleRate, format),
		validator:   audio.NewValidator(format, cfg.ValidationWindow, cfg.ClippingRatio, cfg.OutOfRangeRatio),

		ep:      ep,
		arb:     NewArbitrator(cfg.SilenceTurnLimit, nil),
		speakCh: make(chan speakRequest, speakQueueSize),

		transcriber: deps.Transcriber,
		responder:   deps.Responder,
		renderer:    deps.Renderer,
		turns:       turns,
		pool:        deps.Pool,

		cfg:    cfg,
		format: format,

		log:     logger,
		metrics: observability.NewSessionMetrics(connID),

		ctx:       context.Background(),
		startTime: time.Now(),
	}, nil
}

// Run services the connection until the transport closes. It owns the
// session's goroutines and tears everything down before returning.
func (s *Session) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	s.ctx = ctx
	s.cancel = cancel

	s.metrics.RecordSessionStart()
	s.log.Info().Msg("Session connected")

	s.wg.Add(3)
	go s.watchdog(ctx)
	go s.keepalive(ctx)
	go s.speaker(ctx)

	defer s.shutdown()
	s.readLoop()
}

// readLoop consumes inbound frames until the transport errors or the
// session transitions to StateClosed.
func (s *Session) readLoop() {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		s.mu.Lock()
		s.lastMessage = time.Now()
		s.mu.Unlock()

		switch msgType {
		case websocket.TextMessage:
			s.handleControl(data)
		case websocket.BinaryMessage:
			s.handleBinary(data)
		}

		s.mu.Lock()
		closed := s.state == StateClosed
		s.mu.Unlock()
		if closed {
			return
		}
	}
}

// handleControl dispatches one JSON control frame
func (s *Session) handleControl(data []byte) {
	msg, err := decodeControl(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("Invalid control message")
		s.sendJSON(ErrorMessage{Type: TypeError, Message: "invalid control message"})
		return
	}

	switch msg.Type {
	case TypeStartConversation:
		s.handleStart(msg)
	case TypeEndConversation:
		s.handleEnd()
	case TypePing:
		s.handlePing()
	default:
		s.log.Warn().Str("type", msg.Type).Msg("Unknown control message type")
		s.sendJSON(ErrorMessage{Type: TypeError, Message: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

// handleStart resets the session for a fresh conversation and replies
// with the negotiated audio contract.
func (s *Session) handleStart(msg *ControlMessage) {
	if msg.SessionID == "" {
		s.sendJSON(ErrorMessage{Type: TypeError, Message: "session_id is required"})
		return
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.sessionID = msg.SessionID
	s.log = observability.WithSessionID(msg.SessionID).With().
		Str("connection_id", s.connectionID).
		Logger()
	s.state = StateReceiving
	s.acc = audio.NewAccumulator(s.cfg.InputSampleRate, s.format)
	s.validator = audio.NewValidator(s.format, s.cfg.ValidationWindow, s.cfg.ClippingRatio, s.cfg.OutOfRangeRatio)
	s.ep.Reset()
	s.arb.Reset()
	s.frames = 0
	s.utterances = 0
	greeting := s.cfg.GreetingText
	s.mu.Unlock()

	s.log.Info().
		Int("input_rate", s.cfg.InputSampleRate).
		Int("output_rate", s.cfg.OutputSampleRate).
		Str("format", s.format.WireName()).
		Msg("Conversation started")

	s.sendJSON(ReadyMessage{
		Type: TypeReady,
		Config: SessionConfig{
			InputSampleRate:   s.cfg.InputSampleRate,
			OutputSampleRate:  s.cfg.OutputSampleRate,
			ResamplingEnabled: s.cfg.InputSampleRate != s.cfg.OutputSampleRate,
			Format:            s.format.WireName(),
		},
	})

	if greeting != "" {
		s.queueSpeak(speakRequest{text: greeting})
	}
}

// handlePing answers with current validation stats; buffers are not
// touched.
func (s *Session) handlePing() {
	s.mu.Lock()
	snap := s.validator.Snapshot()
	s.mu.Unlock()
	s.sendJSON(PongMessage{Type: TypePong, Stats: snap})
}

// handleEnd flushes any buffered audio and closes the conversation
func (s *Session) handleEnd() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if s.state == StateReceiving && s.acc.Len() > 0 {
		s.finalizeLocked(endpoint.ExplicitEnd)
	}
	s.state = StateClosed
	snap := s.validator.Snapshot()
	s.mu.Unlock()

	s.log.Info().Msg("Conversation ended by client")
	s.sendJSON(StatusMessage{Type: TypeStatus, Message: "conversation_ended", Stats: &snap})
}

// handleBinary runs one audio frame through validation, accumulation
// and endpointing, finalizing the utterance when a decision fires.
func (s *Session) handleBinary(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReceiving {
		s.metrics.RecordFrame(false, len(frame))
		s.log.Debug().Int("bytes", len(frame)).Str("state", s.state.String()).Msg("Binary frame outside receiving state, dropped")
		return
	}

	valid := s.validator.Validate(frame)
	s.metrics.RecordFrame(valid, len(frame))
	s.frames++
	if s.frames%statsLogEvery == 0 {
		snap := s.validator.Snapshot()
		s.log.Debug().
			Int64("frames", s.frames).
			Int64("valid", snap.TotalValid).
			Int64("bytes", snap.TotalBytes).
			Float64("valid_ratio", snap.ValidRatio).
			Float64("recent_rms", snap.RecentRMS).
			Float64("buffered_s", s.acc.DurationSeconds()).
			Msg("Session frame stats")
	}
	if !valid {
		return
	}

	samples, err := audio.DecodeSamples(frame, s.format)
	if err != nil {
		// Validate accepted the frame, so this cannot happen; drop it.
		s.log.Warn().Err(err).Msg("Failed to decode validated frame")
		return
	}

	s.acc.Append(frame)
	decision := s.ep.Feed(samples, time.Now())

	// Barge-in: user speech while the agent is streaming audio.
	if s.ep.SpeechActive() {
		if ack, ok := s.arb.BargeIn(); ok {
			s.metrics.RecordBargeIn()
			s.log.Info().Msg("User barge-in, interrupting agent speech")
			s.queueSpeak(speakRequest{text: ack, ack: true})
		}
	}

	if decision == endpoint.Continue && s.acc.DurationSeconds() >= float64(s.cfg.MaxAudioDurationS) {
		decision = endpoint.MaxDuration
	}
	if decision != endpoint.Continue {
		s.finalizeLocked(decision)
	}
}

// finalizeLocked takes the current utterance and dispatches it:
// quality gates, preprocessing, transcription, the transcription
// message, and the conversation reply. Called with mu held; the
// session's own new audio waits, other sessions are unaffected.
func (s *Session) finalizeLocked(reason endpoint.Decision) {
	s.state = StateFinalizing
	defer func() {
		if s.state == StateFinalizing {
			s.state = StateReceiving
		}
	}()

	raw := s.acc.TakeAndReset()
	voiced, curated := s.ep.TakeVoiced()
	s.ep.Reset()

	var samples []float64
	if curated {
		samples = voiced
	} else {
		var err error
		samples, err = audio.DecodeSamples(raw, s.format)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to decode finalized utterance")
			return
		}
	}

	duration := float64(len(samples)) / float64(s.cfg.InputSampleRate)
	an := audio.Analyze(samples, s.format)

	s.log.Info().
		Str("reason", reason.String()).
		Float64("duration_s", duration).
		Float64("rms", an.RMS).
		Float64("peak", an.Peak).
		Msg("Finalizing utterance")

	// Quality gates: an utterance with no usable speech is never
	// dispatched and feeds the silent-turn policy instead.
	cause := ""
	switch {
	case len(samples) == 0:
		cause = "silent"
	case duration < s.cfg.MinAudioDuration().Seconds():
		cause = "too_short"
	case an.RMS < s.cfg.MinEnergyThreshold:
		cause = "silent"
	case an.Peak < s.cfg.SilentTurnVolume:
		cause = "low_volume"
	}
	if cause != "" {
		s.metrics.RecordUtteranceSkipped(cause)
		s.log.Debug().Str("cause", cause).Msg("Utterance skipped before dispatch")
		if reason != endpoint.ExplicitEnd {
			s.handleSilentTurnLocked()
		}
		return
	}

	s.utterances++
	s.metrics.RecordUtterance(reason.String(), duration)

	quality := "good"
	if float64(an.Clipped)/float64(an.Samples) > s.cfg.ClippingRatio {
		quality = "clipped"
		s.log.Warn().Int("clipped", an.Clipped).Int("samples", an.Samples).Msg("Severe clipping in finalized utterance")
	}

	var pcm16 []byte
	err := s.pool.Do(s.ctx, func() error {
		cleaned := audio.RemoveDCOffset(samples)
		cleaned = audio.NormalizePeak(cleaned, normalizeTarget)
		converted := audio.ResampleSamples(cleaned, s.cfg.InputSampleRate, s.cfg.OutputSampleRate)
		pcm16 = audio.EncodeInt16(converted)
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Utterance conversion failed")
		s.metrics.RecordError("conversion_error", "session")
		return
	}

	text := s.transcribe(pcm16)

	snap := s.validator.Snapshot()
	s.sendJSON(TranscriptionMessage{
		Type:         TypeTranscription,
		Text:         text,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		AudioQuality: quality,
		Stats:        snap,
	})

	if text == "" {
		s.log.Debug().Msg("Empty transcription, no reply dispatched")
		return
	}

	s.arb.ObserveVoicedTurn()
	s.turns.Append(store.Turn{
		SessionID: s.sessionID,
		Role:      "user",
		Text:      text,
		Timestamp: time.Now().UTC(),
	})

	if reason == endpoint.ExplicitEnd {
		// The client is hanging up; no reply is composed.
		return
	}
	s.respond(text)
}

// transcribe dispatches one preprocessed utterance. Failures are
// logged and yield empty text; they never take the session down.
func (s *Session) transcribe(pcm16 []byte) string {
	if s.transcriber == nil {
		s.log.Warn().Msg("Transcriber not available, skipping dispatch")
		return ""
	}

	ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.TranscribeTimeoutS)*time.Second)
	defer cancel()

	s.metrics.RecordTranscriptionStart()
	result, err := s.transcriber.Transcribe(ctx, pcm16, s.cfg.OutputSampleRate)
	s.metrics.RecordTranscriptionEnd(err == nil)
	if err != nil {
		s.log.Error().Err(err).Msg("Transcription failed")
		s.metrics.RecordError("transcription_error", "stt")
		return ""
	}
	if result == nil {
		return ""
	}

	s.log.Info().
		Str("text", result.Text).
		Float64("confidence", result.Confidence).
		Msg("Transcription complete")
	return result.Text
}

// respond asks the conversation pipeline for a reply to the user's
// turn and queues it for speech.
func (s *Session) respond(text string) {
	if s.responder == nil {
		s.log.Warn().Msg("Conversation pipeline not available, skipping reply")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.PipelineTimeoutS)*time.Second)
	defer cancel()

	s.metrics.RecordPipelineStart()
	reply, err := s.responder.Respond(ctx, s.sessionID, text)
	s.metrics.RecordPipelineEnd(err == nil)
	if err != nil {
		s.log.Error().Err(err).Msg("Conversation pipeline request failed")
		s.metrics.RecordError("pipeline_error", "pipeline")
		return
	}
	if reply == nil || reply.Text == "" {
		return
	}

	s.turns.Append(store.Turn{
		SessionID: s.sessionID,
		Role:      "assistant",
		Text:      reply.Text,
		Timestamp: time.Now().UTC(),
	})
	s.queueSpeak(speakRequest{text: reply.Text, hangUp: reply.EndConversation})
}

// handleSilentTurnLocked advances the escalating-silence policy after
// a turn with no usable speech. Called with mu held.
func (s *Session) handleSilentTurnLocked() {
	v := s.arb.ObserveSilentTurn()
	s.log.Info().
		Int("consecutive", s.arb.SilentTurns()).
		Bool("hang_up", v.HangUp).
		Msg("Silent turn")
	if v.Prompt == "" {
		return
	}
	s.metrics.RecordSilentTurnPrompt()
	s.queueSpeak(speakRequest{text: v.Prompt, hangUp: v.HangUp})
}

// queueSpeak enqueues agent speech without blocking the audio path
func (s *Session) queueSpeak(req speakRequest) {
	select {
	case s.speakCh <- req:
	default:
		s.log.Warn().Str("text", req.text).Msg("Speech queue full, dropping line")
	}
}

// speaker drains the speech queue for the life of the session
func (s *Session) speaker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.speakCh:
			s.speak(ctx, req)
			if req.hangUp {
				s.log.Info().Msg("Terminating session after final message")
				s.endSession()
				return
			}
		}
	}
}

// speak renders one line and streams it to the client paced at real
// time, bailing out if the user barges in.
func (s *Session) speak(ctx context.Context, req speakRequest) {
	clip, err := s.renderer.Render(ctx, req.text)
	s.metrics.RecordTTS(err == nil)
	if err != nil {
		s.log.Error().Err(err).Msg("TTS render failed")
		s.metrics.RecordError("tts_render_error", "tts")
		return
	}
	if clip == nil || len(clip.PCM16) == 0 {
		return
	}

	// Convert the provider's PCM16 to the session's format at the
	// negotiated output rate.
	var out []byte
	err = s.pool.Do(ctx, func() error {
		samples, derr := audio.DecodeSamples(clip.PCM16, audio.FormatInt16)
		if derr != nil {
			return derr
		}
		samples = audio.ResampleSamples(samples, clip.SampleRate, s.cfg.OutputSampleRate)
		out = audio.EncodeSamples(samples, s.format)
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Agent audio conversion failed")
		s.metrics.RecordError("conversion_error", "tts")
		return
	}

	if !req.ack {
		s.arb.SetAgentSpeaking(true)
		defer s.arb.SetAgentSpeaking(false)
	}

	bytesPerSecond := s.cfg.OutputSampleRate * s.format.BytesPerSample()
	chunkBytes := bytesPerSecond * speakChunkMs / 1000
	chunkBytes -= chunkBytes % s.format.BytesPerSample()
	if chunkBytes <= 0 {
		chunkBytes = len(out)
	}

	for off := 0; off < len(out); off += chunkBytes {
		if ctx.Err() != nil {
			return
		}
		if !req.ack && !s.arb.AgentSpeaking() {
			s.log.Debug().Msg("Agent speech interrupted")
			return
		}
		end := off + chunkBytes
		if end > len(out) {
			end = len(out)
		}
		if err := s.sendBinary(out[off:end]); err != nil {
			return
		}
		time.Sleep(time.Duration(end-off) * time.Second / time.Duration(bytesPerSecond))
	}
}

// endSession closes the conversation from the server side, for
// example after the silent-turn limit. Closing the transport unblocks
// the read loop, which finishes the teardown.
func (s *Session) endSession() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	snap := s.validator.Snapshot()
	s.mu.Unlock()

	s.sendJSON(StatusMessage{Type: TypeStatus, Message: "conversation_ended", Stats: &snap})
	s.conn.Close()
}

// keepalive pings the client when the connection goes quiet so
// intermediaries keep it open. A quiet client is never disconnected
// from this side.
func (s *Session) keepalive(ctx context.Context) {
	defer s.wg.Done()

	idle := s.cfg.KeepaliveIdle()
	interval := idle / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			last := s.lastMessage
			closed := s.state == StateClosed
			s.mu.Unlock()
			if closed {
				return
			}
			if time.Since(last) < idle {
				continue
			}
			deadline := time.Now().Add(controlWriteWait)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.log.Debug().Err(err).Msg("Keepalive ping failed")
				return
			}
			s.log.Debug().Msg("Sent keepalive ping")
		}
	}
}

// shutdown tears the session down after the read loop returns: a
// best-effort flush of buffered audio, then goroutines, endpointer
// and transport.
func (s *Session) shutdown() {
	s.mu.Lock()
	if s.state == StateReceiving && s.acc.Len() > 0 {
		s.finalizeLocked(endpoint.ExplicitEnd)
	}
	s.state = StateClosed
	frames := s.frames
	utterances := s.utterances
	snap := s.validator.Snapshot()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	if err := s.ep.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to close endpointer")
	}

	deadline := time.Now().Add(controlWriteWait)
	s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	s.conn.Close()

	s.metrics.RecordSessionEnd()
	s.log.Info().
		Int64("frames", frames).
		Int64("valid", snap.TotalValid).
		Int64("bytes", snap.TotalBytes).
		Float64("valid_ratio", snap.ValidRatio).
		Int64("utterances", utterances).
		Float64("duration_s", time.Since(s.startTime).Seconds()).
		Msg("Session closed")
}

// sendJSON writes one control message to the client
func (s *Session) sendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal outbound message")
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Debug().Err(err).Msg("WebSocket write failed")
		return err
	}
	return nil
}

// sendBinary writes one agent audio frame to the client
func (s *Session) sendBinary(data []byte) error {
	s.writeMu.Lock()
	err := s.conn.WriteMessage(websocket.BinaryMessage, data)
	s.writeMu.Unlock()
	if err != nil {
		return err
	}
	s.metrics.RecordAudioOut(len(data))
	return nil
}
