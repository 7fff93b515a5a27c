// ABOUTME: HTTP handler for the platform's encrypted callback endpoint.
// ABOUTME: Verifies signatures, routes decrypted messages, and emits encrypted stream replies.

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/2389/wecom-gateway/internal/convqueue"
	"github.com/2389/wecom-gateway/internal/dedupe"
	"github.com/2389/wecom-gateway/internal/dispatch"
	"github.com/2389/wecom-gateway/internal/heartbeat"
	"github.com/2389/wecom-gateway/internal/stream"
	"github.com/2389/wecom-gateway/internal/wxcrypt"
)

const (
	// DefaultPath is where the platform delivers callbacks.
	DefaultPath = "/wecom/callback"

	// DefaultDeleteGrace is how long a finished stream stays retrievable
	// after the poll that first observed it finished.
	DefaultDeleteGrace = 30 * time.Second

	// DefaultDispatchTimeout bounds one reply generation end to end.
	DefaultDispatchTimeout = 5 * time.Minute

	maxBodyBytes = 1 << 20
)

// User-visible fallback texts. Every failure path still terminates the
// stream with something readable rather than leaving the client polling
// a placeholder forever.
const (
	defaultWelcomeText = "Hi! Send me a message and I will do my best to help."
	busyText           = "I am handling too many messages in this conversation right now. Please try again in a moment."
	timeoutText        = "This is taking longer than expected. Please try again."
	expiredText        = "This reply is no longer available. Please send your message again."
	errorText          = "Something went wrong while generating a reply. Please try again."
)

// Deps are the collaborators the handler drives. All are required except
// Dispatcher, which tests may stub.
type Deps struct {
	Codec      *wxcrypt.Codec
	Streams    *stream.Registry
	Heartbeats *heartbeat.Scheduler
	Queue      *convqueue.Queue
	Dedupe     *dedupe.Cache
	Dispatcher dispatch.Dispatcher
}

// Config tunes handler behavior. Zero values select the defaults.
type Config struct {
	Path            string
	DeleteGrace     time.Duration
	DispatchTimeout time.Duration
	WelcomeText     string
}

// Handler owns the callback endpoint: GET for the platform's URL
// verification handshake, POST for message delivery. Replies are written
// synchronously inside the callback transaction; generation happens later
// on the conversation queue, observed by the client through stream polls.
type Handler struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// NewHandler creates a handler. Collaborator validation is deliberate:
// a nil codec or registry is a wiring bug worth failing on at startup.
func NewHandler(deps Deps, cfg Config, logger *slog.Logger) (*Handler, error) {
	if deps.Codec == nil {
		return nil, errors.New("webhook: codec is required")
	}
	if deps.Streams == nil {
		return nil, errors.New("webhook: stream registry is required")
	}
	if deps.Heartbeats == nil {
		return nil, errors.New("webhook: heartbeat scheduler is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("webhook: conversation queue is required")
	}
	if deps.Dedupe == nil {
		return nil, errors.New("webhook: dedupe cache is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.DeleteGrace <= 0 {
		cfg.DeleteGrace = DefaultDeleteGrace
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultDispatchTimeout
	}
	if cfg.WelcomeText == "" {
		cfg.WelcomeText = defaultWelcomeText
	}
	return &Handler{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With("component", "webhook"),
	}, nil
}

// Path returns the route the handler serves.
func (h *Handler) Path() string { return h.cfg.Path }

// RegisterRoutes mounts the callback endpoint on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(h.cfg.Path, h.handleCallback)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerify(w, r)
	case http.MethodPost:
		h.handleMessage(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerify answers the platform's URL ownership handshake: verify the
// signature over the encrypted echo string, then return it decrypted.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sig := q.Get("msg_signature")
	timestamp := q.Get("timestamp")
	nonce := q.Get("nonce")
	echo := q.Get("echostr")
	if sig == "" || timestamp == "" || nonce == "" || echo == "" {
		http.Error(w, "missing verification parameters", http.StatusBadRequest)
		return
	}

	if !h.deps.Codec.VerifySignature(sig, timestamp, nonce, echo) {
		h.logger.Warn("verification signature mismatch", "remote", r.RemoteAddr)
		http.Error(w, "signature mismatch", http.StatusForbidden)
		return
	}
	plain, err := h.deps.Codec.Decrypt(echo)
	if err != nil {
		h.logger.Warn("verification echo decrypt failed", "error", err)
		http.Error(w, "bad echo string", http.StatusBadRequest)
		return
	}

	h.logger.Info("callback url verified", "remote", r.RemoteAddr)
	w.Write([]byte(plain))
}

// handleMessage authenticates and decrypts one POST callback, then routes
// it by message type. Protocol errors get HTTP error statuses; anything
// past authentication is acknowledged so the platform stops redelivering.
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sig := q.Get("msg_signature")
	timestamp := q.Get("timestamp")
	nonce := q.Get("nonce")
	if sig == "" || timestamp == "" || nonce == "" {
		http.Error(w, "missing signature parameters", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}
	var env encryptedEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Encrypt == "" {
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}

	if !h.deps.Codec.VerifySignature(sig, timestamp, nonce, env.Encrypt) {
		h.logger.Warn("callback signature mismatch", "remote", r.RemoteAddr)
		http.Error(w, "signature mismatch", http.StatusForbidden)
		return
	}
	plain, err := h.deps.Codec.Decrypt(env.Encrypt)
	if err != nil {
		h.logger.Warn("callback decrypt failed", "error", err)
		http.Error(w, "decrypt failed", http.StatusBadRequest)
		return
	}

	var msg inboundMessage
	if err := json.Unmarshal([]byte(plain), &msg); err != nil {
		h.logger.Warn("callback payload is not valid json", "error", err)
		http.Error(w, "malformed message", http.StatusBadRequest)
		return
	}

	switch msg.MsgType {
	case "text", "image", "voice":
		h.handleUserMessage(w, &msg)
	case "stream":
		h.handleStreamPoll(w, &msg)
	case "event":
		h.handleEvent(w, &msg)
	case "mixed":
		h.logger.Warn("mixed messages are not supported", "msg_id", msg.MsgID)
		h.respondPlain(w)
	default:
		h.logger.Debug("ignoring unknown message type",
			"msg_type", msg.MsgType, "msg_id", msg.MsgID)
		h.respondPlain(w)
	}
}

// handleUserMessage creates the reply stream for a fresh user message,
// schedules generation on the conversation lane, and answers with the
// stream's initial state. Generation continues long after this returns.
func (h *Handler) handleUserMessage(w http.ResponseWriter, msg *inboundMessage) {
	if msg.MsgID == "" {
		http.Error(w, "missing msgid", http.StatusBadRequest)
		return
	}
	if h.deps.Dedupe.Seen(msg.MsgID) {
		h.logger.Debug("dropping redelivered message", "msg_id", msg.MsgID)
		h.respondPlain(w)
		return
	}

	streamID := msg.MsgID
	convKey := conversationKey(msg)
	req := &dispatch.Request{
		StreamID:        streamID,
		ConversationKey: convKey,
		ChatType:        msg.ChatType,
		ChatID:          msg.ChatID,
		UserID:          msg.From.UserID,
		Kind:            msg.MsgType,
	}
	switch {
	case msg.MsgType == "text" && msg.Text != nil:
		req.Text = msg.Text.Content
	case msg.MsgType == "image" && msg.Image != nil:
		req.MediaURL = msg.Image.URL
	case msg.MsgType == "voice" && msg.Voice != nil:
		req.MediaURL = msg.Voice.URL
	}

	h.deps.Streams.Create(streamID, "")

	res := h.deps.Queue.Enqueue(convKey, streamID, func() {
		h.process(convKey, req)
	})
	if res.QueueFull {
		h.deps.Streams.Update(streamID, busyText, true, nil)
		h.logger.Warn("conversation saturated, rejecting message",
			"msg_id", msg.MsgID, "conversation", convKey)
		h.writeSnapshotReply(w, streamID)
		return
	}

	h.deps.Heartbeats.Start(streamID, h.timeoutFinalizer(convKey))
	h.logger.Info("message accepted",
		"msg_id", msg.MsgID, "msg_type", msg.MsgType,
		"conversation", convKey, "queued", res.Queued, "position", res.Position)
	h.writeSnapshotReply(w, streamID)
}

// process runs on the conversation queue. The heartbeat keeps the stream
// alive while this works; whatever happens, the stream ends terminated.
func (h *Handler) process(convKey string, req *dispatch.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.DispatchTimeout)
	defer cancel()

	var err error
	if h.deps.Dispatcher == nil {
		err = errors.New("webhook: no dispatcher configured")
	} else {
		err = h.deps.Dispatcher.Dispatch(ctx, req)
	}
	h.deps.Heartbeats.Stop(req.StreamID)
	if err != nil {
		h.logger.Error("reply generation failed",
			"stream_id", req.StreamID, "conversation", convKey, "error", err)
		h.deps.Streams.Update(req.StreamID, errorText, true, nil)
	}
}

// timeoutFinalizer builds the heartbeat-deadline callback for a stream:
// terminate it with a readable message and unwedge the conversation lane
// so the stuck job cannot block later messages.
func (h *Handler) timeoutFinalizer(convKey string) func(id string) {
	return func(id string) {
		h.deps.Streams.Update(id, timeoutText, true, nil)
		h.deps.Queue.Reset(convKey)
	}
}

// handleStreamPoll answers the client's refresh request for an in-flight
// reply. The first poll that observes a finished stream arms its delayed
// deletion; a stream that is already gone gets a terminal expiry notice
// so the client stops polling.
func (h *Handler) handleStreamPoll(w http.ResponseWriter, msg *inboundMessage) {
	if msg.Stream == nil || msg.Stream.ID == "" {
		http.Error(w, "missing stream id", http.StatusBadRequest)
		return
	}
	id := msg.Stream.ID

	snap, ok := h.deps.Streams.Get(id)
	if !ok {
		h.logger.Debug("poll for unknown stream", "stream_id", id)
		h.writeReply(w, streamReply{
			MsgType: "stream",
			Stream:  replyStream{ID: id, Finish: true, Content: expiredText},
		})
		return
	}

	if snap.Finished {
		streams := h.deps.Streams
		time.AfterFunc(h.cfg.DeleteGrace, func() { streams.Delete(id) })
	}
	h.writeReply(w, snapshotReply(snap))
}

// handleEvent reacts to conversation lifecycle events. Entering a chat
// greets the user through a short-lived finished stream; everything else
// is acknowledged and ignored.
func (h *Handler) handleEvent(w http.ResponseWriter, msg *inboundMessage) {
	if msg.Event == nil || msg.Event.EventType != "enter_chat" {
		h.respondPlain(w)
		return
	}

	id := msg.MsgID
	if id == "" {
		id = uuid.NewString()
	}
	h.deps.Streams.Create(id, "")
	h.deps.Streams.Update(id, h.cfg.WelcomeText, false, nil)
	h.deps.Streams.Finish(context.Background(), id)
	h.logger.Info("welcome sent", "stream_id", id, "user", msg.From.UserID)
	h.writeSnapshotReply(w, id)
}

// writeSnapshotReply renders the stream's current state as an encrypted
// reply. A missing snapshot falls back to the expiry notice.
func (h *Handler) writeSnapshotReply(w http.ResponseWriter, id string) {
	snap, ok := h.deps.Streams.Get(id)
	if !ok {
		h.writeReply(w, streamReply{
			MsgType: "stream",
			Stream:  replyStream{ID: id, Finish: true, Content: expiredText},
		})
		return
	}
	h.writeReply(w, snapshotReply(snap))
}

// snapshotReply converts registry state to the wire shape. Attachments
// and feedback ride only on finished replies; the platform ignores them
// elsewhere.
func snapshotReply(snap stream.Snapshot) streamReply {
	rs := replyStream{
		ID:      snap.ID,
		Finish:  snap.Finished,
		Content: snap.Content,
	}
	if snap.Finished {
		rs.Feedback = snap.FeedbackID
		for _, item := range snap.AttachmentItems {
			rs.MsgItem = append(rs.MsgItem, msgItem{
				MsgType: item.Type,
				Image:   &imageItem{Base64: item.Payload, MD5: item.Checksum},
			})
		}
	}
	return streamReply{MsgType: "stream", Stream: rs}
}

// writeReply encrypts, signs, and writes one stream reply envelope.
func (h *Handler) writeReply(w http.ResponseWriter, reply streamReply) {
	plain, err := json.Marshal(reply)
	if err != nil {
		h.logger.Error("marshaling reply", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	cipherText, err := h.deps.Codec.Encrypt(string(plain))
	if err != nil {
		h.logger.Error("encrypting reply", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := uuid.NewString()
	env := encryptedEnvelope{
		Encrypt:      cipherText,
		MsgSignature: h.deps.Codec.Signature(timestamp, nonce, cipherText),
		Timestamp:    timestamp,
		Nonce:        nonce,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(env); err != nil {
		h.logger.Error("writing reply", "error", err)
	}
}

// respondPlain acknowledges a callback that produces no stream reply.
func (h *Handler) respondPlain(w http.ResponseWriter) {
	w.Write([]byte("success"))
}

// conversationKey derives the serialization lane: group chats serialize
// by chat, direct chats by sender.
func conversationKey(msg *inboundMessage) string {
	if msg.ChatType == "group" {
		return "group:" + msg.ChatID
	}
	return "user:" + msg.From.UserID
}
