// ABOUTME: OpenAI-backed reply dispatcher.
// ABOUTME: Streams chat completions into the reply stream chunk by chunk.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultSystemPrompt = "You are a helpful assistant replying inside an enterprise chat. Keep answers concise and plain-text."

// Config holds OpenAI connection settings.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
}

// OpenAI generates replies with the chat completions streaming API. Each
// delta is folded into an accumulation buffer and written to the sink as a
// whole-content update, so a heartbeat placeholder already present on the
// stream is replaced rather than appended to.
type OpenAI struct {
	client openai.Client
	model  string
	prompt string
	sink   ReplySink
	logger *slog.Logger
}

// NewOpenAI creates a dispatcher writing through the given sink.
func NewOpenAI(cfg Config, sink ReplySink, logger *slog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("dispatch: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("dispatch: model is required")
	}
	if sink == nil {
		return nil, errors.New("dispatch: reply sink is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		prompt: prompt,
		sink:   sink,
		logger: logger.With("component", "dispatch"),
	}, nil
}

// Dispatch streams a completion for the request into its reply stream and
// finishes it. If the stream rejects a write (finished elsewhere, e.g. by
// a timeout finalize) generation is abandoned quietly.
func (d *OpenAI) Dispatch(ctx context.Context, req *Request) error {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(d.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(d.prompt),
			openai.UserMessage(userContent(req)),
		},
	}

	s := d.client.Chat.Completions.NewStreaming(ctx, params)
	defer s.Close()

	var buf strings.Builder
	for s.Next() {
		chunk := s.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		buf.WriteString(delta)
		if !d.sink.Update(req.StreamID, buf.String(), false, nil) {
			d.logger.Debug("stream rejected write, abandoning generation",
				"stream_id", req.StreamID)
			return nil
		}
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("dispatch: streaming completion: %w", err)
	}

	if buf.Len() == 0 {
		d.sink.Update(req.StreamID, "I could not come up with a reply this time. Please try rephrasing.", false, nil)
	}

	if !d.sink.Finish(ctx, req.StreamID) {
		d.logger.Debug("stream already finished", "stream_id", req.StreamID)
	}
	d.logger.Info("reply generated",
		"stream_id", req.StreamID, "conversation", req.ConversationKey, "bytes", buf.Len())
	return nil
}

// userContent renders the inbound message as model input. Media arrives as
// a URL; the model is told what it is rather than shown the bytes.
func userContent(req *Request) string {
	switch req.Kind {
	case "image":
		return "The user sent an image: " + req.MediaURL
	case "voice":
		return "The user sent a voice message: " + req.MediaURL
	default:
		return req.Text
	}
}
