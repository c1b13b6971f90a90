package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kiara-intelligence/kiara/agent"
	"github.com/kiara-intelligence/kiara/config"
	"github.com/kiara-intelligence/kiara/conversations"
	"github.com/kiara-intelligence/kiara/llm"
	"github.com/kiara-intelligence/kiara/memory"
	"github.com/kiara-intelligence/kiara/personality"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ErrEmptyMessage is returned when a request carries neither text nor an image.
var ErrEmptyMessage = errors.New("message has no content")

const (
	DefaultHistoryLimit = 10

	dominatorPlaceholder = "Thinking..."
	visionPlaceholder    = "Analyzing and preparing response..."

	persistInterval = 250 * time.Millisecond
)

// SendRequest is one user turn.
type SendRequest struct {
	UserID   string
	ChatID   string
	Variant  personality.Variant
	Content  string
	ImageURL string
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets the client used to download image URLs.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

// WithExtractor replaces the extractor applied to both sides of a turn.
func WithExtractor(e *memory.Extractor) Option {
	return func(s *Service) { s.extractor = e }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service runs the chat pipeline: memory extraction, prompt composition and
// a streamed completion whose text is persisted as it arrives.
type Service struct {
	memories      *memory.Manager
	agents        *agent.Manager
	personalities *personality.Manager
	store         *conversations.Store
	client        llm.Client
	cfg           *config.Config
	extractor     *memory.Extractor
	httpClient    *http.Client
	logger        zerolog.Logger
	now           func() time.Time

	mu      sync.Mutex
	history map[string][]llm.Message
}

// NewService creates a Service.
func NewService(
	memories *memory.Manager,
	agents *agent.Manager,
	personalities *personality.Manager,
	store *conversations.Store,
	client llm.Client,
	cfg *config.Config,
	logger zerolog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		memories:      memories,
		agents:        agents,
		personalities: personalities,
		store:         store,
		client:        client,
		cfg:           cfg,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		logger:        logger.With().Str("component", "chatService").Logger(),
		now:           time.Now,
		history:       make(map[string][]llm.Message),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.extractor == nil {
		s.extractor = memory.NewExtractor(memory.DefaultRules(), logger)
	}
	return s
}

func (s *Service) historyLimit() int {
	if s.cfg.Memory.HistoryLimit > 0 {
		return s.cfg.Memory.HistoryLimit
	}
	return DefaultHistoryLimit
}

// ResetConversation forgets the in-process history of a chat. Persisted
// messages and memories are kept.
func (s *Service) ResetConversation(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, chatID)
}

// History returns a copy of the turns that will be sent with the next request.
func (s *Service) History(chatID string) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.history[chatID]...)
}

// pendingHistory returns the chat history with msgs appended, trimmed to
// the limit, without recording msgs.
func (s *Service) pendingHistory(chatID string, msgs ...llm.Message) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(append([]llm.Message(nil), s.history[chatID]...), msgs...)
	return lo.Subset(h, -s.historyLimit(), uint(s.historyLimit()))
}

// commitHistory records a completed exchange.
func (s *Service) commitHistory(chatID string, msgs ...llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(append([]llm.Message(nil), s.history[chatID]...), msgs...)
	s.history[chatID] = lo.Subset(h, -s.historyLimit(), uint(s.historyLimit()))
}

// SendMessage processes one user turn and streams the assistant reply.
// onProgress, when set, receives the accumulated reply text after every
// delta. The reply is persisted incrementally; on failure the placeholder
// message is marked as an error and the error is returned.
func (s *Service) SendMessage(ctx context.Context, req SendRequest, onProgress func(string)) (string, error) {
	variant, err := personality.ParseVariant(string(req.Variant))
	if err != nil {
		return "", err
	}
	if req.UserID == "" || req.ChatID == "" {
		return "", errors.New("user and chat IDs are required")
	}
	if strings.TrimSpace(req.Content) == "" && req.ImageURL == "" {
		return "", ErrEmptyMessage
	}

	logger := s.logger.With().
		Str("method", "SendMessage").
		Str("user_id", req.UserID).
		Str("chat_id", req.ChatID).
		Str("variant", string(variant)).
		Logger()

	// Images are resolved first so a bad image leaves no trace in the chat.
	userMsg := llm.NewTextMessage(llm.RoleUser, req.Content)
	if req.ImageURL != "" {
		dataURL, err := s.resolveImage(ctx, req.ImageURL)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to process image")
			return "", fmt.Errorf("process image: %w", err)
		}
		userMsg = llm.NewImageMessage(req.Content, dataURL)
	}

	if _, err := s.store.EnsureChat(ctx, req.UserID, req.ChatID, string(variant)); err != nil {
		return "", err
	}
	if err := s.ensureSession(ctx, req.UserID, req.ChatID, variant); err != nil {
		return "", err
	}

	chatID := req.ChatID
	s.memories.AddCandidates(ctx, req.UserID, &chatID, memory.RoleUser,
		s.extractor.Extract(req.Content, memory.RoleUser), map[string]any{"variant": string(variant)})
	s.agents.ProcessMessage(ctx, req.UserID, req.ChatID, req.Content, true)

	if _, err := s.store.AddMessage(ctx, req.UserID, req.ChatID, memory.RoleUser, req.Content, req.ImageURL); err != nil {
		return "", err
	}

	system, err := s.systemPrompt(ctx, req.UserID, req.ChatID, variant)
	if err != nil {
		return "", err
	}

	history := s.pendingHistory(req.ChatID, userMsg)

	placeholder := dominatorPlaceholder
	if variant == personality.VariantVision {
		placeholder = visionPlaceholder
	}
	reply, err := s.store.CreateStreamingMessage(ctx, req.UserID, req.ChatID, placeholder)
	if err != nil {
		return "", err
	}

	text, err := s.stream(ctx, reply.ID, BuildRequest(s.cfg.Model(string(variant)), system, history), onProgress)
	if err != nil {
		logger.Error().Err(err).Msg("Completion failed")
		// The error is recorded with a fresh context so a cancelled request
		// still leaves the message in a terminal state.
		if uerr := s.store.UpdateStreamingMessage(context.WithoutCancel(ctx), reply.ID, err.Error(), true, true); uerr != nil {
			logger.Error().Err(uerr).Msg("Failed to record completion error")
		}
		return "", err
	}

	s.commitHistory(req.ChatID, userMsg, llm.NewTextMessage(llm.RoleAssistant, text))
	s.memories.AddCandidates(ctx, req.UserID, &chatID, memory.RoleAssistant,
		s.extractor.Extract(text, memory.RoleAssistant), map[string]any{"variant": string(variant)})
	s.agents.ProcessMessage(ctx, req.UserID, req.ChatID, text, false)

	logger.Info().Int("reply_len", len(text)).Msg("Message sent")
	return text, nil
}

// ensureSession starts an agent session, or restarts it when the chat
// switched variants.
func (s *Service) ensureSession(ctx context.Context, userID, chatID string, variant personality.Variant) error {
	session, err := s.agents.Session(userID, chatID)
	if err == nil && session.Variant == variant {
		return nil
	}
	if err != nil && !errors.Is(err, agent.ErrSessionNotFound) {
		return err
	}
	return s.agents.InitializeAgent(ctx, agent.SessionConfig{Variant: variant, UserID: userID, ChatID: chatID})
}

func (s *Service) systemPrompt(ctx context.Context, userID, chatID string, variant personality.Variant) (string, error) {
	summary, err := s.store.GetMemorySummary(ctx, userID, chatID)
	if err != nil {
		return "", err
	}
	in := PromptInput{
		Variant: variant,
		Base:    s.cfg.SystemPrompt(string(variant)),
		Summary: summary,
	}
	if name, ok := s.memories.GetUserName(userID); ok {
		in.UserName = name
	}
	if global, ok := s.memories.GetGlobalMemories(userID); ok {
		in.Global = &global
	}

	prompt := ComposeSystemPrompt(in)
	prompt = s.personalities.EnhancePrompt(prompt, userID, variant)
	return s.agents.GetEnhancedPrompt(ctx, userID, chatID, prompt), nil
}

func (s *Service) stream(ctx context.Context, messageID string, req *llm.Request, onProgress func(string)) (string, error) {
	if s.cfg.Chat.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Chat.Timeout)
		defer cancel()
	}

	stream, err := s.client.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close() //nolint:errcheck // close errors carry no information here

	var (
		sb          strings.Builder
		lastPersist = s.now()
	)
	for stream.Next() {
		ev := stream.Event()
		if ev == nil || ev.Type != llm.StreamEventTypeContentDelta || ev.Delta == nil || ev.Delta.Text == "" {
			continue
		}
		sb.WriteString(ev.Delta.Text)
		if onProgress != nil {
			onProgress(sb.String())
		}
		if now := s.now(); now.Sub(lastPersist) >= persistInterval {
			lastPersist = now
			if err := s.store.UpdateStreamingMessage(ctx, messageID, sb.String(), false, false); err != nil {
				s.logger.Warn().Str("method", "stream").Str("message_id", messageID).Err(err).Msg("Failed to persist partial reply")
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", err
	}

	text := sb.String()
	if err := s.store.UpdateStreamingMessage(ctx, messageID, text, true, false); err != nil {
		return "", err
	}
	return text, nil
}
