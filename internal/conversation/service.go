// ABOUTME: Service orchestrating a chat turn from load to persistence
// ABOUTME: Also serves chat history, deletion, votes, visibility and stream resumption

package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/serviceos-chat/internal/builtins"
	"github.com/2389/serviceos-chat/internal/chaterr"
	"github.com/2389/serviceos-chat/internal/confidence"
	"github.com/2389/serviceos-chat/internal/dedupe"
	"github.com/2389/serviceos-chat/internal/llm"
	"github.com/2389/serviceos-chat/internal/message"
	"github.com/2389/serviceos-chat/internal/prompt"
	"github.com/2389/serviceos-chat/internal/resumable"
	"github.com/2389/serviceos-chat/internal/store"
	"github.com/2389/serviceos-chat/internal/stream"
	"github.com/2389/serviceos-chat/internal/tools"
	"github.com/2389/serviceos-chat/internal/turn"
)

// Config wires a Service.
type Config struct {
	Store    store.Store
	Registry *tools.Registry
	Router   *confidence.Router
	Driver   *turn.Driver

	// Titles generates chat titles with TitleModel. Nil disables titles.
	Titles     llm.Provider
	TitleModel string

	DefaultModel string

	// Delivery makes turns resumable. Nil disables resumption.
	Delivery *resumable.Manager
	// Guard rejects duplicate in-flight submissions. Nil disables the check.
	Guard *dedupe.Guard

	Logger *slog.Logger
}

// Service is the chat orchestration layer.
type Service struct {
	store      store.Store
	loader     *Loader
	reconciler *Reconciler
	registry   *tools.Registry
	router     *confidence.Router
	driver     *turn.Driver
	titles     llm.Provider
	titleModel string
	model      string
	delivery   *resumable.Manager
	guard      *dedupe.Guard
	logger     *slog.Logger
}

// New creates a service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	router := cfg.Router
	if router == nil {
		router = confidence.NewRouter(0, logger)
	}
	titleModel := cfg.TitleModel
	if titleModel == "" {
		titleModel = cfg.DefaultModel
	}
	return &Service{
		store:      cfg.Store,
		loader:     NewLoader(cfg.Store),
		reconciler: NewReconciler(cfg.Store, logger),
		registry:   cfg.Registry,
		router:     router,
		driver:     cfg.Driver,
		titles:     cfg.Titles,
		titleModel: titleModel,
		model:      cfg.DefaultModel,
		delivery:   cfg.Delivery,
		guard:      cfg.Guard,
		logger:     logger.With("component", "conversation"),
	}
}

// SubmitRequest is a turn submission.
type SubmitRequest struct {
	ChatID string
	UserID string
	// Message is the new user message of a fresh turn.
	Message *message.Message
	// Messages is the full list of a continuation.
	Messages   []message.Message
	Model      string
	Visibility store.Visibility
	Hints      prompt.RequestHints
}

// Turn is a running turn.
type Turn struct {
	ChatID string
	// Chunks carries the turn output. It must be consumed to the end, or
	// handed to Drain.
	Chunks <-chan stream.Chunk
	// Done closes once the produced messages and title are persisted.
	Done <-chan struct{}

	result turn.Result
}

// Result returns the driver's result. It is only meaningful after Done.
func (t *Turn) Result() turn.Result {
	return t.result
}

// Drain discards the remaining chunks in the background so the turn runs to
// completion without a reader.
func (t *Turn) Drain() {
	go func() {
		for range t.Chunks {
		}
	}()
}

func (r SubmitRequest) validate() error {
	if _, err := uuid.Parse(r.ChatID); err != nil {
		return chaterr.BadRequest("api", "The chat id must be a UUID.")
	}
	if r.Visibility != "" && !r.Visibility.Valid() {
		return chaterr.BadRequest("api", "Visibility must be public or private.")
	}
	if len(r.Messages) > 0 {
		return validateWorkingSet(r.Messages)
	}
	if r.Message == nil {
		return chaterr.BadRequest("api", "A message is required.")
	}
	if r.Message.Role != message.RoleUser {
		return chaterr.BadRequest("api", "Only user messages can be submitted.")
	}
	if len(r.Message.Parts) == 0 {
		return chaterr.BadRequest("api", "A message needs at least one part.")
	}
	if r.Message.ID == "" {
		return chaterr.BadRequest("api", "A message needs an id.")
	}
	return nil
}

// validateWorkingSet checks a continuation's message list: every message
// needs a unique id and a known role.
func validateWorkingSet(msgs []message.Message) error {
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			return chaterr.BadRequest("api", "Every message needs an id.")
		}
		if seen[m.ID] {
			return chaterr.BadRequest("api", "Message ids must be unique.")
		}
		seen[m.ID] = true
		if !m.Role.Valid() {
			return chaterr.BadRequest("api", "Message roles must be user, assistant or system.")
		}
	}
	return nil
}

func (r SubmitRequest) dedupeKey() string {
	if r.Message != nil {
		return dedupe.Key(r.ChatID, r.Message.ID)
	}
	return dedupe.Key(r.ChatID, r.Messages[len(r.Messages)-1].ID)
}

// Submit starts a turn. Errors returned here happen before any output is
// streamed; failures during the turn surface as an error chunk.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Turn, error) {
	if req.UserID == "" {
		return nil, chaterr.Unauthorized("chat")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	key := req.dedupeKey()
	if s.guard != nil {
		if !s.guard.Acquire(key) {
			return nil, chaterr.BadRequest("api", "This message is already being processed.")
		}
	}
	release := func() {
		if s.guard != nil {
			s.guard.Release(key)
		}
	}

	logger := s.logger.With("chat_id", req.ChatID, "user_id", req.UserID)

	loaded, err := s.loader.Load(ctx, LoadRequest{
		ChatID:     req.ChatID,
		UserID:     req.UserID,
		Message:    req.Message,
		Messages:   req.Messages,
		Visibility: req.Visibility,
	})
	if err != nil {
		release()
		return nil, err
	}

	var (
		titles      <-chan string
		titleStored <-chan struct{}
	)
	if loaded.NewChat && s.titles != nil && req.Message != nil {
		generated := StartTitle(context.WithoutCancel(ctx), s.titles, s.titleModel, *req.Message, logger)
		titles, titleStored = s.persistTitle(ctx, loaded.Chat.ID, generated, logger)
	}

	sess, err := s.registry.Open(ctx)
	if err != nil {
		release()
		return nil, err
	}

	ranking := s.router.Evaluate(ctx, sess, sess.External, loaded.Messages)
	registered := tools.Merge(sess.External, builtins.Set(), confidence.MetaTool)
	active := confidence.SelectActive(ranking, registered.Names(), builtins.Names())
	logger.Debug("tools selected",
		"discovered", len(sess.External),
		"registered", len(registered),
		"active", len(active),
		"ranked", ranking != nil,
	)

	model := req.Model
	if model == "" {
		model = s.model
	}
	hints := req.Hints
	if hints.Time.IsZero() {
		hints.Time = time.Now()
	}

	// The turn outlives the request.
	turnCtx := context.WithoutCancel(ctx)
	driverOut := make(chan stream.Chunk, 64)
	results := make(chan turn.Result, 1)
	go func() {
		results <- s.driver.Run(turnCtx, turn.Input{
			ChatID:       loaded.Chat.ID,
			Model:        model,
			System:       prompt.System(hints),
			Messages:     loaded.Messages,
			Continuation: loaded.Continuation,
			Tools:        registered,
			Active:       active,
			Session:      sess,
		}, driverOut)
	}()

	merged := stream.Multiplex(driverOut, titles, logger)
	delivered := s.delivery.Wrap(turnCtx, loaded.Chat.ID, merged)

	done := make(chan struct{})
	t := &Turn{ChatID: loaded.Chat.ID, Chunks: delivered, Done: done}
	go func() {
		defer close(done)
		defer release()

		res := <-results
		t.result = res
		if err := s.reconciler.Reconcile(turnCtx, loaded.Chat.ID, loaded.Messages, res.Messages, loaded.Continuation); err != nil {
			logger.Error("persisting turn failed", "error", err)
		}
		if res.Err != nil {
			logger.Warn("turn failed", "steps", res.Steps, "error", res.Err)
		} else {
			logger.Info("turn finished", "steps", res.Steps, "state", res.State)
		}

		if titleStored != nil {
			<-titleStored
		}
	}()
	return t, nil
}

// persistTitle stores the derived title and forwards it to the stream. The
// second channel closes once the title is stored or known to be absent.
func (s *Service) persistTitle(ctx context.Context, chatID string, in <-chan string, logger *slog.Logger) (<-chan string, <-chan struct{}) {
	out := make(chan string, 1)
	stored := make(chan struct{})
	go func() {
		defer close(out)
		defer close(stored)
		title, ok := <-in
		if !ok || title == "" {
			return
		}
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		defer cancel()
		if err := s.store.UpdateChatTitle(wctx, chatID, title); err != nil {
			logger.Warn("persisting chat title failed", "error", err)
		}
		out <- title
	}()
	return out, stored
}
