// Package engine wires the edit pipeline together and exposes it as RPC
// methods: selection resolution, session orchestration, settings, and the
// generation credential store.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"blockpilot/engine/internal/appdirs"
	"blockpilot/engine/internal/doctree"
	"blockpilot/engine/internal/errinfo"
	"blockpilot/engine/internal/genai"
	"blockpilot/engine/internal/kvstore"
	"blockpilot/engine/internal/logging"
	"blockpilot/engine/internal/mutate"
	"blockpilot/engine/internal/orchestrator"
	"blockpilot/engine/internal/resolver"
	"blockpilot/engine/internal/secrets"
	"blockpilot/engine/internal/session"
	"blockpilot/engine/internal/settings"
	"blockpilot/engine/internal/store"
	"blockpilot/engine/internal/watch"
)

const (
	EngineVersion = "0.1.0"
	APIVersion    = "1"
)

type Notifier func(method string, params any)

type Engine struct {
	dataDir  string
	settings *settings.Store
	secrets  *secrets.Store
	store    store.Store
	resolver *resolver.Resolver
	orch     *orchestrator.Orchestrator
	observer *watch.Observer
	source   *watch.FakeSource
	logger   *slog.Logger

	mu        sync.Mutex
	cfg       *settings.Settings
	notify    Notifier
	streamer  genai.Streamer
	injected  bool
	prompts   map[string]string
	surfaceOf map[string]string
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithStore injects a document store, replacing the kernel client.
func WithStore(st store.Store) Option {
	return func(e *Engine) {
		if st != nil {
			e.store = st
		}
	}
}

// WithStreamer injects a generation service, replacing the HTTP client.
func WithStreamer(streamer genai.Streamer) Option {
	return func(e *Engine) {
		if streamer != nil {
			e.streamer = streamer
			e.injected = true
		}
	}
}

func New(opts ...Option) (*Engine, error) {
	engine := &Engine{
		logger:    logging.Nop(),
		prompts:   make(map[string]string),
		surfaceOf: make(map[string]string),
	}
	for _, opt := range opts {
		opt(engine)
	}
	dataDir, err := appdirs.DataDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	engine.dataDir = dataDir
	engine.settings = settings.NewStore(filepath.Join(dataDir, "engine.json"))
	engine.secrets = secrets.NewStore(filepath.Join(dataDir, "secrets.enc"), filepath.Join(dataDir, "master.key"))

	cfg, err := engine.settings.Load()
	if err != nil {
		return nil, err
	}
	engine.cfg = cfg

	if engine.store == nil {
		engine.store = store.NewKernelClient(cfg.KernelBaseURL, engine.logger.With("component", "kernel"))
	}

	kv := kvstore.NewFileKV(filepath.Join(dataDir, "state.json"))
	engine.resolver = resolver.New(engine.store, kv, engine.logger.With("component", "resolver"))

	engine.source = watch.NewFakeSource()
	engine.observer = watch.NewObserver(engine.source, engine.handleWatchEvent, engine.logger.With("component", "watch"))

	executor := mutate.NewExecutor(engine.store, engine.observer, mutate.Config{
		BatchInsertThreshold: cfg.BatchInsertThreshold,
		BatchDeleteThreshold: cfg.BatchDeleteThreshold,
		PropagationDelay:     time.Duration(cfg.PropagationDelayMS) * time.Millisecond,
	}, engine.logger.With("component", "mutate"))

	engine.orch = orchestrator.New(engine.store, lazyStreamer{engine}, executor, engine.pushNotification, orchestrator.Config{
		MaxConcurrent:   cfg.MaxConcurrentSessions,
		HistoryCapacity: cfg.HistoryCapacity,
	}, engine.logger.With("component", "orchestrator"))

	engine.observer.Start()
	engine.logger.Debug("engine.init", "data_dir", dataDir, "kernel_base_url", cfg.KernelBaseURL)
	return engine, nil
}

func (e *Engine) SetNotifier(notify Notifier) {
	e.mu.Lock()
	e.notify = notify
	e.mu.Unlock()
}

func (e *Engine) Close() {
	e.observer.Close()
	e.orch.CancelAll()
}

func (e *Engine) pushNotification(method string, params any) {
	e.mu.Lock()
	notify := e.notify
	e.mu.Unlock()
	if notify != nil {
		notify(method, params)
	}
}

func (e *Engine) handleWatchEvent(event watch.Event) {
	e.mu.Lock()
	sessionID, ok := e.surfaceOf[event.SurfaceID]
	e.mu.Unlock()
	if !ok {
		sessionID = event.SurfaceID
	}
	e.orch.HandleWatchEvent(watch.Event{Kind: event.Kind, SurfaceID: sessionID})
}

// lazyStreamer defers client construction so the generation key can be set
// or changed after startup.
type lazyStreamer struct {
	e *Engine
}

func (l lazyStreamer) Stream(ctx context.Context, messages []genai.Message, onDelta func(string)) (string, error) {
	streamer, err := l.e.currentStreamer()
	if err != nil {
		return "", err
	}
	return streamer.Stream(ctx, messages, onDelta)
}

func (e *Engine) currentStreamer() (genai.Streamer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streamer != nil {
		return e.streamer, nil
	}
	key, err := e.secrets.GetGenerationKey()
	if err != nil || key == "" {
		return nil, genai.ErrUnauthorized
	}
	baseURL := e.cfg.GenerationBaseURL
	if strings.TrimSpace(baseURL) == "" {
		return nil, genai.ErrUnavailable
	}
	client, err := genai.NewClient(baseURL, key, e.cfg.ModelID)
	if err != nil {
		return nil, err
	}
	e.streamer = client
	return client, nil
}

// resetStreamer drops the cached HTTP client after a settings or credential
// change. Injected streamers are kept.
func (e *Engine) resetStreamer() {
	e.mu.Lock()
	if !e.injected {
		e.streamer = nil
	}
	e.mu.Unlock()
}

func (e *Engine) EngineGetInfo(_ context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]any{
		"engine_version":  EngineVersion,
		"api_version":     APIVersion,
		"kernel_base_url": e.cfg.KernelBaseURL,
		"model_id":        e.cfg.ModelID,
	}, nil
}

type treeNodeParam struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Parent  string `json:"parent,omitempty"`
	Content string `json:"content,omitempty"`
}

type selectionParam struct {
	StructuralIDs []string `json:"structural_ids,omitempty"`
	RangeStart    string   `json:"range_start,omitempty"`
	RangeEnd      string   `json:"range_end,omitempty"`
	CursorID      string   `json:"cursor_id,omitempty"`
	Text          string   `json:"text,omitempty"`
}

type editTriggerParams struct {
	Instruction     string          `json:"instruction"`
	Selection       selectionParam  `json:"selection"`
	Tree            []treeNodeParam `json:"tree,omitempty"`
	SurfaceID       string          `json:"surface_id,omitempty"`
	ContextTemplate string          `json:"context_template,omitempty"`
}

// EditTrigger resolves the selection, creates a session, and queues it for
// generation. The response carries the session id; progress arrives as
// notifications.
func (e *Engine) EditTrigger(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p editTriggerParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseResolve, "invalid params")
	}
	if strings.TrimSpace(p.Instruction) == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseResolve, "instruction is required")
	}

	// a typed nil would defeat the resolver's tree == nil checks
	var tree doctree.Tree
	if len(p.Tree) > 0 {
		tree = buildTree(p.Tree)
	}
	editCtx, err := e.resolver.ResolveSelection(ctx, tree, resolver.SelectionSource{
		StructuralIDs: p.Selection.StructuralIDs,
		RangeStart:    p.Selection.RangeStart,
		RangeEnd:      p.Selection.RangeEnd,
		CursorID:      p.Selection.CursorID,
		Text:          p.Selection.Text,
	})
	if err != nil {
		return nil, errinfo.ResolutionFailed(err.Error())
	}

	// An explicit template becomes the new preset; without one the last
	// remembered preset wins over the configured default.
	template := p.ContextTemplate
	if template != "" {
		e.resolver.RememberPreset(template)
	} else {
		e.mu.Lock()
		fallback := e.cfg.ContextTemplate
		e.mu.Unlock()
		template = e.resolver.LastPreset(fallback)
	}
	prompt := e.buildPrompt(ctx, tree, template, editCtx)

	s := session.New(editCtx, p.Instruction, e.logger.With("component", "session"))
	e.mu.Lock()
	e.prompts[s.ID] = prompt
	if p.SurfaceID != "" {
		e.surfaceOf[p.SurfaceID] = s.ID
	}
	e.mu.Unlock()

	e.orch.Submit(s, prompt)
	return map[string]any{"session_id": s.ID, "state": s.State()}, nil
}

// buildPrompt expands the context template around the primary unit and
// appends the selection itself.
func (e *Engine) buildPrompt(ctx context.Context, tree doctree.Tree, template string, editCtx *resolver.EditContext) string {
	expanded := e.resolver.ApplyPlaceholders(ctx, tree, template, editCtx.PrimaryUnitID)
	var b strings.Builder
	if strings.TrimSpace(expanded) != "" {
		b.WriteString("Surrounding document content:\n")
		b.WriteString(expanded)
		b.WriteString("\n\n")
	}
	b.WriteString("Text to edit:\n")
	b.WriteString(editCtx.SelectedText)
	return b.String()
}

func buildTree(nodes []treeNodeParam) *doctree.MemTree {
	tree := doctree.NewMemTree()
	for _, node := range nodes {
		tree.Add(doctree.Node{
			ID:      node.ID,
			Kind:    doctree.NodeKind(node.Kind),
			Parent:  node.Parent,
			Content: node.Content,
		})
	}
	return tree
}

type sessionIDParams struct {
	SessionID string `json:"session_id"`
}

func parseSessionID(params json.RawMessage) (string, *errinfo.ErrorInfo) {
	var p sessionIDParams
	if err := json.Unmarshal(params, &p); err != nil || p.SessionID == "" {
		return "", errinfo.ValidationFailed("", "session_id is required")
	}
	return p.SessionID, nil
}

func (e *Engine) EditAccept(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	sessionID, errInfo := parseSessionID(params)
	if errInfo != nil {
		return nil, errInfo
	}
	if errInfo := e.orch.Accept(ctx, sessionID); errInfo != nil {
		return nil, errInfo
	}
	e.forgetSession(sessionID)
	return map[string]any{"session_id": sessionID, "state": session.StateApplied}, nil
}

func (e *Engine) EditReject(_ context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	sessionID, errInfo := parseSessionID(params)
	if errInfo != nil {
		return nil, errInfo
	}
	if errInfo := e.orch.Reject(sessionID); errInfo != nil {
		return nil, errInfo
	}
	e.forgetSession(sessionID)
	return map[string]any{"session_id": sessionID, "state": session.StateRejected}, nil
}

func (e *Engine) EditRetry(_ context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	sessionID, errInfo := parseSessionID(params)
	if errInfo != nil {
		return nil, errInfo
	}
	e.mu.Lock()
	prompt, ok := e.prompts[sessionID]
	e.mu.Unlock()
	if !ok {
		return nil, errinfo.SessionNotFound(sessionID)
	}
	if errInfo := e.orch.Retry(sessionID, prompt); errInfo != nil {
		return nil, errInfo
	}
	return map[string]any{"session_id": sessionID}, nil
}

func (e *Engine) EditCancel(_ context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	sessionID, errInfo := parseSessionID(params)
	if errInfo != nil {
		return nil, errInfo
	}
	if errInfo := e.orch.Cancel(sessionID); errInfo != nil {
		return nil, errInfo
	}
	return map[string]any{"session_id": sessionID}, nil
}

func (e *Engine) EditGetSession(_ context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	sessionID, errInfo := parseSessionID(params)
	if errInfo != nil {
		return nil, errInfo
	}
	snapshot, errInfo := e.orch.GetSession(sessionID)
	if errInfo != nil {
		return nil, errInfo
	}
	return snapshot, nil
}

func (e *Engine) EditUndoLast(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	entry, errInfo := e.orch.UndoLast(ctx)
	if errInfo != nil {
		return nil, errInfo
	}
	return entry, nil
}

func (e *Engine) QueueGetStats(_ context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	return e.orch.Stats(), nil
}

func (e *Engine) QueuePause(_ context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	e.orch.Pause()
	return e.orch.Stats(), nil
}

func (e *Engine) QueueResume(_ context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	e.orch.Resume()
	return e.orch.Stats(), nil
}

func (e *Engine) QueueCancelAll(_ context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	canceled := e.orch.CancelAll()
	return map[string]any{"canceled": canceled}, nil
}

// WatchSurfaceRemoved is how the host reports that a session's preview
// surface vanished. It feeds the observer, so removals caused by the
// engine's own teardown are filtered out while the observer is paused.
func (e *Engine) WatchSurfaceRemoved(_ context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p struct {
		SurfaceID string `json:"surface_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.SurfaceID == "" {
		return nil, errinfo.ValidationFailed("", "surface_id is required")
	}
	e.source.Emit(watch.Event{Kind: watch.SurfaceRemoved, SurfaceID: p.SurfaceID})
	return map[string]any{"accepted": true}, nil
}

func (e *Engine) SettingsGet(_ context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	copied := *e.cfg
	return &copied, nil
}

// SettingsSet persists new settings. Generation options take effect on the
// next session; queue sizing takes effect on restart.
func (e *Engine) SettingsSet(_ context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var next settings.Settings
	if err := json.Unmarshal(params, &next); err != nil {
		return nil, errinfo.ValidationFailed("", "invalid settings payload")
	}
	if err := e.settings.Save(&next); err != nil {
		return nil, errinfo.StoreUnavailable("", err.Error())
	}
	loaded, err := e.settings.Load()
	if err != nil {
		return nil, errinfo.StoreUnavailable("", err.Error())
	}
	e.mu.Lock()
	e.cfg = loaded
	e.mu.Unlock()
	e.resetStreamer()
	e.logger.Info("engine.settings_updated")
	return loaded, nil
}

func (e *Engine) GenerationSetKey(_ context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(params, &p); err != nil || strings.TrimSpace(p.APIKey) == "" {
		return nil, errinfo.ValidationFailed("", "api_key is required")
	}
	if err := e.secrets.SetGenerationKey(p.APIKey); err != nil {
		return nil, errinfo.StoreUnavailable("", err.Error())
	}
	e.resetStreamer()
	return map[string]any{"configured": true}, nil
}

func (e *Engine) GenerationClearKey(_ context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	if err := e.secrets.ClearGenerationKey(); err != nil {
		return nil, errinfo.StoreUnavailable("", err.Error())
	}
	e.resetStreamer()
	return map[string]any{"configured": false}, nil
}

func (e *Engine) GenerationGetStatus(_ context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	key, err := e.secrets.GetGenerationKey()
	configured := err == nil && key != ""
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]any{
		"configured":          configured,
		"generation_base_url": e.cfg.GenerationBaseURL,
		"model_id":            e.cfg.ModelID,
	}, nil
}

// forgetSession drops per-session bookkeeping once the session is terminal.
func (e *Engine) forgetSession(sessionID string) {
	e.mu.Lock()
	delete(e.prompts, sessionID)
	for surface, id := range e.surfaceOf {
		if id == sessionID {
			delete(e.surfaceOf, surface)
		}
	}
	e.mu.Unlock()
}
