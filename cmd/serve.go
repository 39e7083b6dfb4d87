package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/wskish/toolchat/internal/chat"
	"github.com/wskish/toolchat/internal/config"
	"github.com/wskish/toolchat/internal/llm"
	"github.com/wskish/toolchat/internal/serveui"
	"github.com/wskish/toolchat/internal/signal"
	"github.com/wskish/toolchat/internal/tools"
	"github.com/wskish/toolchat/internal/usage"
)

var (
	serveHost        string
	servePort        int
	serveModel       string
	serveCORSOrigins []string
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to bind (default from config)")
	serveCmd.Flags().StringVar(&serveModel, "model", "", "Initial model (default from config)")
	serveCmd.Flags().StringSliceVar(&serveCORSOrigins, "cors-origin", nil, "Allowed CORS origins (use '*' for any)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat web server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext()
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Serve.Host = serveHost
	}
	if servePort != 0 {
		cfg.Serve.Port = servePort
	}
	if serveModel != "" {
		cfg.Model = serveModel
	}

	// Credentials are read once here. A missing key for the startup model is
	// a startup failure, not a per-request one.
	providers := buildProviders(cfg)
	if len(providers) == 0 {
		return fmt.Errorf("no API credentials configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
	}

	spec, ok := llm.LookupModel(cfg.Model)
	if !ok {
		return &llm.InvalidConfigError{Setting: "model", Value: cfg.Model, Reason: "not in the supported model set"}
	}
	if _, ok := providers[spec.Vendor]; !ok {
		return &llm.InvalidConfigError{Setting: "model", Value: cfg.Model, Reason: fmt.Sprintf("no %s credentials configured", spec.Vendor)}
	}

	registry, err := tools.BuildRegistry(cfg.Tools.Enabled)
	if err != nil {
		return err
	}

	conv, err := chat.NewConversation(cfg.Model, chat.DefaultSystemPrompt(time.Now()))
	if err != nil {
		return err
	}
	if cfg.ThinkingBudget > 0 {
		if err := conv.SetThinkingBudget(cfg.ThinkingBudget); err != nil {
			return err
		}
	}

	session := chat.NewSession(conv, providers, registry)
	session.SetMaxTurns(cfg.MaxTurns)

	var ledger *usage.Store
	if cfg.Usage.Enabled {
		ledger, err = usage.OpenStore(cfg.Usage.DBPath)
		if err != nil {
			return fmt.Errorf("open usage ledger: %w", err)
		}
		defer ledger.Close()
		session.SetUsageStore(ledger)
	}

	srv := newServeServer(serveServerConfig{
		host:        cfg.Serve.Host,
		port:        cfg.Serve.Port,
		corsOrigins: serveCORSOrigins,
	}, session, ledger)

	if err := srv.Start(); err != nil {
		return err
	}
	log.Printf("toolchat serving on http://%s:%d (model: %s)", cfg.Serve.Host, cfg.Serve.Port, cfg.Model)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func buildProviders(cfg *config.Config) map[string]llm.Provider {
	providers := make(map[string]llm.Provider)
	if cfg.Anthropic.APIKey != "" {
		providers[llm.VendorAnthropic] = llm.NewAnthropicProvider(cfg.Anthropic.APIKey, "")
	}
	if cfg.OpenAI.APIKey != "" {
		providers[llm.VendorOpenAI] = llm.NewOpenAIProvider(cfg.OpenAI.APIKey, "")
	}
	return providers
}

type serveServerConfig struct {
	host        string
	port        int
	corsOrigins []string
}

type serveServer struct {
	cfg     serveServerConfig
	session *chat.Session
	ledger  *usage.Store
	server  *http.Server
}

func newServeServer(cfg serveServerConfig, session *chat.Session, ledger *usage.Store) *serveServer {
	return &serveServer{cfg: cfg, session: session, ledger: ledger}
}

func (s *serveServer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/chat/stream", s.cors(s.handleChatStream))
	mux.HandleFunc("/set-model", s.cors(s.handleSetModel))
	mux.HandleFunc("/set-thinking", s.cors(s.handleSetThinking))
	mux.HandleFunc("/available-tools", s.cors(s.handleAvailableTools))
	mux.HandleFunc("/models", s.cors(s.handleModels))
	mux.HandleFunc("/usage", s.cors(s.handleUsage))
	mux.HandleFunc("/", s.cors(s.handleUI))

	return mux
}

func (s *serveServer) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.host, s.cfg.port),
		Handler: s.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		return nil
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

func (s *serveServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *serveServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *serveServer) handleUI(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(serveui.IndexHTML())
}

type chatStreamRequest struct {
	Message string `json:"message"`
}

// messageFrame is the payload of "message" SSE events.
type messageFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (s *serveServer) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := requireJSONContentType(r); err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	var req chatStreamRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// SSE headers are deferred until the first frame, so rejections (busy
	// session, bad config) still go out as plain JSON status responses.
	headersSent := false
	emit := func(event string, payload any) {
		if !headersSent {
			setSSEHeaders(w)
			headersSent = true
		}
		if err := writeSSEEvent(w, event, payload); err != nil {
			return
		}
		flusher.Flush()
	}

	stats, err := s.session.Send(r.Context(), req.Message, func(ev llm.Event) {
		switch ev.Type {
		case llm.EventTextDelta:
			emit("message", messageFrame{Type: "text", Content: ev.Text})
		case llm.EventThinkingDelta:
			emit("message", messageFrame{Type: "thinking", Content: ev.Text})
		case llm.EventToolExecStart:
			emit("message", messageFrame{Type: "tool_use", Content: toolUseContent(ev)})
		case llm.EventToolExecEnd:
			emit("message", messageFrame{Type: "tool_result", Content: toolResultContent(ev)})
		}
	})
	if err != nil {
		if headersSent {
			emit("message", messageFrame{Type: "error", Content: fmt.Sprintf("Error: %v", err)})
			return
		}
		writeError(w, errorStatus(err), err.Error())
		return
	}

	emit("stats", stats)
}

// toolUseContent renders a tool_use frame the way the chat page shows it.
func toolUseContent(ev llm.Event) string {
	if ev.ToolInfo != "" {
		return fmt.Sprintf("%s: %s", ev.ToolName, ev.ToolInfo)
	}
	return ev.ToolName
}

func toolResultContent(ev llm.Event) string {
	out := ev.ToolOutput
	if len(out) > 500 {
		out = out[:500] + "..."
	}
	if !ev.ToolSuccess {
		return fmt.Sprintf("%s failed: %s", ev.ToolName, out)
	}
	return fmt.Sprintf("%s: %s", ev.ToolName, out)
}

type setModelRequest struct {
	Model string `json:"model"`
}

func (s *serveServer) handleSetModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req setModelRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.session.SetModel(req.Model); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"model":   s.session.Conversation().Model(),
	})
}

type setThinkingRequest struct {
	Budget int64 `json:"budget"`
}

func (s *serveServer) handleSetThinking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req setThinkingRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.session.SetThinkingBudget(req.Budget); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"thinkingBudget": s.session.Conversation().ThinkingBudget(),
		"model":          s.session.Conversation().Model(),
	})
}

func (s *serveServer) handleAvailableTools(w http.ResponseWriter, r *http.Request) {
	specs := s.session.Tools().AllSpecs()
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": names})
}

func (s *serveServer) handleModels(w http.ResponseWriter, r *http.Request) {
	type modelInfo struct {
		ID               string `json:"id"`
		Vendor           string `json:"vendor"`
		SupportsThinking bool   `json:"supportsThinking"`
	}
	models := make([]modelInfo, 0)
	for _, m := range llm.SupportedModels() {
		models = append(models, modelInfo{ID: m.ID, Vendor: m.Vendor, SupportsThinking: m.SupportsThinking})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"models":         models,
		"current":        s.session.Conversation().Model(),
		"thinkingBudget": s.session.Conversation().ThinkingBudget(),
	})
}

func (s *serveServer) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, "usage ledger disabled")
		return
	}
	totals, err := s.ledger.TotalsAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *serveServer) cors(next http.HandlerFunc) http.HandlerFunc {
	allowed := make(map[string]struct{}, len(s.cfg.corsOrigins))
	allowAll := false
	for _, origin := range s.cfg.corsOrigins {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		if o == "*" {
			allowAll = true
			continue
		}
		allowed[o] = struct{}{}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// errorStatus maps request failures onto HTTP status codes.
func errorStatus(err error) int {
	var busy *chat.SessionBusyError
	if errors.As(err, &busy) {
		return http.StatusConflict
	}
	var invalid *llm.InvalidConfigError
	if errors.As(err, &invalid) {
		return http.StatusBadRequest
	}
	var upstream *llm.UpstreamError
	if errors.As(err, &upstream) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeSSEEvent(w io.Writer, event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSONBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 10<<20))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

func requireJSONContentType(r *http.Request) error {
	contentType := r.Header.Get("Content-Type")
	if strings.TrimSpace(contentType) == "" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("invalid Content-Type header")
	}
	if mediaType != "application/json" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	return nil
}
