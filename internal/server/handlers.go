package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aman-zulfiqar/defi-nlq/internal/ai"
	"github.com/aman-zulfiqar/defi-nlq/internal/flags"
	"github.com/aman-zulfiqar/defi-nlq/internal/models"
	"github.com/aman-zulfiqar/defi-nlq/internal/schema"
	"github.com/aman-zulfiqar/defi-nlq/internal/storage"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const debugRowSample = 5

// Asker answers questions. *ai.Agent implements it.
type Asker interface {
	Ask(ctx context.Context, question string, opts ai.AskOptions) (*ai.AskResult, error)
	AskStream(ctx context.Context, question string, opts ai.AskOptions) <-chan ai.StreamEvent
}

// FlagStore is the runtime toggle store. *flags.Store implements it.
type FlagStore interface {
	Upsert(ctx context.Context, key string, value bool) (*flags.Flag, error)
	Get(ctx context.Context, key string) (*flags.Flag, error)
	List(ctx context.Context) ([]*flags.Flag, error)
	Delete(ctx context.Context, key string) error
	Enabled(ctx context.Context, key string, def bool) bool
}

// HistoryReader returns a user's latest answered questions.
type HistoryReader interface {
	Recent(ctx context.Context, userID string, limit int) ([]models.QueryLog, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers contains all dependencies for API endpoint handlers
type Handlers struct {
	AI       Asker               // Question answering pipeline
	Flags    FlagStore           // Redis-backed runtime toggles (optional)
	Registry *schema.Registry    // Table catalog for the schema endpoint
	Database Pinger              // Analytical database (optional, health only)
	QueryLog storage.QueryLogger // Answered-question sink (optional)
	History  HistoryReader       // Query log reader (optional)

	AskTimeout time.Duration  // Upper bound for one question, default 60s
	DevMode    bool           // Enable detailed error responses in development
	Logger     *logrus.Logger // Structured logger
}

// err returns a standardized JSON error response
// In dev mode, includes additional error details for debugging
func (h *Handlers) err(c echo.Context, code int, msg string, details any) error {
	resp := ErrorResponse{Error: msg, Code: code}
	if h.DevMode && details != nil {
		resp.Details = details
	}
	return c.JSON(code, resp)
}

// withTimeout creates a context with timeout, defaulting to 10 seconds if duration <= 0
func (h *Handlers) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

// enabled reads a runtime toggle, using its built-in default when no store
// is configured.
func (h *Handlers) enabled(ctx context.Context, key string) bool {
	def := flags.Known[key]
	if h.Flags == nil {
		return def
	}
	return h.Flags.Enabled(ctx, key, def)
}

// Health reports service health and database reachability.
func (h *Handlers) Health(c echo.Context) error {
	ctx, cancel := h.withTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{OK: true, Database: probe(ctx, h.Database), QueryLog: "unconfigured"}
	if p, ok := h.QueryLog.(Pinger); ok {
		resp.QueryLog = probe(ctx, p)
	}
	if resp.Database == "down" {
		resp.OK = false
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func probe(ctx context.Context, p Pinger) string {
	if p == nil {
		return "unconfigured"
	}
	if err := p.Ping(ctx); err != nil {
		return "down"
	}
	return "up"
}

// SchemaTables lists the registry tables grouped by data generation.
func (h *Handlers) SchemaTables(c echo.Context) error {
	if h.Registry == nil {
		return h.err(c, http.StatusServiceUnavailable, "schema registry is not configured", nil)
	}

	groups := map[string][]TableInfo{}
	for _, t := range h.Registry.Tables() {
		gen := string(t.Generation())
		if gen == "" {
			gen = "other"
		}
		info := TableInfo{Name: t.Name, Description: t.Description, Columns: make([]string, 0, len(t.Columns))}
		for _, col := range t.Columns {
			info.Columns = append(info.Columns, col.Name)
		}
		groups[gen] = append(groups[gen], info)
	}
	return c.JSON(http.StatusOK, map[string]any{"generations": groups, "count": h.Registry.Len()})
}

// FlagsUpsert creates or updates a feature flag with the given key and value
// Validates key format and returns the created/updated flag
func (h *Handlers) FlagsUpsert(c echo.Context) error {
	if h.Flags == nil {
		return h.err(c, http.StatusServiceUnavailable, "flags are not configured", nil)
	}
	var req FlagUpsertRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	if err := flags.ValidateKey(req.Key); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid key", map[string]any{"key": "invalid format"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Flags.Upsert(ctx, req.Key, req.Value)
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to upsert flag", nil)
	}
	return c.JSON(http.StatusOK, out)
}

// FlagsUpdate updates an existing feature flag with the given key
func (h *Handlers) FlagsUpdate(c echo.Context) error {
	if h.Flags == nil {
		return h.err(c, http.StatusServiceUnavailable, "flags are not configured", nil)
	}
	key := c.Param("key")
	if err := flags.ValidateKey(key); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid key", map[string]any{"key": "invalid format"})
	}
	var req FlagUpdateRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Flags.Upsert(ctx, key, req.Value)
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to update flag", nil)
	}
	return c.JSON(http.StatusOK, out)
}

// FlagsGet retrieves a feature flag by its key
// Returns 404 if flag doesn't exist
func (h *Handlers) FlagsGet(c echo.Context) error {
	if h.Flags == nil {
		return h.err(c, http.StatusServiceUnavailable, "flags are not configured", nil)
	}
	key := c.Param("key")
	if err := flags.ValidateKey(key); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid key", map[string]any{"key": "invalid format"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Flags.Get(ctx, key)
	if err != nil {
		if errors.Is(err, flags.ErrNotFound) {
			return h.err(c, http.StatusNotFound, "flag not found", nil)
		}
		return h.err(c, http.StatusInternalServerError, "failed to get flag", nil)
	}
	return c.JSON(http.StatusOK, out)
}

// FlagsList returns the stored flags and the defaults of the toggles the
// service reads.
func (h *Handlers) FlagsList(c echo.Context) error {
	if h.Flags == nil {
		return h.err(c, http.StatusServiceUnavailable, "flags are not configured", nil)
	}
	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	items, err := h.Flags.List(ctx)
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to list flags", nil)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items, "defaults": flags.Known})
}

// FlagsDelete removes a feature flag by its key
// Returns 204 No Content on successful deletion
func (h *Handlers) FlagsDelete(c echo.Context) error {
	if h.Flags == nil {
		return h.err(c, http.StatusServiceUnavailable, "flags are not configured", nil)
	}
	key := c.Param("key")
	if err := flags.ValidateKey(key); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid key", map[string]any{"key": "invalid format"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	if err := h.Flags.Delete(ctx, key); err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to delete flag", nil)
	}
	return c.NoContent(http.StatusNoContent)
}

// AIAsk answers a natural language question about the analytics database.
// GET reads the question from ?q=, POST from the JSON body.
func (h *Handlers) AIAsk(c echo.Context) error {
	if h.AI == nil {
		return h.err(c, http.StatusServiceUnavailable, "ai is not configured", nil)
	}

	var req AIAskRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid request", nil)
	}
	req.Question = strings.TrimSpace(req.Question)
	if err := c.Validate(&req); err != nil {
		if req.Question == "" {
			return h.err(c, http.StatusBadRequest, "question is required", map[string]any{"question": "required"})
		}
		return h.err(c, http.StatusBadRequest, "invalid request", fieldErrors(err))
	}

	rctx := c.Request().Context()
	opts := ai.AskOptions{
		Minimal:               req.Minimal,
		Presentation:          strings.TrimSpace(req.Presentation),
		AllowGeneralKnowledge: h.enabled(rctx, flags.GeneralKnowledge),
		Charts:                h.enabled(rctx, flags.Charts),
	}

	timeout := h.AskTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := h.withTimeout(rctx, timeout)
	defer cancel()

	if req.Stream && h.enabled(rctx, flags.Streaming) {
		return h.streamAsk(ctx, c, req.Question, opts)
	}

	start := time.Now()
	res, err := h.AI.Ask(ctx, req.Question, opts)
	if err != nil {
		status, body := askError(err, h.DevMode)
		h.Logger.WithError(err).WithFields(logFields(c)).WithField("status", status).Warn("question failed")
		return c.JSON(status, body)
	}

	h.logQuery(provenUserID(c), req.Question, res.Answer, res.Intent, res.Source, res.SQL, len(res.Rows), res.RetryCount)

	rows := res.Rows
	if rows == nil {
		rows = []models.Row{}
	}
	if req.Minimal {
		return c.JSON(http.StatusOK, AIMinimalResponse{SQL: res.SQL, Rows: rows, Intent: res.Intent, RetryCount: res.RetryCount})
	}

	debug := rows
	if len(debug) > debugRowSample {
		debug = debug[:debugRowSample]
	}
	return c.JSON(http.StatusOK, AIAskResponse{
		SQL:        res.SQL,
		Rows:       rows,
		Answer:     res.Answer,
		Source:     res.Source,
		Intent:     res.Intent,
		RetryCount: res.RetryCount,
		DebugRows:  debug,
		Chart:      res.Chart,
		TookMs:     time.Since(start).Milliseconds(),
	})
}

// AIHistory returns the caller's latest answered questions.
// Accepts limit query parameter (default: 20, range: 1-100)
func (h *Handlers) AIHistory(c echo.Context) error {
	if h.History == nil {
		return h.err(c, http.StatusServiceUnavailable, "query history is not configured", nil)
	}
	uid := provenUserID(c)
	if uid == "" {
		return h.err(c, http.StatusUnauthorized, "signed wallet or api key required", nil)
	}

	limit := 20
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 100 {
			return h.err(c, http.StatusBadRequest, "invalid limit", map[string]any{"limit": "min 1 max 100"})
		}
		limit = n
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	items, err := h.History.Recent(ctx, uid, limit)
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to read history", nil)
	}
	if items == nil {
		items = []models.QueryLog{}
	}
	return c.JSON(http.StatusOK, HistoryResponse{Items: items})
}

// logQuery hands the record to the query log in the background. Failures
// are logged and never reach the caller. Only proven identities are logged,
// so a claimed wallet cannot write into another user's history.
func (h *Handlers) logQuery(uid, question, answer string, intent ai.Intent, source, sql string, rowCount, retryCount int) {
	if h.QueryLog == nil || uid == "" {
		return
	}
	rec := &models.QueryLog{
		UserID:     uid,
		Question:   question,
		Answer:     answer,
		Intent:     string(intent),
		Source:     source,
		SQL:        sql,
		RowCount:   rowCount,
		RetryCount: retryCount,
		CreatedAt:  time.Now().UTC(),
	}
	log := h.Logger
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.QueryLog.LogQuery(ctx, rec); err != nil {
			log.WithError(err).WithField("user_id", uid).Warn("failed to log query")
		}
	}()
}
