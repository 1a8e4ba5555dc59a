package ddns

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ControlServer exposes the store and the updater to an operator over HTTP:
// reading and editing the configuration, and running updates on demand.
type ControlServer struct {
	store   *Store
	updater *Updater
	logger  *zap.Logger
	token   string
	listen  string
	server  *http.Server
}

type ControlOption func(*ControlServer)

// WithControlToken requires every request to carry "Authorization: Bearer <token>".
func WithControlToken(token string) ControlOption {
	return func(c *ControlServer) { c.token = token }
}

func WithControlLogger(logger *zap.Logger) ControlOption {
	return func(c *ControlServer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewControlServer creates a control server (not yet started).
func NewControlServer(store *Store, updater *Updater, listen string, opts ...ControlOption) *ControlServer {
	c := &ControlServer{store: store, updater: updater, listen: listen, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type statusResponse struct {
	Success string `json:"success"`
}

type errorResponse struct {
	Message string `json:"message"`
}

type attemptView struct {
	Resolver string `json:"resolver"`
	Skipped  bool   `json:"skipped,omitempty"`
	Accepted string `json:"accepted,omitempty"`
	Error    string `json:"error,omitempty"`
}

type dispatchView struct {
	Provider string `json:"provider"`
	Record   string `json:"record"`
	Type     Family `json:"type"`
	Error    string `json:"error,omitempty"`
}

type reportView struct {
	ID         string         `json:"id"`
	Started    time.Time      `json:"started"`
	Finished   time.Time      `json:"finished"`
	IPv4       string         `json:"ipv4,omitempty"`
	IPv6       string         `json:"ipv6,omitempty"`
	Changed    []Family       `json:"changed"`
	Resolvers  []attemptView  `json:"resolvers"`
	Dispatches []dispatchView `json:"dispatches"`
}

func newReportView(r *Report) *reportView {
	if r == nil {
		return nil
	}
	v := &reportView{
		ID:         r.ID,
		Started:    r.Started,
		Finished:   r.Finished,
		Changed:    r.Changed.List(),
		Resolvers:  []attemptView{},
		Dispatches: []dispatchView{},
	}
	if r.Resolution.IPv4.IsValid() {
		v.IPv4 = r.Resolution.IPv4.String()
	}
	if r.Resolution.IPv6.IsValid() {
		v.IPv6 = r.Resolution.IPv6.String()
	}
	for _, a := range r.Resolution.Attempts {
		av := attemptView{Resolver: a.Resolver, Skipped: a.Skipped}
		if !a.Accepted.Set().Empty() {
			av.Accepted = a.Accepted.String()
		}
		if a.Err != nil {
			av.Error = a.Err.Error()
		}
		v.Resolvers = append(v.Resolvers, av)
	}
	for _, d := range r.Dispatches {
		dv := dispatchView{Provider: d.Record.Provider, Record: d.Record.Name, Type: d.Record.Family}
		if d.Err != nil {
			dv.Error = d.Err.Error()
		}
		v.Dispatches = append(v.Dispatches, dv)
	}
	return v
}

// Handler builds the http.Handler with routing and middleware.
func (c *ControlServer) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), c.logRequests(), c.authorize())

	r.GET("/status", c.handleStatus)
	r.GET("/config", c.handleGetConfig)
	r.POST("/config/timeout", c.handleSetTimeout)
	r.POST("/config/resolvers", c.handleSetResolvers)
	r.POST("/dns/run", c.handleRun)
	r.POST("/dns/toggle", c.handleToggle)
	r.PUT("/dns", c.handleAdd)
	r.PATCH("/dns/:provider/:record/:type", c.handleEdit)
	r.DELETE("/dns/:provider/:record/:type", c.handleDelete)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Start begins serving in a background goroutine.
func (c *ControlServer) Start() error {
	ln, err := net.Listen("tcp", c.listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", c.listen, err)
	}
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.logger.Info("control server listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("control server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (c *ControlServer) Stop() {
	if c.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.server.Shutdown(ctx)
}

func (c *ControlServer) logRequests() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		c.logger.Debug("control request",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.Request.URL.Path),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

func (c *ControlServer) authorize() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c.token == "" {
			return
		}
		token, ok := strings.CutPrefix(ctx.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(c.token)) != 1 {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Message: "unauthorized"})
		}
	}
}

func (c *ControlServer) handleStatus(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"state":      c.updater.State().String(),
		"lastReport": newReportView(c.updater.LastReport()),
	})
}

func (c *ControlServer) handleGetConfig(ctx *gin.Context) {
	settings := c.store.Settings()
	for _, cfg := range settings.Plugins {
		redactSecrets(cfg)
	}
	ctx.JSON(http.StatusOK, settings)
}

// redactSecrets blanks values whose key looks like a credential.
func redactSecrets(cfg PluginConfig) {
	for k := range cfg {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "token") && !strings.Contains(lk, "file") || strings.Contains(lk, "secret") || strings.Contains(lk, "password") {
			cfg[k] = "********"
		}
	}
}

func (c *ControlServer) handleSetTimeout(ctx *gin.Context) {
	var body struct {
		Timeout *float64 `json:"timeout"`
	}
	if err := ctx.ShouldBindJSON(&body); err != nil || body.Timeout == nil || *body.Timeout <= 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid timeout value."})
		return
	}
	if err := c.store.SetPollInterval(time.Duration(*body.Timeout) * time.Millisecond); err != nil {
		ctx.JSON(http.StatusInternalServerError, errorResponse{Message: err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, statusResponse{Success: "ok"})
}

func (c *ControlServer) handleSetResolvers(ctx *gin.Context) {
	var ids []string
	if err := ctx.ShouldBindJSON(&ids); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Message: fmt.Sprintf("invalid JSON: %v", err)})
		return
	}
	if err := c.store.SetResolverPriority(ids); err != nil {
		ctx.JSON(http.StatusInternalServerError, errorResponse{Message: err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, statusResponse{Success: "ok"})
}

// handleRun runs every enabled record when the body is empty or names no provider,
// otherwise only the record described by the body.
func (c *ControlServer) handleRun(ctx *gin.Context) {
	var rec Record
	if ctx.Request.ContentLength != 0 {
		// an empty body of unknown length binds to io.EOF
		if err := ctx.ShouldBindJSON(&rec); err != nil && !errors.Is(err, io.EOF) {
			ctx.JSON(http.StatusBadRequest, errorResponse{Message: fmt.Sprintf("invalid JSON: %v", err)})
			return
		}
	}

	if rec.Provider == "" {
		report, err := c.updater.RunOnce(ctx.Request.Context())
		if err != nil {
			ctx.JSON(http.StatusInternalServerError, errorResponse{Message: err.Error()})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"success": "ok", "report": newReportView(report)})
		return
	}

	report, err := c.updater.RunRecord(ctx.Request.Context(), rec)
	if errors.Is(err, ErrInvalidRecord) {
		ctx.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"message": err.Error(), "report": newReportView(report)})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": "ok", "report": newReportView(report)})
}

func (c *ControlServer) handleToggle(ctx *gin.Context) {
	var rec Record
	if err := ctx.ShouldBindJSON(&rec); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Message: fmt.Sprintf("invalid JSON: %v", err)})
		return
	}
	enabled, err := c.store.Toggle(rec.Key())
	if err != nil {
		ctx.JSON(storeErrorStatus(err), errorResponse{Message: err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": "ok", "enable": enabled})
}

func (c *ControlServer) handleAdd(ctx *gin.Context) {
	var rec Record
	if err := ctx.ShouldBindJSON(&rec); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Message: fmt.Sprintf("invalid JSON: %v", err)})
		return
	}
	if err := c.store.Add(rec); err != nil {
		ctx.JSON(storeErrorStatus(err), errorResponse{Message: err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, statusResponse{Success: "ok"})
}

func (c *ControlServer) handleEdit(ctx *gin.Context) {
	key, err := keyFromParams(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}
	existing, ok := c.store.Get(key)
	if !ok {
		ctx.JSON(http.StatusNotFound, errorResponse{Message: fmt.Sprintf("%s: %s", ErrRecordNotFound, key)})
		return
	}
	// fields missing from the body keep their current values
	if err := ctx.ShouldBindJSON(&existing); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Message: fmt.Sprintf("invalid JSON: %v", err)})
		return
	}
	if err := c.store.Update(key, existing); err != nil {
		ctx.JSON(storeErrorStatus(err), errorResponse{Message: err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, statusResponse{Success: "ok"})
}

func (c *ControlServer) handleDelete(ctx *gin.Context) {
	key, err := keyFromParams(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}
	if err := c.store.Delete(key); err != nil {
		ctx.JSON(storeErrorStatus(err), errorResponse{Message: err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, statusResponse{Success: "ok"})
}

func keyFromParams(ctx *gin.Context) (RecordKey, error) {
	f, err := ParseFamily(ctx.Param("type"))
	if err != nil {
		return RecordKey{}, err
	}
	return RecordKey{Provider: ctx.Param("provider"), Name: ctx.Param("record"), Family: f}, nil
}

func storeErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRecordExists):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
