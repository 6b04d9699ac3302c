// Package api serves the print agent: the signed websocket channel used by
// the POS client and a small HTTP surface for status and administration.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thereceipt/silent-print/internal/printer"
)

// Config configures a Server
type Config struct {
	// AllowUnsigned accepts sessions and requests without a valid signature
	AllowUnsigned bool
	Logger        *zap.Logger
}

// Server is the print agent API
type Server struct {
	router        *gin.Engine
	manager       *printer.Manager
	queue         *printer.PrintQueue
	allowUnsigned bool
	logger        *zap.Logger
	upgrader      websocket.Upgrader

	clients   map[*session]struct{}
	clientsMu sync.RWMutex
}

// NewServer creates the API server
func NewServer(manager *printer.Manager, queue *printer.PrintQueue, cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), corsMiddleware())

	s := &Server{
		router:        router,
		manager:       manager,
		queue:         queue,
		allowUnsigned: cfg.AllowUnsigned,
		logger:        logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*session]struct{}),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/printers", s.handleGetPrinters)
	s.router.POST("/printers/refresh", s.handleRefreshPrinters)
	s.router.POST("/printer/:id/name", s.handleSetPrinterName)
	s.router.POST("/printer/network", s.handleAddNetworkPrinter)
	s.router.GET("/jobs", s.handleGetJobs)
	s.router.GET("/job/:id", s.handleGetJob)

	s.router.GET("/ws", s.handleWebSocket)
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	s.closeClients()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"printers": len(s.manager.Printers()),
		"clients":  s.ClientCount(),
	})
}

func (s *Server) handleGetPrinters(c *gin.Context) {
	resp := gin.H{"printers": s.manager.Printers()}
	if p := s.manager.Default(); p != nil {
		resp["default"] = p.DisplayName()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRefreshPrinters(c *gin.Context) {
	printers, err := s.manager.DetectPrinters(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"printers": printers})
}

func (s *Server) handleSetPrinterName(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	if !s.manager.SetPrinterName(c.Param("id"), req.Name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "printer not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleAddNetworkPrinter(c *gin.Context) {
	var req struct {
		Host        string `json:"host" binding:"required"`
		Port        int    `json:"port" binding:"omitempty,min=1,max=65535"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a host and an optional valid port are required"})
		return
	}

	p := s.manager.AddNetworkPrinter(req.Host, req.Port, req.Description)
	s.BroadcastPrinterAdded(p)

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"printer_id": p.ID,
		"printer":    p,
	})
}

type jobView struct {
	ID        string    `json:"id"`
	PrinterID string    `json:"printer_id"`
	Printer   string    `json:"printer"`
	Status    string    `json:"status"`
	Retries   int       `json:"retries"`
	Copies    int       `json:"copies"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}

func newJobView(job *printer.Job) jobView {
	v := jobView{
		ID:        job.ID,
		PrinterID: job.PrinterID,
		Printer:   job.PrinterName,
		Status:    string(job.Status),
		Retries:   job.Retries,
		Copies:    max(job.Options.Copies, 1),
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if job.Error != nil {
		v.Error = job.Error.Error()
	}
	return v
}

func (s *Server) handleGetJobs(c *gin.Context) {
	jobs := s.queue.GetAllJobs()

	views := make([]jobView, len(jobs))
	for i, job := range jobs {
		views[i] = newJobView(job)
	}

	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job := s.queue.GetJob(c.Param("id"))
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, newJobView(job))
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
