package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thereceipt/silent-print/internal/agent"
	"github.com/thereceipt/silent-print/internal/layout"
	"github.com/thereceipt/silent-print/internal/printer"
	"github.com/thereceipt/silent-print/internal/raster"
	"github.com/thereceipt/silent-print/internal/trust"
)

var (
	ErrHandshakeRequired = errors.New("handshake required")
	ErrUnsigned          = errors.New("unsigned requests are not allowed")
	ErrBadSignature      = errors.New("invalid signature")
	ErrUnknownCall       = errors.New("unknown call")
	ErrUnsupportedData   = errors.New("unsupported print data")
)

// Broadcast events
const (
	EventPrinterAdded   = "printer_added"
	EventPrinterRemoved = "printer_removed"
)

const writeWait = 10 * time.Second

// Event is pushed to every client outside any request
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// HandshakeResult answers websocket.handshake
type HandshakeResult struct {
	Signed        bool `json:"signed"`
	AllowUnsigned bool `json:"allowUnsigned"`
}

// session is one websocket client
type session struct {
	conn   *websocket.Conn
	send   chan any
	dead   chan struct{}
	server *Server
	logger *zap.Logger

	// owned by readPump
	handshaken  bool
	certificate string
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &session{
		conn:   conn,
		send:   make(chan any, 256),
		dead:   make(chan struct{}),
		server: s,
		logger: s.logger.With(zap.String("remote", c.Request.RemoteAddr)),
	}

	s.addClient(client)
	client.logger.Info("websocket client connected")

	go client.writePump()
	go client.readPump()
}

func (c *session) writePump() {
	defer func() {
		close(c.dead)
		c.conn.Close()
	}()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			c.logger.Warn("websocket write failed", zap.Error(err))
			return
		}
	}

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (c *session) readPump() {
	defer func() {
		c.server.removeClient(c)
		close(c.send)
		c.logger.Info("websocket client disconnected")
	}()

	for {
		var req agent.Request
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		resp := c.handle(&req)
		select {
		case c.send <- resp:
		case <-c.dead:
			return
		}
	}
}

func (c *session) handle(req *agent.Request) agent.Response {
	resp := agent.Response{UID: req.UID}

	result, err := c.dispatch(req)
	if err != nil {
		c.logger.Warn("agent call failed", zap.String("call", req.Call), zap.Error(err))
		resp.Error = err.Error()
		return resp
	}
	if result == nil {
		return resp
	}

	raw, err := json.Marshal(result)
	if err != nil {
		resp.Error = fmt.Sprintf("failed to encode result: %v", err)
		return resp
	}
	resp.Result = raw
	return resp
}

func (c *session) dispatch(req *agent.Request) (any, error) {
	if req.Call == agent.CallHandshake {
		return c.handshake(req)
	}
	if !c.handshaken {
		return nil, ErrHandshakeRequired
	}
	if err := c.server.verify(c.certificate, req); err != nil {
		return nil, err
	}

	switch req.Call {
	case agent.CallFindPrinters:
		return c.findPrinters(req)
	case agent.CallDefaultPrinter:
		if p := c.server.manager.Default(); p != nil {
			return p.DisplayName(), nil
		}
		return nil, nil
	case agent.CallPrint:
		return c.print(req)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCall, req.Call)
	}
}

func (c *session) handshake(req *agent.Request) (any, error) {
	var params agent.HandshakeParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}

	if params.Certificate != "" {
		if _, err := trust.ParseCertificate(params.Certificate); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
		}
	}
	if err := c.server.verify(params.Certificate, req); err != nil {
		return nil, err
	}

	c.handshaken = true
	c.certificate = params.Certificate
	c.logger.Info("websocket handshake", zap.Bool("signed", req.Signature != "" && params.Certificate != ""))

	return HandshakeResult{
		Signed:        req.Signature != "" && params.Certificate != "",
		AllowUnsigned: c.server.allowUnsigned,
	}, nil
}

// verify checks the request signature against the session certificate.
// Without a certificate, unsigned requests pass only when allowed. A session
// that presented a certificate must sign every request.
func (s *Server) verify(certificate string, req *agent.Request) error {
	if certificate != "" && req.Signature == "" {
		return ErrUnsigned
	}
	if certificate == "" {
		if s.allowUnsigned {
			return nil
		}
		return ErrUnsigned
	}

	if req.SignAlgorithm != "" && !strings.EqualFold(req.SignAlgorithm, trust.SignAlgorithm) {
		return fmt.Errorf("%w: unsupported algorithm %s", ErrBadSignature, req.SignAlgorithm)
	}
	if err := trust.Verify(certificate, req.SigningPayload(), req.Signature); err != nil {
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	return nil
}

// findPrinters returns the single matching name for a query that matches
// exactly one printer, and a list otherwise
func (c *session) findPrinters(req *agent.Request) (any, error) {
	var params agent.FindParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}

	matched := c.server.manager.Find(params.Query)
	names := make([]string, len(matched))
	for i, p := range matched {
		names[i] = p.DisplayName()
	}

	if params.Query != "" && len(names) == 1 {
		return names[0], nil
	}
	return names, nil
}

func (c *session) print(req *agent.Request) (any, error) {
	var params agent.PrintParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.Printer == "" {
		return nil, errors.New("printer is required")
	}
	if len(params.Data) == 0 {
		return nil, errors.New("nothing to print")
	}

	p, err := c.server.manager.Lookup(params.Printer)
	if err != nil {
		return nil, err
	}

	opts := jobOptions(params.Options)

	ids := make([]string, 0, len(params.Data))
	for i, data := range params.Data {
		if !data.IsBase64Image() {
			return nil, fmt.Errorf("%w: %s/%s", ErrUnsupportedData, data.Type, data.Format)
		}
		img, err := raster.Decode(data.Data)
		if err != nil {
			return nil, fmt.Errorf("data %d: %w", i, err)
		}
		ids = append(ids, c.server.queue.Enqueue(p, img, opts))
	}

	return agent.PrintResult{JobID: strings.Join(ids, ",")}, nil
}

// jobOptions maps the page geometry of a request onto the printer. The
// printable width is the page width less the side margins.
func jobOptions(cfg agent.PrintConfig) printer.Options {
	toInches := func(v float64) float64 { return v }
	switch strings.ToLower(cfg.Units) {
	case "mm":
		toInches = layout.MMToInches
	case "cm":
		toInches = func(v float64) float64 { return layout.MMToInches(v * 10) }
	}

	width := toInches(cfg.Size.Width - cfg.Margins.Left - cfg.Margins.Right)
	if width < 0 {
		width = 0
	}

	return printer.Options{
		WidthInches: width,
		Copies:      max(cfg.Copies, 1),
		Landscape:   cfg.Orientation == layout.Landscape,
		Cut:         true,
	}
}

func decodeParams(req *agent.Request, v any) error {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return fmt.Errorf("invalid %s params: %w", req.Call, err)
	}
	return nil
}

func (s *Server) addClient(c *session) {
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
}

func (s *Server) removeClient(c *session) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
}

// ClientCount returns the number of open websocket sessions
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) closeClients() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		c.conn.Close()
	}
}

func (s *Server) broadcast(event Event) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		select {
		case c.send <- event:
		default:
		}
	}
}

// BroadcastPrinterAdded notifies every client of a new printer
func (s *Server) BroadcastPrinterAdded(p *printer.Printer) {
	s.broadcast(Event{Event: EventPrinterAdded, Data: p})
	s.logger.Debug("broadcast printer added", zap.String("printer", p.DisplayName()))
}

// BroadcastPrinterRemoved notifies every client of a removed printer
func (s *Server) BroadcastPrinterRemoved(p *printer.Printer) {
	s.broadcast(Event{Event: EventPrinterRemoved, Data: gin.H{"id": p.ID, "name": p.DisplayName()}})
	s.logger.Debug("broadcast printer removed", zap.String("printer", p.DisplayName()))
}
