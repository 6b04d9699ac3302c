package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thereceipt/silent-print/internal/trust"
)

var (
	// ErrNotConnected is returned by calls that need an open session
	ErrNotConnected = errors.New("print agent is not connected")

	// ErrNoPrinters is returned when the agent reports no printers
	ErrNoPrinters = errors.New("no printers available")
)

const defaultCallTimeout = 15 * time.Second

// State is the connection state
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Status is a snapshot of the connection
type Status struct {
	State     State
	LastError string
	Printers  []string
	Printer   string
}

// PrinterStore persists the selected printer across sessions
type PrinterStore interface {
	SelectedPrinter() string
	SetSelectedPrinter(name string) error
}

// Config configures a Manager
type Config struct {
	URL         string
	CallTimeout time.Duration
	Policy      trust.Policy
	Store       PrinterStore
	// Dialer defaults to a websocket dialer
	Dialer Dialer
	Logger *zap.Logger
}

// Manager owns the single connection to the print agent. Operations are
// serialized; only one runs at a time.
type Manager struct {
	url         string
	callTimeout time.Duration
	policy      trust.Policy
	store       PrinterStore
	dial        Dialer
	logger      *zap.Logger

	mu          sync.Mutex
	transport   Transport
	state       State
	lastErr     error
	printers    []string
	selected    string
	certificate string
	trusted     bool

	updates chan Status
}

// NewManager creates a disconnected manager
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := cfg.Policy
	if policy == nil {
		policy = trust.NewUnsignedPolicy(logger)
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	dial := cfg.Dialer
	if dial == nil {
		dial = WebsocketDialer(logger)
	}

	return &Manager{
		url:         cfg.URL,
		callTimeout: timeout,
		policy:      policy,
		store:       cfg.Store,
		dial:        dial,
		logger:      logger,
		state:       StateDisconnected,
		updates:     make(chan Status, 16),
	}
}

// Updates delivers a status snapshot after every state change. Snapshots
// are dropped when the consumer falls behind.
func (m *Manager) Updates() <-chan Status {
	return m.updates
}

// Status returns the current connection snapshot
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// Printer returns the in-memory printer selection
func (m *Manager) Printer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

// SelectPrinter sets the in-memory selection. It is persisted the next
// time EnsureReady resolves it.
func (m *Manager) SelectPrinter(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.selected = name
	m.notifyLocked()
}

// EstablishTrust resolves the certificate through the trust policy. Every
// later request is signed through the same policy.
func (m *Manager) EstablishTrust(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.establishTrustLocked(ctx)
}

// Connect opens the session. It is a no-op when already connected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

// Disconnect closes the session. It is a no-op when not connected.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transport == nil {
		return nil
	}

	err := m.transport.Close()
	m.transport = nil
	m.state = StateDisconnected
	m.lastErr = nil
	m.notifyLocked()

	m.logger.Info("disconnected from print agent")
	return err
}

// EnumeratePrinters lists printers. With autoPick, the first printer is
// selected and persisted when nothing is selected yet.
func (m *Manager) EnumeratePrinters(ctx context.Context, autoPick bool) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	printers, err := m.enumerateLocked(ctx)
	if err != nil {
		return nil, err
	}

	if autoPick && m.selected == "" && len(printers) > 0 {
		m.selected = printers[0]
		m.persistLocked(m.selected)
		m.notifyLocked()
	}
	return printers, nil
}

// EnsureReady connects if needed and resolves the printer to use: the
// in-memory selection, then the persisted one, then the first enumerated.
// The chosen printer is persisted.
func (m *Manager) EnsureReady(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.connectLocked(ctx); err != nil {
		return "", err
	}

	name := m.selected
	if name == "" && m.store != nil {
		name = m.store.SelectedPrinter()
	}
	if name == "" {
		printers, err := m.enumerateLocked(ctx)
		if err != nil {
			return "", err
		}
		if len(printers) == 0 {
			return "", ErrNoPrinters
		}
		name = printers[0]
	}

	m.selected = name
	m.persistLocked(name)
	m.notifyLocked()

	return name, nil
}

// Print submits one job to printer
func (m *Manager) Print(ctx context.Context, printer string, cfg PrintConfig, data []PrintData) (PrintResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result PrintResult
	if m.state != StateConnected {
		return result, ErrNotConnected
	}

	params := PrintParams{Printer: printer, Options: cfg, Data: data}
	if err := m.callLocked(ctx, CallPrint, params, &result); err != nil {
		return result, err
	}

	m.logger.Debug("job submitted", zap.String("printer", printer), zap.String("job_id", result.JobID))
	return result, nil
}

// DefaultPrinter asks the agent for its system default printer
func (m *Manager) DefaultPrinter(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected {
		return "", ErrNotConnected
	}

	var name string
	if err := m.callLocked(ctx, CallDefaultPrinter, nil, &name); err != nil {
		return "", err
	}
	return name, nil
}

func (m *Manager) establishTrustLocked(ctx context.Context) error {
	callCtx, cancel := m.callContext(ctx)
	defer cancel()

	cert, err := m.policy.Certificate(callCtx)
	if err != nil {
		m.trusted = false
		return fmt.Errorf("failed to establish trust: %w", err)
	}

	m.certificate = cert
	m.trusted = true
	return nil
}

func (m *Manager) connectLocked(ctx context.Context) error {
	if m.state == StateConnected {
		return nil
	}

	m.state = StateConnecting
	m.notifyLocked()

	if err := m.openLocked(ctx); err != nil {
		m.state = StateDisconnected
		m.lastErr = err
		m.notifyLocked()
		m.logger.Warn("failed to connect to print agent", zap.String("url", m.url), zap.Error(err))
		return err
	}

	m.state = StateConnected
	m.lastErr = nil
	m.notifyLocked()
	m.logger.Info("connected to print agent", zap.String("url", m.url), zap.String("policy", m.policy.Name()))
	return nil
}

func (m *Manager) openLocked(ctx context.Context) error {
	if err := m.establishTrustLocked(ctx); err != nil {
		return err
	}

	callCtx, cancel := m.callContext(ctx)
	defer cancel()

	transport, err := m.dial(callCtx, m.url, m.policy.Sign)
	if err != nil {
		return err
	}

	if err := transport.Call(callCtx, CallHandshake, HandshakeParams{Certificate: m.certificate}, nil); err != nil {
		transport.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	m.transport = transport
	go m.watch(transport)
	return nil
}

// watch marks the manager disconnected when the agent drops the connection
func (m *Manager) watch(t Transport) {
	<-t.Done()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transport != t {
		return
	}
	m.transport = nil
	m.state = StateDisconnected
	m.lastErr = ErrConnectionClosed
	m.notifyLocked()
	m.logger.Warn("print agent connection lost")
}

func (m *Manager) enumerateLocked(ctx context.Context) ([]string, error) {
	if m.state != StateConnected {
		return nil, ErrNotConnected
	}

	var raw json.RawMessage
	if err := m.callLocked(ctx, CallFindPrinters, FindParams{}, &raw); err != nil {
		return nil, err
	}

	printers, err := DecodePrinters(raw)
	if err != nil {
		return nil, err
	}

	m.printers = printers
	m.notifyLocked()
	return printers, nil
}

// callLocked performs one call under the per-call timeout. Transport level
// failures drop the session.
func (m *Manager) callLocked(ctx context.Context, call string, params any, out any) error {
	callCtx, cancel := m.callContext(ctx)
	defer cancel()

	err := m.transport.Call(callCtx, call, params, out)
	if err != nil && isConnectionError(err) {
		m.transport.Close()
		m.transport = nil
		m.state = StateDisconnected
		m.lastErr = err
		m.notifyLocked()
	}
	return err
}

func (m *Manager) persistLocked(name string) {
	if m.store == nil {
		return
	}
	if err := m.store.SetSelectedPrinter(name); err != nil {
		m.logger.Warn("failed to persist printer selection", zap.String("printer", name), zap.Error(err))
	}
}

func (m *Manager) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.callTimeout)
}

func (m *Manager) statusLocked() Status {
	s := Status{
		State:    m.state,
		Printers: append([]string(nil), m.printers...),
		Printer:  m.selected,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

func (m *Manager) notifyLocked() {
	select {
	case m.updates <- m.statusLocked():
	default:
	}
}

func isConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionClosed) || errors.Is(err, context.DeadlineExceeded)
}
