package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/silent-print/internal/agent"
	"github.com/thereceipt/silent-print/internal/layout"
	"github.com/thereceipt/silent-print/internal/printer"
	"github.com/thereceipt/silent-print/internal/raster"
	"github.com/thereceipt/silent-print/internal/registry"
	"github.com/thereceipt/silent-print/internal/trust"
)

type recordingConn struct {
	mu     sync.Mutex
	writes int
	buf    bytes.Buffer
}

func (c *recordingConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	return c.buf.Write(p)
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

type fixture struct {
	server  *Server
	http    *httptest.Server
	queue   *printer.PrintQueue
	manager *printer.Manager
	conn    *recordingConn
	wsURL   string
}

func newFixture(t *testing.T, allowUnsigned bool) *fixture {
	t.Helper()

	reg, err := registry.New("", nil)
	require.NoError(t, err)

	detector := func(ctx context.Context, reg *registry.Registry) ([]*printer.Printer, error) {
		return nil, nil
	}
	manager := printer.NewManager(reg, printer.WithDetectors(detector))
	manager.AddNetworkPrinter("10.0.0.5", 9100, "POS-58")
	manager.AddNetworkPrinter("10.0.0.6", 9100, "Label Zebra")

	conn := &recordingConn{}
	pool := printer.NewConnectionPool(func(*printer.Printer) (printer.Connection, error) { return conn, nil }, nil)
	queue := printer.NewPrintQueue(pool, manager, 2, printer.WithRetryDelay(5*time.Millisecond))
	t.Cleanup(queue.Stop)

	server := NewServer(manager, queue, Config{AllowUnsigned: allowUnsigned})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &fixture{
		server:  server,
		http:    ts,
		queue:   queue,
		manager: manager,
		conn:    conn,
		wsURL:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (f *fixture) client(t *testing.T, policy trust.Policy) *agent.Manager {
	t.Helper()
	m := agent.NewManager(agent.Config{URL: f.wsURL, Policy: policy, CallTimeout: 5 * time.Second})
	t.Cleanup(func() { _ = m.Disconnect(context.Background()) })
	return m
}

func keyPolicy(t *testing.T) *trust.KeyPolicy {
	t.Helper()
	cert, key, err := trust.GenerateSelfSigned("silent-print test")
	require.NoError(t, err)
	p, err := trust.NewKeyPolicy(cert, key)
	require.NoError(t, err)
	return p
}

func labelImage(t *testing.T) string {
	t.Helper()
	img, err := raster.Encode(imaging.New(200, 100, color.Black), raster.Oversampling)
	require.NoError(t, err)
	return img.Data
}

type rawClient struct {
	conn *websocket.Conn
}

func dialRaw(t *testing.T, url string) *rawClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &rawClient{conn: conn}
}

func (c *rawClient) call(t *testing.T, req agent.Request) agent.Response {
	t.Helper()
	require.NoError(t, c.conn.WriteJSON(req))
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp agent.Response
	require.NoError(t, c.conn.ReadJSON(&resp))
	return resp
}

func signed(t *testing.T, p *trust.KeyPolicy, req agent.Request) agent.Request {
	t.Helper()
	sig, err := p.Sign(context.Background(), req.SigningPayload())
	require.NoError(t, err)
	req.Signature = sig
	req.SignAlgorithm = trust.SignAlgorithm
	return req
}

func handshakeParams(t *testing.T, cert string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(agent.HandshakeParams{Certificate: cert})
	require.NoError(t, err)
	return raw
}

func TestSignedSessionPrintsEndToEnd(t *testing.T) {
	f := newFixture(t, false)
	m := f.client(t, keyPolicy(t))
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))

	printers, err := m.EnumeratePrinters(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Label Zebra", "POS-58"}, printers)
	assert.Equal(t, "Label Zebra", m.Printer())

	def, err := m.DefaultPrinter(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Label Zebra", def)

	cfg := agent.PrintConfig{
		Size:      agent.Size{Width: 2.0, Height: 1.0},
		Units:     "in",
		Copies:    2,
		Rasterize: false,
	}
	res, err := m.Print(ctx, "POS-58", cfg, []agent.PrintData{agent.ImageData(labelImage(t))})
	require.NoError(t, err)
	require.NotEmpty(t, res.JobID)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	job, err := f.queue.Wait(waitCtx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, printer.StatusCompleted, job.Status)
	assert.Equal(t, "POS-58", job.PrinterName)
	assert.Equal(t, 2, job.Options.Copies)
	assert.Equal(t, 1, f.conn.Writes())
}

func TestUnsignedRejectedWhenDisallowed(t *testing.T) {
	f := newFixture(t, false)
	m := f.client(t, trust.NewUnsignedPolicy(nil))

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrUnsigned.Error())
	assert.Equal(t, agent.StateDisconnected, m.Status().State)
}

func TestUnsignedAcceptedWhenAllowed(t *testing.T) {
	f := newFixture(t, true)
	m := f.client(t, trust.NewUnsignedPolicy(nil))
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))
	printers, err := m.EnumeratePrinters(ctx, false)
	require.NoError(t, err)
	assert.Len(t, printers, 2)
}

func TestTamperedSignatureRejected(t *testing.T) {
	f := newFixture(t, false)
	policy := keyPolicy(t)
	cert, err := policy.Certificate(context.Background())
	require.NoError(t, err)

	c := dialRaw(t, f.wsURL)
	hs := signed(t, policy, agent.Request{UID: "1", Call: agent.CallHandshake, Params: handshakeParams(t, cert), Timestamp: 1})
	resp := c.call(t, hs)
	require.Empty(t, resp.Error)

	find := signed(t, policy, agent.Request{UID: "2", Call: agent.CallFindPrinters, Timestamp: 2})
	find.Timestamp = 3
	resp = c.call(t, find)
	assert.Equal(t, "2", resp.UID)
	assert.Contains(t, resp.Error, ErrBadSignature.Error())

	unsigned := agent.Request{UID: "3", Call: agent.CallFindPrinters, Timestamp: 4}
	resp = c.call(t, unsigned)
	assert.Equal(t, ErrUnsigned.Error(), resp.Error)
}

func TestSignedSessionRequiresSignatures(t *testing.T) {
	f := newFixture(t, true)
	policy := keyPolicy(t)
	cert, err := policy.Certificate(context.Background())
	require.NoError(t, err)

	c := dialRaw(t, f.wsURL)
	hs := signed(t, policy, agent.Request{UID: "1", Call: agent.CallHandshake, Params: handshakeParams(t, cert), Timestamp: 1})
	require.Empty(t, c.call(t, hs).Error)

	params, err := json.Marshal(agent.PrintParams{Printer: "POS-58", Data: []agent.PrintData{agent.ImageData(labelImage(t))}})
	require.NoError(t, err)
	resp := c.call(t, agent.Request{UID: "2", Call: agent.CallPrint, Params: params, Timestamp: 2})
	assert.Equal(t, "2", resp.UID)
	assert.Equal(t, ErrUnsigned.Error(), resp.Error)
	assert.Empty(t, f.queue.GetAllJobs())

	resp = c.call(t, signed(t, policy, agent.Request{UID: "3", Call: agent.CallPrint, Params: params, Timestamp: 3}))
	require.Empty(t, resp.Error)
	assert.Len(t, f.queue.GetAllJobs(), 1)
}

func TestPrintAcceptsImagePayloads(t *testing.T) {
	f := newFixture(t, true)
	c := dialRaw(t, f.wsURL)
	require.Empty(t, c.call(t, agent.Request{UID: "h", Call: agent.CallHandshake}).Error)

	data := labelImage(t)
	payloads := []string{
		`{"printer":"POS-58","data":[{"type":"image","format":"base64","data":"` + data + `"}]}`,
		`{"printer":"POS-58","data":[{"type":"pixel","format":"image","flavor":"base64","data":"` + data + `"}]}`,
	}
	for i, params := range payloads {
		resp := c.call(t, agent.Request{UID: "p", Call: agent.CallPrint, Params: json.RawMessage(params)})
		require.Empty(t, resp.Error, "payload %d", i)

		var res agent.PrintResult
		require.NoError(t, json.Unmarshal(resp.Result, &res))
		assert.NotEmpty(t, res.JobID)
	}
	assert.Len(t, f.queue.GetAllJobs(), 2)
}

func TestCallsRequireHandshake(t *testing.T) {
	f := newFixture(t, true)
	c := dialRaw(t, f.wsURL)

	resp := c.call(t, agent.Request{UID: "a", Call: agent.CallFindPrinters})
	assert.Equal(t, ErrHandshakeRequired.Error(), resp.Error)

	resp = c.call(t, agent.Request{UID: "b", Call: agent.CallHandshake})
	require.Empty(t, resp.Error)

	resp = c.call(t, agent.Request{UID: "c", Call: "printers.details"})
	assert.Contains(t, resp.Error, ErrUnknownCall.Error())
}

func TestFindPrinters(t *testing.T) {
	f := newFixture(t, true)
	c := dialRaw(t, f.wsURL)
	require.Empty(t, c.call(t, agent.Request{UID: "h", Call: agent.CallHandshake}).Error)

	query := func(q string) []string {
		params, err := json.Marshal(agent.FindParams{Query: q})
		require.NoError(t, err)
		resp := c.call(t, agent.Request{UID: "f", Call: agent.CallFindPrinters, Params: params})
		require.Empty(t, resp.Error)
		names, err := agent.DecodePrinters(resp.Result)
		require.NoError(t, err)
		return names
	}

	assert.Equal(t, []string{"Label Zebra", "POS-58"}, query(""))
	assert.Equal(t, []string{"POS-58"}, query("pos"))
	assert.Empty(t, query("laser"))

	params, _ := json.Marshal(agent.FindParams{Query: "zebra"})
	resp := c.call(t, agent.Request{UID: "s", Call: agent.CallFindPrinters, Params: params})
	assert.JSONEq(t, `"Label Zebra"`, string(resp.Result))
}

func TestPrintRejectsBadRequests(t *testing.T) {
	f := newFixture(t, true)
	c := dialRaw(t, f.wsURL)
	require.Empty(t, c.call(t, agent.Request{UID: "h", Call: agent.CallHandshake}).Error)

	printCall := func(p agent.PrintParams) agent.Response {
		params, err := json.Marshal(p)
		require.NoError(t, err)
		return c.call(t, agent.Request{UID: "p", Call: agent.CallPrint, Params: params})
	}

	resp := printCall(agent.PrintParams{Printer: "Nope", Data: []agent.PrintData{agent.ImageData(labelImage(t))}})
	assert.Contains(t, resp.Error, printer.ErrPrinterNotFound.Error())

	resp = printCall(agent.PrintParams{Printer: "POS-58"})
	assert.Equal(t, "nothing to print", resp.Error)

	resp = printCall(agent.PrintParams{Printer: "POS-58", Data: []agent.PrintData{{Type: "raw", Format: "command", Flavor: "plain", Data: "x"}}})
	assert.Contains(t, resp.Error, ErrUnsupportedData.Error())

	resp = printCall(agent.PrintParams{Printer: "POS-58", Data: []agent.PrintData{agent.ImageData("not-base64!")}})
	assert.NotEmpty(t, resp.Error)
	assert.Empty(t, f.queue.GetAllJobs())
}

func TestJobOptions(t *testing.T) {
	opts := jobOptions(agent.PrintConfig{
		Size:        agent.Size{Width: 80, Height: 120},
		Units:       "mm",
		Margins:     layout.MarginsInches{Left: 4, Right: 4},
		Orientation: layout.Landscape,
	})
	assert.InDelta(t, 72/25.4, opts.WidthInches, 1e-9)
	assert.Equal(t, 1, opts.Copies)
	assert.True(t, opts.Landscape)
	assert.True(t, opts.Cut)

	opts = jobOptions(agent.PrintConfig{Size: agent.Size{Width: 1}, Margins: layout.MarginsInches{Left: 1, Right: 1}, Copies: 3})
	assert.Zero(t, opts.WidthInches)
	assert.Equal(t, 3, opts.Copies)
}

func TestHTTPEndpoints(t *testing.T) {
	f := newFixture(t, true)

	get := func(path string) (int, map[string]any) {
		resp, err := http.Get(f.http.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	status, body := get("/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 2, body["printers"])

	status, body = get("/printers")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Label Zebra", body["default"])

	status, _ = get("/job/unknown")
	assert.Equal(t, http.StatusNotFound, status)

	p, err := f.manager.Lookup("POS-58")
	require.NoError(t, err)
	id := f.queue.Enqueue(p, imaging.New(8, 8, color.Black), printer.Options{})

	status, body = get("/jobs")
	assert.Equal(t, http.StatusOK, status)
	jobs, ok := body["jobs"].([]any)
	require.True(t, ok)
	assert.Len(t, jobs, 1)

	status, body = get("/job/" + id)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "POS-58", body["printer"])

	resp, err := http.Post(f.http.URL+"/printer/network", "application/json", strings.NewReader(`{"host":"10.0.0.7"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, f.manager.Printers(), 3)

	resp, err = http.Post(f.http.URL+"/printer/network", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(f.http.URL+"/printer/"+p.ID+"/name", "application/json", strings.NewReader(`{"name":"Front"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = f.manager.Lookup("front")
	assert.NoError(t, err)
}
