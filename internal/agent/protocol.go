// Package agent talks to the local print agent over its websocket channel
// and tracks the connection, the printer list and the selected printer.
package agent

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/thereceipt/silent-print/internal/layout"
)

// Agent calls
const (
	CallHandshake      = "websocket.handshake"
	CallFindPrinters   = "printers.find"
	CallDefaultPrinter = "printers.getDefault"
	CallPrint          = "print"
)

// Request is one call sent to the agent
type Request struct {
	UID           string          `json:"uid"`
	Call          string          `json:"call"`
	Params        json.RawMessage `json:"params,omitempty"`
	Timestamp     int64           `json:"timestamp"`
	Signature     string          `json:"signature,omitempty"`
	SignAlgorithm string          `json:"signAlgorithm,omitempty"`
}

// SigningPayload is the canonical string covered by the request signature
func (r *Request) SigningPayload() string {
	return r.Call + "|" + r.UID + "|" + strconv.FormatInt(r.Timestamp, 10) + "|" + string(r.Params)
}

// Response answers the request with the same UID
type Response struct {
	UID    string          `json:"uid"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// HandshakeParams opens a session
type HandshakeParams struct {
	Certificate string `json:"certificate,omitempty"`
}

// FindParams filters printers by name. An empty query lists all.
type FindParams struct {
	Query string `json:"query,omitempty"`
}

// Size is a page size in inches
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PrintConfig describes the physical page of a job
type PrintConfig struct {
	Size        Size                 `json:"size"`
	Units       string               `json:"units"`
	Margins     layout.MarginsInches `json:"margins"`
	Orientation layout.Orientation   `json:"orientation"`
	Copies      int                  `json:"copies"`
	Rasterize   bool                 `json:"rasterize"`
}

// PrintData is one payload of a job
type PrintData struct {
	Type   string `json:"type"`
	Format string `json:"format"`
	Flavor string `json:"flavor,omitempty"`
	Data   string `json:"data"`
}

// ImageData wraps a base64 PNG payload
func ImageData(base64PNG string) PrintData {
	return PrintData{Type: "image", Format: "base64", Data: base64PNG}
}

// IsBase64Image reports whether d carries a base64 encoded image. The
// pixel/image/base64 triple is accepted as an alias.
func (d PrintData) IsBase64Image() bool {
	if strings.EqualFold(d.Type, "image") && strings.EqualFold(d.Format, "base64") {
		return true
	}
	return strings.EqualFold(d.Type, "pixel") && strings.EqualFold(d.Format, "image") && strings.EqualFold(d.Flavor, "base64")
}

// PrintParams submits a job to a named printer
type PrintParams struct {
	Printer string      `json:"printer"`
	Options PrintConfig `json:"options"`
	Data    []PrintData `json:"data"`
}

// PrintResult acknowledges a submitted job
type PrintResult struct {
	JobID string `json:"jobId"`
}

// RemoteError is an error reported by the agent itself
type RemoteError struct {
	Call    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("agent %s: %s", e.Call, e.Message)
}

// DecodePrinters accepts either a single printer name or a list
func DecodePrinters(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []string{}, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return []string{}, nil
		}
		return []string{single}, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("unexpected printer list: %w", err)
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}

