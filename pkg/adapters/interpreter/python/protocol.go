package python

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Bridge operations.
const (
	opCreate   = "create"
	opCall     = "call"
	opExtract  = "extract"
	opShutdown = "shutdown"
)

type request struct {
	ID   int    `json:"id"`
	Op   string `json:"op"`
	Args any    `json:"args,omitempty"`
}

type response struct {
	ID     int             `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ExternalError  `json:"error,omitempty"`
}

type createArgs struct {
	Genes          []string  `json:"genes"`
	Cells          []string  `json:"cells"`
	Spliced        []float64 `json:"spliced"`
	SplicedShape   [2]int    `json:"spliced_shape"`
	Unspliced      []float64 `json:"unspliced"`
	UnsplicedShape [2]int    `json:"unspliced_shape"`
}

type callArgs struct {
	Function string         `json:"function"`
	Kwargs   map[string]any `json:"kwargs"`
}

type extractArgs struct {
	IncludeAnnData bool `json:"include_anndata"`
}

// Handshake is the first message a bridge writes.
type Handshake struct {
	Python  string `json:"python"`
	Scvelo  string `json:"scvelo"`
	AnnData string `json:"anndata"`
}

// ExternalError is an exception raised inside the interpreter. It is
// returned to callers as-is.
type ExternalError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ProtocolError reports a malformed or unexpected bridge message, or a
// bridge that exited mid-request.
type ProtocolError struct {
	Op     string
	Reason string
	Stderr []string
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("interpreter %s: %s", e.Op, e.Reason)
	if len(e.Stderr) > 0 {
		msg += "\n" + strings.Join(e.Stderr, "\n")
	}
	return msg
}
