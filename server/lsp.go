package server

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/bfjit/pkg/instr"
	"github.com/chazu/bfjit/pkg/jumps"
	"github.com/chazu/bfjit/pkg/lexer"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "bfjit-lsp"

// LspServer publishes bracket diagnostics and instruction hovers.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentHover: s.textDocumentHover,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "bfjit LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.HoverProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// --- Language features ---

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	s.mu.Lock()
	text, ok := s.docs[string(params.TextDocument.URI)]
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}
	return hover(text, params.Position), nil
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnose(text),
	})
}

// --- Analysis ---

var symbolDocs = map[byte]string{
	'>': "Move the data pointer one cell right.",
	'<': "Move the data pointer one cell left.",
	'+': "Increment the current cell, wrapping at 256.",
	'-': "Decrement the current cell, wrapping at 0.",
	'.': "Write the current cell as one byte of output.",
	'[': "Jump past the matching `]` if the current cell is zero.",
	']': "Jump back to the matching `[` if the current cell is nonzero.",
	',': "Input is not supported; this symbol is ignored.",
}

// bracketScan matches every bracket in text by byte offset and collects the
// offsets of unmatched ones.
type bracketScan struct {
	pairs          *jumps.Map
	unmatchedOpen  []int
	unmatchedClose []int
	inputs         []int
}

func scan(text string) bracketScan {
	r := jumps.NewResolver()
	var sc bracketScan
	for off, op := range lexer.TokenizeWithOffsets([]byte(text)) {
		switch op {
		case instr.JumpForward:
			r.Open(off)
		case instr.JumpBackwards:
			if err := r.Close(off); err != nil {
				sc.unmatchedClose = append(sc.unmatchedClose, off)
			}
		}
	}
	sc.unmatchedOpen = r.Pending()
	sc.pairs = r.Matched()
	for off := 0; off < len(text); off++ {
		if text[off] == instr.InputSymbol {
			sc.inputs = append(sc.inputs, off)
		}
	}
	return sc
}

// diagnose reports unmatched brackets as errors and input symbols as
// warnings.
func diagnose(text string) []protocol.Diagnostic {
	sc := scan(text)
	diagnostics := []protocol.Diagnostic{}

	add := func(off int, severity protocol.DiagnosticSeverity, msg string) {
		source := lspName
		start := positionAt(text, off)
		end := start
		end.Character++
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    protocol.Range{Start: start, End: end},
			Severity: &severity,
			Source:   &source,
			Message:  msg,
		})
	}

	for _, off := range sc.unmatchedOpen {
		add(off, protocol.DiagnosticSeverityError, "unmatched opening bracket")
	}
	for _, off := range sc.unmatchedClose {
		add(off, protocol.DiagnosticSeverityError, "unmatched closing bracket")
	}
	for _, off := range sc.inputs {
		add(off, protocol.DiagnosticSeverityWarning, "input is not supported; ',' is ignored")
	}
	return diagnostics
}

// hover describes the symbol under the cursor.
func hover(text string, pos protocol.Position) *protocol.Hover {
	off, ok := offsetAt(text, pos)
	if !ok {
		return nil
	}
	c := text[off]
	doc, ok := symbolDocs[c]
	if !ok {
		return nil
	}

	var b strings.Builder
	if op, ok := instr.FromSymbol(c); ok {
		fmt.Fprintf(&b, "**%s** `%c`\n\n", op, c)
	} else {
		fmt.Fprintf(&b, "`%c`\n\n", c)
	}
	b.WriteString(doc)

	pairs := scan(text).pairs
	partner, found := pairs.Close(off)
	if !found {
		partner, found = pairs.Open(off)
	}
	if found {
		p := positionAt(text, partner)
		fmt.Fprintf(&b, "\n\nMatches line %d, column %d.", p.Line+1, p.Character+1)
	}

	start := positionAt(text, off)
	end := start
	end.Character++
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
		Range: &protocol.Range{Start: start, End: end},
	}
}

// --- Text position helpers ---

// Positions count UTF-16 code units within a line, as LSP clients send them.

// positionAt converts a byte offset to a line and UTF-16 column.
func positionAt(text string, off int) protocol.Position {
	line := strings.Count(text[:off], "\n")
	var col int
	for _, r := range text[strings.LastIndexByte(text[:off], '\n')+1 : off] {
		col += utf16.RuneLen(r)
	}
	return protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col)}
}

// offsetAt converts a position to a byte offset, reporting whether it falls
// on a character.
func offsetAt(text string, pos protocol.Position) (int, bool) {
	off := pos.IndexIn(text)
	if off >= len(text) || text[off] == '\n' {
		return 0, false
	}
	// IndexIn clamps to the line and maps misses to 0; only an exact
	// round trip is a hit.
	if positionAt(text, off) != pos {
		return 0, false
	}
	return off, true
}

func boolPtr(b bool) *bool {
	return &b
}
