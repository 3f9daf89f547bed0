// internal/analyzer/context.go
package analyzer

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
)

// maxFunctionLines caps the enclosing-function excerpt; oversized functions
// fall back to the fixed window so the prompt stays bounded.
const maxFunctionLines = 200

// functionNodeTypes lists the AST node kinds treated as an enclosing function
// per grammar.
var functionNodeTypes = map[schemas.SourceLanguage]map[string]bool{
	schemas.LangPython: {
		"function_definition": true,
	},
	schemas.LangJavaScript: {
		"function_declaration":           true,
		"function":                       true,
		"arrow_function":                 true,
		"generator_function":             true,
		"generator_function_declaration": true,
		"method_definition":              true,
	},
	schemas.LangJava: {
		"method_declaration":      true,
		"constructor_declaration": true,
	},
}

// ContextExtractor pulls the source surrounding a crash site out of the
// repository head. Everything here is best-effort: a missing file, an
// unknown language, or a parse failure degrades to a smaller excerpt or to
// no context at all, never to an error.
type ContextExtractor struct {
	logger       *zap.Logger
	history      schemas.HistoryProvider
	contextLines int
}

// NewContextExtractor wires the extractor to a history provider. contextLines
// is the fallback window radius around the crash line.
func NewContextExtractor(logger *zap.Logger, history schemas.HistoryProvider, contextLines int) *ContextExtractor {
	if contextLines <= 0 {
		contextLines = 15
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextExtractor{
		logger:       logger.Named("context-extractor"),
		history:      history,
		contextLines: contextLines,
	}
}

// Extract returns an annotated source excerpt framing the most relevant
// stack frame, or "" when no usable frame or file content exists.
func (e *ContextExtractor) Extract(ctx context.Context, parsed *schemas.ParsedReport) string {
	frame := parsed.TopFrame()
	if frame == nil || frame.FilePath == "" {
		return ""
	}

	content, err := e.history.FileAtHead(ctx, frame.FilePath)
	if err != nil || content == "" {
		e.logger.Debug("No file content available for code context",
			zap.String("file", frame.FilePath),
			zap.Error(err),
		)
		return ""
	}

	if snip, ok := e.enclosingFunction(ctx, parsed.SourceLanguage, content, frame.LineNumber); ok {
		return formatExcerpt(frame.FilePath, snip)
	}
	return formatExcerpt(frame.FilePath, lineWindow(content, frame.LineNumber, e.contextLines))
}

// excerpt is a contiguous slice of a source file; startLine is 1-based.
type excerpt struct {
	startLine int
	text      string
}

// enclosingFunction parses the file with the language's tree-sitter grammar
// and walks up from the crash line to the nearest function-like ancestor.
func (e *ContextExtractor) enclosingFunction(ctx context.Context, lang schemas.SourceLanguage, content string, line int) (excerpt, bool) {
	grammar := grammarFor(lang)
	if grammar == nil || line < 1 {
		return excerpt{}, false
	}

	parser := sitter.NewParser()
	parser.SetLanguage(grammar)

	source := []byte(content)
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		e.logger.Debug("Tree-sitter parse failed, using line window",
			zap.String("language", string(lang)),
			zap.Error(err),
		)
		return excerpt{}, false
	}
	defer tree.Close()

	// tree-sitter rows are 0-based.
	point := sitter.Point{Row: uint32(line - 1), Column: 0}
	node := tree.RootNode().NamedDescendantForPointRange(point, point)
	for node != nil {
		if functionNodeTypes[lang][node.Type()] {
			start := int(node.StartPoint().Row) + 1
			end := int(node.EndPoint().Row) + 1
			if end-start+1 > maxFunctionLines {
				return excerpt{}, false
			}
			return excerpt{startLine: start, text: node.Content(source)}, true
		}
		node = node.Parent()
	}
	return excerpt{}, false
}

func grammarFor(lang schemas.SourceLanguage) *sitter.Language {
	switch lang {
	case schemas.LangPython:
		return python.GetLanguage()
	case schemas.LangJavaScript:
		return javascript.GetLanguage()
	case schemas.LangJava:
		return java.GetLanguage()
	default:
		return nil
	}
}

// lineWindow cuts a window of radius lines around the crash line, clamped to
// the file bounds.
func lineWindow(content string, line, radius int) excerpt {
	lines := strings.Split(content, "\n")
	if line < 1 {
		line = 1
	}
	if line > len(lines) {
		line = len(lines)
	}

	start := line - radius
	if start < 1 {
		start = 1
	}
	end := line + radius
	if end > len(lines) {
		end = len(lines)
	}
	return excerpt{startLine: start, text: strings.Join(lines[start-1:end], "\n")}
}

func formatExcerpt(filePath string, ex excerpt) string {
	text := strings.TrimRight(ex.text, "\n")
	endLine := ex.startLine + strings.Count(text, "\n")
	return fmt.Sprintf("Source: %s (lines %d-%d)\n%s", filePath, ex.startLine, endLine, text)
}
