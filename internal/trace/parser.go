// internal/trace/parser.go

// Package trace turns raw bug report text into structured stack frames. The
// parser is deliberately total: any input, including garbage, produces a
// usable ParsedReport. When no recognizable trace exists it degrades to
// keyword extraction instead of failing.
package trace

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/mahoraga/api/schemas"
)

// Regex definitions for the supported stack trace conventions.
var (
	// Python: File "/app/handlers.py", line 42, in handle_request
	pythonFrameRegex     = regexp.MustCompile(`^\s*File "([^"]+)", line (\d+)(?:, in (.+))?$`)
	pythonTracebackRegex = regexp.MustCompile(`^Traceback \(most recent call last\):`)
	// Final line of a Python traceback: "ValueError: invalid literal ...".
	pythonErrorRegex = regexp.MustCompile(`^([A-Za-z_][\w.]*)\s*:\s*(.*)$`)
	pythonBareRegex  = regexp.MustCompile(`^([A-Za-z_][\w.]*)$`)

	// JavaScript: "at formatUser (/app/src/render.js:12:18)" or "at /app/src/server.js:44:9".
	jsFrameParenRegex = regexp.MustCompile(`^\s*at\s+(.+?)\s+\(([^()]+):(\d+):(\d+)\)$`)
	jsFrameBareRegex  = regexp.MustCompile(`^\s*at\s+([^()\s]+):(\d+):(\d+)$`)
	jsHeadRegex       = regexp.MustCompile(`^([A-Za-z_$][\w$.]*)\s*:\s*(.+)$`)

	// Java: "at com.acme.billing.InvoiceService.total(InvoiceService.java:87)".
	// An optional module prefix (java.base/) is matched and discarded.
	javaFrameRegex    = regexp.MustCompile(`^\s*at\s+(?:[\w.]+/)?([\w$.<>\[\]]+)\(([^:()]+):(\d+)\)$`)
	javaHeadRegex     = regexp.MustCompile(`^(?:Exception in thread "[^"]*"\s+)?([\w$.]*(?:Exception|Error|Throwable)[\w$]*)(?::\s*(.*))?$`)
	javaCausedByRegex = regexp.MustCompile(`^Caused by:\s+([\w$.]+)(?::\s*(.*))?$`)
)

// Parser extracts structured frames from raw report text.
type Parser struct{}

// NewParser creates a stack trace parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseReport parses a bug report's title and body. The report's language
// hint participates only as a detection tie-break.
func (p *Parser) ParseReport(report *schemas.BugReport) *schemas.ParsedReport {
	if report == nil {
		return &schemas.ParsedReport{SourceLanguage: schemas.LangUnknown, ExtractedKeywords: []string{}}
	}
	raw := report.Title
	if report.Body != "" {
		raw = raw + "\n" + report.Body
	}
	return p.Parse(raw, report.HintLanguage)
}

// Parse interprets raw text and always returns a well formed result. Frames
// come back ordered by relevance with RelevanceRank assigned; when no trace is
// recognized the result carries keywords only and SourceLanguage unknown.
func (p *Parser) Parse(rawText string, hint schemas.SourceLanguage) *schemas.ParsedReport {
	lines := splitLines(rawText)

	lang := detectLanguage(lines, hint)

	parsed := &schemas.ParsedReport{
		SourceLanguage:    lang,
		ExtractedKeywords: ExtractKeywords(rawText, maxKeywords),
	}

	switch lang {
	case schemas.LangPython:
		p.parsePython(lines, parsed)
	case schemas.LangJavaScript:
		p.parseJavaScript(lines, parsed)
	case schemas.LangJava:
		p.parseJava(lines, parsed)
	}

	// A detected language with nothing extractable is treated the same as no
	// detection: keywords only.
	if len(parsed.Frames) == 0 && parsed.ErrorType == "" {
		parsed.SourceLanguage = schemas.LangUnknown
		parsed.Frames = nil
	} else {
		parsed.Frames = rankFrames(parsed.Frames, parsed.SourceLanguage)
	}

	return parsed
}

const maxKeywords = 20

// splitLines normalizes line endings and splits the input.
func splitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "\n")
}

// detectLanguage counts convention indicators per language and picks the
// strongest signal. The hint only breaks exact ties; it never overrides a
// clear winner and never invents a detection on its own.
func detectLanguage(lines []string, hint schemas.SourceLanguage) schemas.SourceLanguage {
	var py, js, java int
	for _, line := range lines {
		switch {
		case pythonFrameRegex.MatchString(line):
			py += 2
		case pythonTracebackRegex.MatchString(line):
			py += 2
		case jsFrameParenRegex.MatchString(line), jsFrameBareRegex.MatchString(line):
			js += 2
		case javaFrameRegex.MatchString(line):
			java += 2
		case javaCausedByRegex.MatchString(line):
			java += 2
		case strings.HasPrefix(line, "Exception in thread "):
			java += 2
		}
	}

	best, bestScore, tied := schemas.LangUnknown, 0, false
	for _, c := range []struct {
		lang  schemas.SourceLanguage
		score int
	}{
		{schemas.LangPython, py},
		{schemas.LangJavaScript, js},
		{schemas.LangJava, java},
	} {
		if c.score > bestScore {
			best, bestScore, tied = c.lang, c.score, false
		} else if c.score == bestScore && c.score > 0 {
			tied = true
		}
	}

	if bestScore == 0 {
		return schemas.LangUnknown
	}
	if tied && (hint == schemas.LangPython || hint == schemas.LangJavaScript || hint == schemas.LangJava) {
		return hint
	}
	return best
}

// parsePython extracts frames from Python tracebacks. Python prints the
// innermost frame last, so collected frames are reversed to the innermost
// first orientation used everywhere else.
func (p *Parser) parsePython(lines []string, parsed *schemas.ParsedReport) {
	var frames []schemas.StackFrame
	lastFrameLine := -1
	for i, line := range lines {
		m := pythonFrameRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lastFrameLine = i
		lineNumber, _ := strconv.Atoi(m[2])
		if lineNumber < 1 {
			continue
		}
		frames = append(frames, schemas.StackFrame{
			FilePath:     m[1],
			LineNumber:   lineNumber,
			FunctionName: m[3],
			RawText:      strings.TrimSpace(line),
		})
	}

	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
	parsed.Frames = frames

	// The exception line follows the last frame block at column zero. Code
	// snippet lines in between are indented, which excludes them here. Issue
	// bodies often continue with prose after the traceback, so only lines
	// whose leading token is shaped like an exception name may overwrite an
	// earlier find; a single generic "Name: message" line is accepted when
	// nothing better exists (custom exception classes).
	genericUsed := false
	for i := lastFrameLine + 1; i >= 0 && i < len(lines); i++ {
		line := lines[i]
		if line == "" || strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			continue
		}
		if m := pythonErrorRegex.FindStringSubmatch(line); m != nil {
			name := m[1]
			if looksLikeExceptionName(lastDottedSegment(name)) {
				// Chained tracebacks put the propagated exception last;
				// keep overwriting.
				parsed.ErrorType = name
				parsed.ErrorMessage = strings.TrimSpace(m[2])
			} else if !genericUsed && parsed.ErrorType == "" {
				parsed.ErrorType = name
				parsed.ErrorMessage = strings.TrimSpace(m[2])
				genericUsed = true
			}
			continue
		}
		if m := pythonBareRegex.FindStringSubmatch(line); m != nil && looksLikeExceptionName(lastDottedSegment(m[1])) {
			parsed.ErrorType = m[1]
			parsed.ErrorMessage = ""
		}
	}
}

// lastDottedSegment returns the trailing segment of a dotted name, so that
// "requests.exceptions.ConnectionError" is judged by "ConnectionError".
func lastDottedSegment(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

// looksLikeExceptionName filters bare final lines such as "KeyboardInterrupt"
// from prose that happens to sit at column zero.
func looksLikeExceptionName(s string) bool {
	if strings.HasSuffix(s, "Error") || strings.HasSuffix(s, "Exception") || strings.HasSuffix(s, "Warning") {
		return true
	}
	switch s {
	case "KeyboardInterrupt", "SystemExit", "StopIteration", "StopAsyncIteration", "GeneratorExit":
		return true
	}
	return false
}

// parseJavaScript extracts V8-style frames. The innermost frame comes first
// in the raw text, so no reordering is needed.
func (p *Parser) parseJavaScript(lines []string, parsed *schemas.ParsedReport) {
	firstFrameLine := -1
	for i, line := range lines {
		var frame schemas.StackFrame
		if m := jsFrameParenRegex.FindStringSubmatch(line); m != nil {
			lineNumber, _ := strconv.Atoi(m[3])
			frame = schemas.StackFrame{
				FilePath:     m[2],
				LineNumber:   lineNumber,
				FunctionName: m[1],
				RawText:      strings.TrimSpace(line),
			}
		} else if m := jsFrameBareRegex.FindStringSubmatch(line); m != nil {
			lineNumber, _ := strconv.Atoi(m[2])
			frame = schemas.StackFrame{
				FilePath:   m[1],
				LineNumber: lineNumber,
				RawText:    strings.TrimSpace(line),
			}
		} else {
			continue
		}
		if firstFrameLine == -1 {
			firstFrameLine = i
		}
		if frame.LineNumber < 1 {
			continue
		}
		parsed.Frames = append(parsed.Frames, frame)
	}

	// The error head sits just above the first frame.
	for i := firstFrameLine - 1; i >= 0 && i >= firstFrameLine-5; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if m := jsHeadRegex.FindStringSubmatch(line); m != nil {
			parsed.ErrorType = m[1]
			parsed.ErrorMessage = strings.TrimSpace(m[2])
		}
		break
	}
}

// parseJava extracts JVM frames, following Caused by chains. The deepest
// cause is reported as the error type because that is the actual defect; the
// head exception is usually a wrapper. Frames belonging to the deepest cause
// are moved to the front so the defect site leads the trace order.
func (p *Parser) parseJava(lines []string, parsed *schemas.ParsedReport) {
	headSeen := false
	causeStart := -1
	for _, line := range lines {
		if m := javaFrameRegex.FindStringSubmatch(line); m != nil {
			lineNumber, _ := strconv.Atoi(m[3])
			if lineNumber < 1 {
				continue
			}
			parsed.Frames = append(parsed.Frames, schemas.StackFrame{
				FilePath:     m[2],
				LineNumber:   lineNumber,
				FunctionName: m[1],
				RawText:      strings.TrimSpace(line),
			})
			continue
		}
		if m := javaCausedByRegex.FindStringSubmatch(line); m != nil {
			// Later causes are deeper; keep overwriting.
			parsed.ErrorType = m[1]
			parsed.ErrorMessage = strings.TrimSpace(m[2])
			causeStart = len(parsed.Frames)
			continue
		}
		if !headSeen {
			trimmed := strings.TrimSpace(line)
			if m := javaHeadRegex.FindStringSubmatch(trimmed); m != nil {
				parsed.ErrorType = m[1]
				parsed.ErrorMessage = strings.TrimSpace(m[2])
				headSeen = true
			}
		}
	}

	if causeStart > 0 && causeStart < len(parsed.Frames) {
		rotated := make([]schemas.StackFrame, 0, len(parsed.Frames))
		rotated = append(rotated, parsed.Frames[causeStart:]...)
		rotated = append(rotated, parsed.Frames[:causeStart]...)
		parsed.Frames = rotated
	}
}
