// internal/trace/rank.go
package trace

import (
	"path"
	"sort"
	"strings"

	"github.com/xkilldash9x/mahoraga/api/schemas"
)

// vendorPathFragments mark frames that live in dependency or runtime code
// rather than the project under triage.
var vendorPathFragments = []string{
	"site-packages/",
	"dist-packages/",
	"/usr/lib/python",
	"/usr/local/lib/python",
	".venv/",
	"venv/lib/",
	"<frozen",
	"node_modules/",
	"node:",
	"internal/process/",
	"internal/modules/",
	"internal/timers/",
}

// vendorJavaPackages mark JVM frames by the package of the executing method,
// since Java traces carry only bare file names.
var vendorJavaPackages = []string{
	"java.",
	"javax.",
	"jdk.",
	"sun.",
	"com.sun.",
	"kotlin.",
	"scala.",
	"org.junit.",
	"org.testng.",
	"org.gradle.",
	"org.apache.",
	"org.springframework.",
	"io.netty.",
	"com.google.common.",
}

// languageExtensions maps a detected language to the file extensions that
// count as a match for ranking.
var languageExtensions = map[schemas.SourceLanguage]map[string]bool{
	schemas.LangPython:     {".py": true, ".pyx": true},
	schemas.LangJavaScript: {".js": true, ".mjs": true, ".cjs": true, ".jsx": true, ".ts": true, ".tsx": true},
	schemas.LangJava:       {".java": true},
}

// rankFrames orders frames by triage relevance and assigns 1-based ranks.
// Project code outranks vendor code, a matching extension outranks a
// mismatch, and original trace order (innermost first) breaks remaining ties.
// The sort is stable so equal frames keep their trace order.
func rankFrames(frames []schemas.StackFrame, lang schemas.SourceLanguage) []schemas.StackFrame {
	if len(frames) == 0 {
		return frames
	}

	type keyed struct {
		frame    schemas.StackFrame
		vendor   bool
		extMatch bool
	}
	ks := make([]keyed, len(frames))
	for i, f := range frames {
		ks[i] = keyed{
			frame:    f,
			vendor:   isVendorFrame(f, lang),
			extMatch: extensionMatches(f.FilePath, lang),
		}
	}

	sort.SliceStable(ks, func(i, j int) bool {
		if ks[i].vendor != ks[j].vendor {
			return !ks[i].vendor
		}
		if ks[i].extMatch != ks[j].extMatch {
			return ks[i].extMatch
		}
		return false
	})

	out := make([]schemas.StackFrame, len(ks))
	for i, k := range ks {
		k.frame.RelevanceRank = i + 1
		out[i] = k.frame
	}
	return out
}

// isVendorFrame reports whether a frame points into dependency or runtime
// code instead of the project itself.
func isVendorFrame(f schemas.StackFrame, lang schemas.SourceLanguage) bool {
	p := f.FilePath
	for _, fragment := range vendorPathFragments {
		if strings.Contains(p, fragment) {
			return true
		}
	}
	if lang == schemas.LangJava {
		for _, pkg := range vendorJavaPackages {
			if strings.HasPrefix(f.FunctionName, pkg) {
				return true
			}
		}
	}
	return false
}

// extensionMatches reports whether the file extension belongs to the
// detected language.
func extensionMatches(filePath string, lang schemas.SourceLanguage) bool {
	exts, ok := languageExtensions[lang]
	if !ok {
		return false
	}
	return exts[strings.ToLower(path.Ext(filePath))]
}
