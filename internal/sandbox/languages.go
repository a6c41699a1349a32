package sandbox

import (
	"sort"
	"strings"

	"github.com/hirelab/assessor/types"
)

var catalog = map[string]types.Language{
	"c":          {Name: "c", SandboxID: 50, Version: "GCC 9.2.0"},
	"cpp":        {Name: "cpp", SandboxID: 54, Version: "GCC 9.2.0"},
	"csharp":     {Name: "csharp", SandboxID: 51, Version: "Mono 6.6.0.161"},
	"go":         {Name: "go", SandboxID: 60, Version: "1.13.5"},
	"java":       {Name: "java", SandboxID: 62, Version: "OpenJDK 13.0.1"},
	"javascript": {Name: "javascript", SandboxID: 63, Version: "Node.js 12.14.0"},
	"python":     {Name: "python", SandboxID: 71, Version: "3.8.1"},
	"typescript": {Name: "typescript", SandboxID: 74, Version: "3.7.4"},
}

var aliases = map[string]string{
	"c++":     "cpp",
	"cs":      "csharp",
	"golang":  "go",
	"js":      "javascript",
	"node":    "javascript",
	"py":      "python",
	"python3": "python",
	"ts":      "typescript",
}

// CanonicalLanguage normalizes a client supplied language name.
func CanonicalLanguage(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

// LookupLanguage returns the catalog entry for name or one of its aliases.
func LookupLanguage(name string) (types.Language, bool) {
	lang, ok := catalog[CanonicalLanguage(name)]
	return lang, ok
}

// LanguageNames lists every supported language, sorted.
func LanguageNames() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
