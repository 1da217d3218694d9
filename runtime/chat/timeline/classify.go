package timeline

import "strings"

// Category buckets tool identifiers for compact display. The mapping is a
// closed table so call sites never string-match tool names inline.
type Category string

const (
	// CategorySearch covers web and knowledge-base lookup tools.
	CategorySearch Category = "search"
	// CategoryBrowser covers browser automation tools.
	CategoryBrowser Category = "browser"
	// CategoryCode covers code execution and sandbox tools.
	CategoryCode Category = "code"
	// CategoryFile covers file read/write tools.
	CategoryFile Category = "file"
	// CategoryGeneric covers everything else.
	CategoryGeneric Category = "generic"
)

// toolCategories is the closed classification table. Exact tool identifiers
// only; prefixed browser tools are handled by Classify.
var toolCategories = map[string]Category{
	"web_search":         CategorySearch,
	"search":             CategorySearch,
	"knowledge_search":   CategorySearch,
	"retrieve":           CategorySearch,
	"code_interpreter":   CategoryCode,
	"execute_code":       CategoryCode,
	"run_python":         CategoryCode,
	"sandbox":            CategoryCode,
	"read_file":          CategoryFile,
	"write_file":         CategoryFile,
	"list_files":         CategoryFile,
	"file_upload":        CategoryFile,
	"browser":            CategoryBrowser,
	"browser_navigate":   CategoryBrowser,
	"browser_click":      CategoryBrowser,
	"browser_type":       CategoryBrowser,
	"browser_screenshot": CategoryBrowser,
}

// Classify maps a tool identifier to its display category.
func Classify(tool string) Category {
	if c, ok := toolCategories[tool]; ok {
		return c
	}
	if strings.HasPrefix(tool, "browser_") {
		return CategoryBrowser
	}
	return CategoryGeneric
}
