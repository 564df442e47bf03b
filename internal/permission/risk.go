package permission

import (
	"fmt"
	"sort"
	"strings"
)

// RiskLevel represents the assessed risk of a tool invocation.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Category groups tools by the kind of effect they have.
type Category string

const (
	CategoryRead     Category = "read"
	CategoryWrite    Category = "write"
	CategoryExecute  Category = "execute"
	CategoryNetwork  Category = "network"
	CategoryTask     Category = "task"
	CategoryPlanning Category = "planning"
	CategoryOther    Category = "other"
)

// Classification is the static risk assessment shown to the user alongside a
// permission request.
type Classification struct {
	RiskLevel RiskLevel
	Category  Category
	Summary   string
}

const maxSummaryLen = 100

type toolProfile struct {
	risk     RiskLevel
	category Category
}

// Static risk table. Read-only tools are low, file mutations medium, shell
// execution and network access high. Unknown tools default to medium.
var toolProfiles = map[string]toolProfile{
	"Read":         {RiskLow, CategoryRead},
	"Glob":         {RiskLow, CategoryRead},
	"Grep":         {RiskLow, CategoryRead},
	"LS":           {RiskLow, CategoryRead},
	"NotebookRead": {RiskLow, CategoryRead},
	"TodoRead":     {RiskLow, CategoryPlanning},
	"TodoWrite":    {RiskLow, CategoryPlanning},
	"ExitPlanMode": {RiskLow, CategoryPlanning},

	"AskUserQuestion": {RiskLow, CategoryOther},

	"Write":        {RiskMedium, CategoryWrite},
	"Edit":         {RiskMedium, CategoryWrite},
	"MultiEdit":    {RiskMedium, CategoryWrite},
	"NotebookEdit": {RiskMedium, CategoryWrite},

	// Subagent tool calls are gated individually, so launching one is not
	// itself high risk.
	"Task": {RiskMedium, CategoryTask},

	"Bash":      {RiskHigh, CategoryExecute},
	"KillShell": {RiskHigh, CategoryExecute},
	"WebFetch":  {RiskHigh, CategoryNetwork},
	"WebSearch": {RiskHigh, CategoryNetwork},
}

// Classify maps a tool invocation to its risk level, category, and a short
// user-readable summary. Pure and static: no input inspection beyond summary
// derivation.
func Classify(toolName string, input map[string]interface{}) Classification {
	profile, ok := toolProfiles[toolName]
	if !ok {
		profile = toolProfile{risk: RiskMedium, category: CategoryOther}
	}
	return Classification{
		RiskLevel: profile.risk,
		Category:  profile.category,
		Summary:   summarize(toolName, input),
	}
}

// summarize derives a short phrase from one or two input fields.
func summarize(toolName string, input map[string]interface{}) string {
	var s string
	switch toolName {
	case "Read":
		s = withDetail("Read file", stringField(input, "file_path"))
	case "Write":
		s = withDetail("Write file", stringField(input, "file_path"))
	case "Edit", "MultiEdit":
		s = withDetail("Edit file", stringField(input, "file_path"))
	case "NotebookRead":
		s = withDetail("Read notebook", stringField(input, "notebook_path"))
	case "NotebookEdit":
		s = withDetail("Edit notebook", stringField(input, "notebook_path"))
	case "Glob":
		s = withDetail("Find files matching", stringField(input, "pattern"))
	case "Grep":
		s = withDetail("Search content for", stringField(input, "pattern"))
	case "LS":
		s = withDetail("List directory", stringField(input, "path"))
	case "Bash":
		s = withDetail("Run command:", stringField(input, "command"))
	case "KillShell":
		s = withDetail("Kill shell", stringField(input, "shell_id"))
	case "WebFetch":
		s = withDetail("Fetch", stringField(input, "url"))
	case "WebSearch":
		s = withDetail("Search the web for", stringField(input, "query"))
	case "Task":
		s = withDetail("Launch subagent:", stringField(input, "description"))
	case "ExitPlanMode":
		s = "Present plan for approval"
	case "AskUserQuestion":
		s = withDetail("Ask:", stringField(input, "question"))
	default:
		s = withDetail(toolName, firstStringField(input))
	}
	return truncateSummary(s)
}

func withDetail(prefix, detail string) string {
	if detail == "" {
		return prefix
	}
	return prefix + " " + detail
}

// stringField extracts a string-valued input field verbatim, empty if
// absent. Values are not trimmed: cache keys must preserve input identity.
func stringField(input map[string]interface{}, key string) string {
	if input == nil {
		return ""
	}
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

// firstStringField picks the first string-valued field in key order, so
// unknown tools still get a stable, meaningful summary.
func firstStringField(input map[string]interface{}) string {
	if len(input) == 0 {
		return ""
	}
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := input[k].(string); ok && v != "" {
			return fmt.Sprintf("%s=%s", k, v)
		}
	}
	return ""
}

func truncateSummary(s string) string {
	// Collapse newlines so multi-line commands stay a single phrase
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxSummaryLen {
		return s
	}
	cut := maxSummaryLen - 3
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}
