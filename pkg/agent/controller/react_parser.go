// Package controller implements the governance agent's optional LLM-backed
// variant (SPEC_FULL §C.5): a bounded Reason+Act loop with text-based tool
// calling, exposing exactly the six tools named in §4.8 (readState,
// readDrift, checkTransition, checkPolicy, publishApproval,
// publishRejection) and ending only by invoking one of the two publish
// tools. The deterministic path in pkg/governance runs whenever this loop
// errors, times out, or exhausts its iteration budget without concluding.
package controller

import (
	"fmt"
	"regexp"
	"strings"
)

// ToolDefinition describes one callable tool for prompt-building and
// unknown-tool feedback.
type ToolDefinition struct {
	Name        string
	Description string
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	Name    string
	Content string
	IsError bool
}

// ParsedReActResponse is the result of parsing an LLM response in ReAct
// format.
type ParsedReActResponse struct {
	Thought string

	HasAction   bool
	Action      string
	ActionInput string

	IsFinalAnswer bool
	FinalAnswer   string

	IsUnknownTool bool
	IsMalformed   bool
	ErrorMessage  string

	FoundSections map[string]bool
}

var (
	midlineActionPattern      = regexp.MustCompile(`[.!?][\x60\s*]*Action:`)
	midlineFinalAnswerPattern = regexp.MustCompile(`[.!?][\x60\s*]*Final Answer:`)
	midlineActionInputPattern = regexp.MustCompile(`[.!?][\x60\s*]*Action Input:`)
	recoverActionColonPattern = regexp.MustCompile(`(?i)\bAction:`)
	recoverActionWordPattern  = regexp.MustCompile(`(?i)\bAction(?:\s|$)`)
	recoverActionInputPattern = regexp.MustCompile(`(?i)Action Input:`)
)

// ParseReActResponse parses LLM text output into a structured ReAct
// response. The parser is intentionally forgiving — it tries multiple
// detection strategies before declaring a response malformed.
func ParseReActResponse(text string) *ParsedReActResponse {
	if text == "" {
		return &ParsedReActResponse{
			IsMalformed: true,
			FoundSections: map[string]bool{
				"thought":      false,
				"action":       false,
				"action_input": false,
				"final_answer": false,
			},
		}
	}

	sections := extractSections(text)

	foundSections := map[string]bool{
		"thought":      sections["thought"] != nil,
		"action":       sections["action"] != nil,
		"action_input": sections["action_input"] != nil,
		"final_answer": sections["final_answer"] != nil,
	}

	action := deref(sections["action"])
	actionInput := sections["action_input"]

	// If both Final Answer AND Action+ActionInput exist, prefer Action
	// (Final Answer should be terminal — nothing should come after it).
	if action != "" && actionInput != nil {
		action = strings.TrimSpace(action)
		if action == "" {
			return &ParsedReActResponse{
				IsMalformed:   true,
				Thought:       deref(sections["thought"]),
				FoundSections: foundSections,
			}
		}
		return &ParsedReActResponse{
			HasAction:     true,
			Thought:       deref(sections["thought"]),
			Action:        action,
			ActionInput:   deref(actionInput),
			FoundSections: foundSections,
		}
	}

	if sections["final_answer"] != nil && deref(sections["final_answer"]) != "" {
		return &ParsedReActResponse{
			IsFinalAnswer: true,
			Thought:       deref(sections["thought"]),
			FinalAnswer:   deref(sections["final_answer"]),
			FoundSections: foundSections,
		}
	}

	return &ParsedReActResponse{
		IsMalformed:   true,
		Thought:       deref(sections["thought"]),
		FoundSections: foundSections,
	}
}

// extractSections parses the response text into sections via a
// line-by-line state machine.
func extractSections(text string) map[string]*string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	parsed := map[string]*string{
		"thought":      nil,
		"action":       nil,
		"action_input": nil,
		"final_answer": nil,
	}

	var currentSection string
	var contentLines []string
	foundSections := map[string]bool{}

	for _, rawLine := range lines {
		line := strings.TrimSpace(rawLine)

		if line == "" && currentSection == "" {
			continue
		}

		if shouldStopParsing(line) {
			finalizeSection(parsed, currentSection, contentLines)
			break
		}

		if isSectionHeader(line, "final_answer", foundSections) {
			if currentSection == "thought" && hasMidlineFinalAnswer(line) {
				loc := midlineFinalAnswerPattern.FindStringIndex(line)
				if loc != nil {
					thoughtBefore := strings.TrimSpace(line[:loc[0]+1])
					if thoughtBefore != "" {
						contentLines = append(contentLines, thoughtBefore)
					}
				}
			}
			finalizeSection(parsed, currentSection, contentLines)
			currentSection = "final_answer"
			foundSections["final_answer"] = true
			contentLines = []string{extractSectionContent(line, "Final Answer:")}

		} else if isSectionHeader(line, "thought", foundSections) {
			finalizeSection(parsed, currentSection, contentLines)
			currentSection = "thought"
			foundSections["thought"] = true

			if strings.HasPrefix(line, "Thought:") {
				thoughtContent := extractSectionContent(line, "Thought:")

				if hasMidlineFinalAnswer(thoughtContent) {
					loc := midlineFinalAnswerPattern.FindStringIndex(thoughtContent)
					if loc != nil {
						thoughtBefore := strings.TrimSpace(thoughtContent[:loc[0]+1])
						setSection(parsed, "thought", thoughtBefore)
						remaining := strings.TrimSpace(thoughtContent[loc[0]+1:])
						if idx := strings.Index(remaining, "Final Answer:"); idx != -1 {
							fa := strings.TrimSpace(remaining[idx+len("Final Answer:"):])
							setSection(parsed, "final_answer", fa)
							foundSections["final_answer"] = true
						}
						currentSection = "final_answer"
						contentLines = []string{deref(parsed["final_answer"])}
					} else {
						contentLines = []string{thoughtContent}
					}
				} else if hasMidlineAction(thoughtContent) {
					loc := midlineActionPattern.FindStringIndex(thoughtContent)
					if loc != nil {
						thoughtBefore := strings.TrimSpace(thoughtContent[:loc[0]+1])
						setSection(parsed, "thought", thoughtBefore)
						remaining := strings.TrimSpace(thoughtContent[loc[0]+1:])
						if idx := strings.Index(remaining, "Action:"); idx != -1 {
							actionVal := strings.TrimSpace(remaining[idx+len("Action:"):])
							setSection(parsed, "action", actionVal)
							foundSections["action"] = true
						}
						currentSection = ""
						contentLines = nil
					} else {
						contentLines = []string{thoughtContent}
					}
				} else {
					contentLines = []string{thoughtContent}
				}
			} else {
				contentLines = []string{}
			}

		} else if isSectionHeader(line, "action", foundSections) {
			finalizeSection(parsed, currentSection, contentLines)
			currentSection = "action"
			foundSections["action"] = true
			delete(foundSections, "action_input")
			contentLines = []string{extractSectionContent(line, "Action:")}

		} else if isSectionHeader(line, "action_input", foundSections) {
			finalizeSection(parsed, currentSection, contentLines)
			currentSection = "action_input"
			foundSections["action_input"] = true
			contentLines = []string{extractSectionContent(line, "Action Input:")}

		} else {
			if currentSection != "" {
				if currentSection == "thought" && hasMidlineFinalAnswer(line) {
					loc := midlineFinalAnswerPattern.FindStringIndex(line)
					if loc != nil {
						thoughtBefore := strings.TrimSpace(line[:loc[0]+1])
						if thoughtBefore != "" {
							contentLines = append(contentLines, thoughtBefore)
						}
						finalizeSection(parsed, currentSection, contentLines)
						remaining := strings.TrimSpace(line[loc[0]+1:])
						if idx := strings.Index(remaining, "Final Answer:"); idx != -1 {
							fa := strings.TrimSpace(remaining[idx+len("Final Answer:"):])
							setSection(parsed, "final_answer", fa)
							foundSections["final_answer"] = true
							currentSection = "final_answer"
							contentLines = []string{deref(parsed["final_answer"])}
						}
					} else {
						contentLines = append(contentLines, line)
					}
				} else {
					contentLines = append(contentLines, line)
				}
			}
		}
	}

	finalizeSection(parsed, currentSection, contentLines)

	if parsed["action_input"] != nil && parsed["action"] == nil {
		if recovered := recoverMissingAction(text); recovered != "" {
			setSection(parsed, "action", recovered)
		}
	}

	return parsed
}

func isSectionHeader(line string, sectionType string, foundSections map[string]bool) bool {
	if line == "" {
		return false
	}

	if sectionType == "final_answer" && foundSections["final_answer"] {
		return false
	}

	switch sectionType {
	case "thought":
		if strings.HasPrefix(line, "Thought:") || line == "Thought" {
			return true
		}
	case "action":
		if strings.HasPrefix(line, "Action:") {
			return true
		}
	case "action_input":
		if strings.HasPrefix(line, "Action Input:") {
			return true
		}
	case "final_answer":
		if strings.HasPrefix(line, "Final Answer:") {
			return true
		}
	}

	if sectionType == "final_answer" {
		if strings.HasPrefix(line, "Thought:") || line == "Thought" ||
			strings.HasPrefix(line, "Thought ") ||
			strings.HasPrefix(line, "Action:") || strings.HasPrefix(line, "Action Input:") {
			return false
		}
		if strings.Contains(line, "Final Answer:") && midlineFinalAnswerPattern.MatchString(line) {
			return true
		}
		return false
	}

	if sectionType == "action" && strings.Contains(line, "Action:") {
		if midlineActionPattern.MatchString(line) {
			return true
		}
	}

	if sectionType == "action_input" && strings.Contains(line, "Action Input:") {
		if foundSections["action"] && midlineActionInputPattern.MatchString(line) {
			return true
		}
	}

	return false
}

func shouldStopParsing(line string) bool {
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, "[Based on") {
		return true
	}
	if strings.HasPrefix(line, "Observation:") {
		if strings.Contains(line, "Please specify") || strings.Contains(line, "what Action you want to take") {
			return false
		}
		if strings.Contains(line, "Error in reasoning") {
			return false
		}
		return true
	}
	return false
}

func hasMidlineAction(text string) bool {
	if text == "" || !strings.Contains(text, "Action:") {
		return false
	}
	return midlineActionPattern.MatchString(text)
}

func hasMidlineFinalAnswer(text string) bool {
	if text == "" || !strings.Contains(text, "Final Answer:") {
		return false
	}
	return midlineFinalAnswerPattern.MatchString(text)
}

func extractSectionContent(line, prefix string) string {
	idx := strings.Index(line, prefix)
	if idx == -1 {
		return ""
	}
	return strings.TrimSpace(line[idx+len(prefix):])
}

func finalizeSection(parsed map[string]*string, section string, contentLines []string) {
	if section == "" || contentLines == nil {
		return
	}
	content := strings.TrimSpace(strings.Join(contentLines, "\n"))
	if content != "" || parsed[section] == nil {
		parsed[section] = &content
	}
}

func setSection(parsed map[string]*string, section, value string) {
	parsed[section] = &value
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// recoverMissingAction attempts to recover a missing action when Action
// Input exists but Action doesn't. Searches backwards from "Action Input:"
// for "Action:" or "Action".
func recoverMissingAction(response string) string {
	loc := recoverActionInputPattern.FindStringIndex(response)
	if loc == nil {
		return ""
	}

	textBefore := response[:loc[0]]

	matches := recoverActionColonPattern.FindAllStringIndex(textBefore, -1)
	if len(matches) > 0 {
		lastMatch := matches[len(matches)-1]
		potential := strings.TrimSpace(textBefore[lastMatch[1]:])
		if validated := validateToolName(potential); validated != "" {
			return validated
		}
	}

	matches = recoverActionWordPattern.FindAllStringIndex(textBefore, -1)
	if len(matches) > 0 {
		lastMatch := matches[len(matches)-1]
		potential := strings.TrimSpace(textBefore[lastMatch[1]:])
		if validated := validateToolName(potential); validated != "" {
			return validated
		}
	}

	return ""
}

// validateToolName checks if text looks like a bare tool name: a single
// word on its own line, no "server.tool" namespacing (this loop's tools
// are all local, not MCP-server-qualified).
var toolNamePattern = regexp.MustCompile(`^[\w\-]+$`)

func validateToolName(text string) string {
	if text == "" {
		return ""
	}
	firstLine := strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	if toolNamePattern.MatchString(firstLine) {
		return firstLine
	}
	return ""
}

// GetFormatErrorFeedback returns a specific error message describing
// what's wrong with the response format, appended as an observation so
// the LLM can self-correct.
func GetFormatErrorFeedback(parsed *ParsedReActResponse) string {
	found := parsed.FoundSections

	hasThought := found["thought"]
	hasAction := found["action"]
	hasActionInput := found["action_input"]
	hasFinalAnswer := found["final_answer"]

	var specificError string

	switch {
	case hasAction && !hasActionInput:
		specificError = "FORMAT ERROR: Your response has \"Action:\" but is missing \"Action Input:\".\n" +
			"Every \"Action:\" MUST be followed by \"Action Input:\" (even if empty for no-parameter tools)."
	case hasActionInput && !hasAction:
		specificError = "FORMAT ERROR: Your response has \"Action Input:\" but is missing \"Action:\".\n" +
			"\"Action Input:\" must be preceded by \"Action:\" specifying which tool to call."
	case hasThought && !hasAction && !hasFinalAnswer:
		specificError = "FORMAT ERROR: Your response only contains \"Thought:\".\n" +
			"After reasoning, you MUST either:\n" +
			"- Call a tool with \"Action:\" + \"Action Input:\", OR\n" +
			"- Conclude with \"Final Answer:\""
	case !hasThought && !hasAction && !hasFinalAnswer:
		specificError = "FORMAT ERROR: Could not detect any ReAct sections in your response.\n" +
			"Your response must use the exact format: \"Thought:\", \"Action:\", \"Action Input:\", or \"Final Answer:\""
	default:
		keys := []string{"thought", "action", "action_input", "final_answer"}
		var foundList, missingList []string
		for _, k := range keys {
			if found[k] {
				foundList = append(foundList, k)
			} else {
				missingList = append(missingList, k)
			}
		}
		specificError = fmt.Sprintf("FORMAT ERROR: Incomplete ReAct format.\nFound: %s\nMissing: %s",
			strings.Join(foundList, ", "), strings.Join(missingList, ", "))
	}

	return specificError + "\n" + GetFormatCorrectionReminder()
}

// GetFormatCorrectionReminder returns a general format reminder.
func GetFormatCorrectionReminder() string {
	return `IMPORTANT: Please follow the exact ReAct format:

1. Use colons: "Thought:", "Action:", "Action Input:", "Final Answer:"
2. Start each section on a NEW LINE (never continue on same line as previous text)
3. Stop after Action Input - the system provides Observations
4. Your response MUST include EITHER tool calling (Action + Action Input) OR Final Answer

Required structure to call a tool:
Thought: [your reasoning]
Action: [tool name]
Action Input: [parameters]

Required structure to conclude, which you MUST do by calling publishApproval or
publishRejection as the Action — a bare Final Answer never decides a proposal:
Thought: [final reasoning]
Action: publishApproval
Action Input: [reason]`
}

// FormatObservation formats a tool execution result as a ReAct observation.
func FormatObservation(result *ToolResult) string {
	if result == nil {
		return "Observation: Error - no tool result available"
	}
	if result.IsError {
		return fmt.Sprintf("Observation: Error executing %s: %s", result.Name, result.Content)
	}
	return fmt.Sprintf("Observation: %s", result.Content)
}

// FormatToolErrorObservation formats a tool execution error as an
// observation.
func FormatToolErrorObservation(err error) string {
	if err == nil {
		return "Observation: Error - Tool execution failed: unknown error"
	}
	return fmt.Sprintf("Observation: Error - Tool execution failed: %s", err.Error())
}

// FormatUnknownToolError formats an error when the LLM requests an unknown
// tool. Includes the list of available tools so the LLM can self-correct.
func FormatUnknownToolError(toolName string, errorMsg string, availableTools []ToolDefinition) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Observation: Error - %s", errorMsg))
	if len(availableTools) > 0 {
		sb.WriteString("\n\nAvailable tools:\n")
		for _, tool := range availableTools {
			sb.WriteString(fmt.Sprintf("  - %s: %s\n", tool.Name, tool.Description))
		}
	} else {
		sb.WriteString("\n\nNo tools are currently available.")
	}
	return sb.String()
}

// FormatErrorObservation formats an LLM call error as an observation for
// the conversation.
func FormatErrorObservation(err error) string {
	if err == nil {
		return "Observation: Error from previous attempt: unknown error. Please try again."
	}
	return fmt.Sprintf("Observation: Error from previous attempt: %s. Please try again.", err.Error())
}
