package tools

// FilterResult holds the outcome of filtering a provider's tool
// definitions against its allowed_tools list.
type FilterResult struct {
	// Allowed contains definitions that passed the filter.
	Allowed []ToolDefinition

	// Rejected names the definitions that were dropped.
	Rejected []string
}

// FilterAllowedTools keeps only the definitions named in allowedTools.
// If allowedTools is empty or nil, every definition is kept.
func FilterAllowedTools(defs []ToolDefinition, allowedTools []string) FilterResult {
	if len(allowedTools) == 0 {
		return FilterResult{Allowed: defs}
	}

	allowed := make(map[string]bool, len(allowedTools))
	for _, name := range allowedTools {
		allowed[name] = true
	}

	var result FilterResult
	for _, def := range defs {
		if allowed[def.Name] {
			result.Allowed = append(result.Allowed, def)
		} else {
			result.Rejected = append(result.Rejected, def.Name)
		}
	}
	return result
}
