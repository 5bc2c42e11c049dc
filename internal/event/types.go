package event

// DecisionMadeData is the data for decision.made events.
// It is a flattened view of a permission decision so that subscribers such
// as the audit log do not depend on the permission package.
type DecisionMadeData struct {
	DecisionID     string `json:"decisionID"`
	SessionID      string `json:"sessionID,omitempty"`
	CallID         string `json:"callID,omitempty"`
	ToolName       string `json:"toolName"`
	Content        string `json:"content,omitempty"`
	Behavior       string `json:"behavior"`
	ReasonType     string `json:"reasonType,omitempty"`
	Rule           string `json:"rule,omitempty"`
	RuleScope      string `json:"ruleScope,omitempty"`
	PromptTool     string `json:"promptTool,omitempty"`
	RuleSetVersion uint64 `json:"ruleSetVersion"`
}

// RulesReloadedData is the data for rules.reloaded events.
type RulesReloadedData struct {
	Version uint64 `json:"version"`
	Rules   int    `json:"rules"`
	// Diff is a line diff of the rendered rule set against the previous one.
	Diff string `json:"diff,omitempty"`
}

// SettingsChangedData is the data for settings.changed events.
type SettingsChangedData struct {
	Path string `json:"path"`
	Op   string `json:"op"`
}

// PermissionRequiredData is the data for permission.required events.
type PermissionRequiredData struct {
	ID          string   `json:"id"`
	SessionID   string   `json:"sessionID,omitempty"`
	CallID      string   `json:"callID,omitempty"`
	ToolName    string   `json:"toolName"`
	Content     string   `json:"content,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Title       string   `json:"title"`
}

// PermissionResolvedData is the data for permission.resolved events.
type PermissionResolvedData struct {
	ID       string `json:"id"`
	Response string `json:"response"`
	Granted  bool   `json:"granted"`
}

// SessionOf returns the session an event belongs to, or "" for events that
// concern every session.
func SessionOf(e Event) string {
	switch data := e.Data.(type) {
	case DecisionMadeData:
		return data.SessionID
	case PermissionRequiredData:
		return data.SessionID
	}
	return ""
}
