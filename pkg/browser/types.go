package browser

// ElementType classifies an interactive page element.
type ElementType string

const (
	ElementLink   ElementType = "link"
	ElementButton ElementType = "button"
	ElementForm   ElementType = "form"
)

// Element is one interactive element extracted from a page, scored by how
// informative its text is.
type Element struct {
	Type   ElementType `json:"type"`
	Text   string      `json:"text,omitempty"`
	URL    string      `json:"url,omitempty"`
	Domain string      `json:"domain,omitempty"`
	Index  int         `json:"index"`
	Score  float64     `json:"score"`
	// Form fields
	Action string   `json:"action,omitempty"`
	Method string   `json:"method,omitempty"`
	Inputs []string `json:"inputs,omitempty"`
}

// Snapshot is the structured result of navigating to a page: its identity
// plus the scored interactive elements, highest score first.
type Snapshot struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Elements  []Element `json:"elements"`
	LinkCount int       `json:"link_count"`
	FormCount int       `json:"form_count"`
}

// StatusInfo reports the browser lifecycle state.
type StatusInfo struct {
	Running bool   `json:"running"`
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`
}
