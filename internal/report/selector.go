package report

import "sync"

// View is what the dashboard's plot area shows.
type View string

const (
	ViewNone      View = "none"
	ViewAbout     View = "about"
	ViewBar       View = "bar"
	ViewScatter   View = "scatter"
	ViewMultiline View = "multiline"
)

// NavButton is one navigation entry.
type NavButton struct {
	Label string `json:"label"`
	ID    string `json:"id"`
	View  View   `json:"view"`
}

// NavButtons lists the navigation entries in display order.
var NavButtons = []NavButton{
	{Label: "About", ID: "nav-about", View: ViewAbout},
	{Label: "Historical Price Analysis", ID: "nav-bar", View: ViewBar},
	{Label: "Odometer and Condition Insights", ID: "nav-scatter", View: ViewScatter},
	{Label: "Price Analysis Subplots", ID: "nav-multiline", View: ViewMultiline},
}

// ParseView maps a view name to a View with data behind it. ViewNone and
// ViewAbout carry no series and are rejected.
func ParseView(s string) (View, bool) {
	switch v := View(s); v {
	case ViewBar, ViewScatter, ViewMultiline:
		return v, true
	}
	return "", false
}

// Columns returns the year-summary columns a view plots, year first.
func (v View) Columns(yearCol string) []string {
	switch v {
	case ViewBar:
		return []string{yearCol, SellingPrice}
	case ViewScatter:
		return []string{yearCol, SellingPrice, "odometer", "condition"}
	case ViewMultiline:
		return []string{yearCol, SellingPrice, MMR, "odometer", PriceDifference, "condition"}
	}
	return nil
}

// DateFiltered reports whether the view is restricted by the date range.
func (v View) DateFiltered() bool {
	return v == ViewBar || v == ViewMultiline
}

// Selector holds the current view. It starts at ViewNone; Trigger moves it.
// Selector is safe for concurrent use.
type Selector struct {
	mu      sync.Mutex
	current View
}

func NewSelector() *Selector {
	return &Selector{current: ViewNone}
}

// Current returns the selected view.
func (s *Selector) Current() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Trigger applies a nav button press. Unknown ids leave the view unchanged
// and report false.
func (s *Selector) Trigger(id string) (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range NavButtons {
		if b.ID == id {
			s.current = b.View
			return s.current, true
		}
	}
	return s.current, false
}
