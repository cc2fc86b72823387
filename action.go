package bleshim

// Action is one step produced by an event handler. The run loop executes
// actions strictly in the order they are returned.
type Action interface {
	String() string
}

// Actions concatenates action lists, dropping nil entries.
func Actions(lists ...[]Action) []Action {
	var out []Action
	for _, l := range lists {
		for _, a := range l {
			if a != nil {
				out = append(out, a)
			}
		}
	}
	return out
}
