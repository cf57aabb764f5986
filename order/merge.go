package order

// Merge combines the action lists of both sides into one executable sequence.
//
// At most one ClearOrders survives and it always comes first. Without a clear,
// Keep actions are dropped since there is nothing to send for them. With a clear,
// the remaining actions follow it in their original order, Keep included.
func Merge(a, b []Action) []Action {
	combined := make([]Action, 0, len(a)+len(b))
	combined = append(combined, a...)
	combined = append(combined, b...)

	var clear Action
	rest := make([]Action, 0, len(combined))
	for _, act := range combined {
		if _, ok := act.(ClearOrders); ok {
			if clear == nil {
				clear = act
			}
			continue
		}
		rest = append(rest, act)
	}

	if clear == nil {
		out := make([]Action, 0, len(rest))
		for _, act := range rest {
			if IsKeep(act) {
				continue
			}
			out = append(out, act)
		}
		return out
	}
	return append([]Action{clear}, rest...)
}
