package detector

// Suppression silences races whose stacks run through [Lo, Hi).
type Suppression struct {
	Name   string
	Lo, Hi uintptr
}

// suppressed reports whether any frame of either stack falls into a
// suppressed range, and returns that range's name.
func (d *Detector) suppressed(stacks ...[]uintptr) (string, bool) {
	for _, s := range d.cfg.Suppressions {
		for _, stack := range stacks {
			for _, pc := range stack {
				if pc >= s.Lo && pc < s.Hi {
					return s.Name, true
				}
			}
		}
	}
	return "", false
}
