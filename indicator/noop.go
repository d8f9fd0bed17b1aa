package indicator

// Noop implements Indicator but does nothing.
// Used when no indicators are configured.
type Noop struct{}

// Cue implements Indicator.Cue.
func (n *Noop) Cue(c Cue) {}

// Idle implements Indicator.Idle.
func (n *Noop) Idle() {}

// Release implements Indicator.Release.
func (n *Noop) Release() error {
	return nil
}
