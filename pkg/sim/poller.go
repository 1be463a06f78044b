package sim

// Poller counts the periodic polls and runs the registered hooks.
type Poller struct {
	Fast []func()
	Slow []func()

	fast, slow uint64
}

// PollFast implements node.Poller.
func (p *Poller) PollFast() {
	p.fast++
	for _, fn := range p.Fast {
		fn()
	}
}

// PollSlow implements node.Poller.
func (p *Poller) PollSlow() {
	p.slow++
	for _, fn := range p.Slow {
		fn()
	}
}

// Counts returns the number of fast and slow polls.
func (p *Poller) Counts() (fast, slow uint64) {
	return p.fast, p.slow
}
