package core

// handleControl runs the lifecycle state machine for a control event, then
// or before the user's control handlers as each transition requires.
func (c *Component) handleControl(d delivery, workerID int) {
	if d.port == c.control {
		switch d.event.(type) {
		case Start:
			c.handleStart(d, workerID)
		case Stop:
			c.handleStop(d, workerID)
		case Kill:
			c.handleKill(d, workerID)
		case configUpdate:
			c.handleUpdate(d.event.(configUpdate), workerID)
		default:
			c.dispatch(d, workerID)
		}
		return
	}

	// an indication from one of our children
	child := d.port.declarer
	if u, ok := d.event.(configUpdate); ok {
		c.handleUpdate(u, workerID)
		return
	}
	c.dispatch(d, workerID)
	switch ev := d.event.(type) {
	case Stopped:
		c.childStopped(child, workerID)
	case Killed:
		c.childKilled(child, workerID)
	case *Fault:
		c.resolveFault(ev, workerID)
	}
}

// send delivers a control request to c from its parent's side.
func (c *Component) send(ev Event, workerID int) {
	c.control.deliver(ev, workerID)
}

// notifyParent emits a control indication towards the parent.
func (c *Component) notifyParent(ev Event, workerID int) {
	c.control.doTrigger(ev, workerID)
}

func (c *Component) handleStart(d delivery, workerID int) {
	if !c.setState(Active) {
		c.logger().Debug("ignoring Start")
		return
	}
	c.tornDown = false
	c.stopping = false

	c.dispatch(d, workerID)

	// the Start event itself is still counted, so the component stays
	// scheduled while the held events are added back
	if n := len(c.held); n > 0 {
		c.replay = append(c.replay, c.held...)
		c.held = nil
		c.workCount.Add(int64(n))
	}

	for _, child := range c.Children() {
		if st := child.State(); st == Starting || st == Passive {
			child.send(Start{}, workerID)
		}
	}
	c.notifyParent(Started{ID: c.id}, workerID)
}

func (c *Component) handleStop(d delivery, workerID int) {
	if c.State() != Active || c.killing {
		if st := c.State(); st == Passive || st == Starting {
			// nothing to stop; unblock a waiting parent
			c.notifyParent(Stopped{ID: c.id}, workerID)
		}
		return
	}
	if c.stopping {
		return
	}
	c.stopping = true

	c.dispatch(d, workerID)

	c.awaiting = make(map[*Component]struct{})
	for _, child := range c.Children() {
		if st := child.State(); st == Active || st == Starting {
			c.awaiting[child] = struct{}{}
			child.send(Stop{}, workerID)
		}
	}
	if len(c.awaiting) == 0 {
		c.completeStop(workerID)
	}
}

func (c *Component) childStopped(child *Component, workerID int) {
	if !c.stopping {
		return
	}
	if _, ok := c.awaiting[child]; !ok {
		return
	}
	delete(c.awaiting, child)
	if len(c.awaiting) == 0 {
		c.completeStop(workerID)
	}
}

func (c *Component) completeStop(workerID int) {
	c.tearDown()
	c.stopping = false
	c.awaiting = nil
	c.setState(Passive)
	c.notifyParent(Stopped{ID: c.id}, workerID)
}

func (c *Component) handleKill(d delivery, workerID int) {
	if c.killing {
		return
	}
	c.killing = true
	c.stopping = false

	c.dispatch(d, workerID)

	c.awaiting = make(map[*Component]struct{})
	for _, child := range c.Children() {
		if child.State() != Destroyed {
			c.awaiting[child] = struct{}{}
			child.send(Kill{}, workerID)
		} else {
			c.removeChild(child)
		}
	}
	if len(c.awaiting) == 0 {
		c.completeKill(workerID)
	}
}

func (c *Component) childKilled(child *Component, workerID int) {
	c.removeChild(child)
	c.childGone(child, workerID)
}

// childGone settles a pending Stop or Kill that was waiting for child.
func (c *Component) childGone(child *Component, workerID int) {
	if _, ok := c.awaiting[child]; !ok {
		return
	}
	delete(c.awaiting, child)
	if len(c.awaiting) > 0 {
		return
	}
	switch {
	case c.killing:
		c.completeKill(workerID)
	case c.stopping:
		c.completeStop(workerID)
	}
}

func (c *Component) completeKill(workerID int) {
	c.tearDown()
	c.awaiting = nil
	c.sys.registry.remove(c.id)
	if !c.setState(Destroyed) {
		return
	}
	c.notifyParent(Killed{ID: c.id}, workerID)
	c.release()

	if n := len(c.held); n > 0 {
		c.logger().Warn("dropping held events", "count", n)
		c.held = nil
	}
}

// tearDown runs the definition's TearDown hook once per stop or kill.
func (c *Component) tearDown() {
	if c.tornDown {
		return
	}
	c.tornDown = true

	td, ok := c.def.(TearDowner)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger().Error("tear down panicked", "panic", r)
		}
	}()
	td.TearDown()
}
