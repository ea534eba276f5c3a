package coordinator

import "sync"

// Disconnect tears down a connection that went away without leaving. The
// connection is deregistered first, so relays to it are dropped and it
// cannot enter another room; then every room it belonged to removes it as an
// explicit leave would. Rooms are cleaned up in parallel and Disconnect
// returns once all of them are done. Calling it again is a no-op.
func (c *Coordinator) Disconnect(connID string) {
	c.connsMu.Lock()
	cn, ok := c.conns[connID]
	delete(c.conns, connID)
	remaining := len(c.conns)
	c.connsMu.Unlock()
	if !ok {
		return
	}

	rooms := cn.close()
	var wg sync.WaitGroup
	for _, name := range rooms {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			err := c.registry.run(name, func(rm *room) {
				c.removeParticipant(rm, connID)
			})
			if err != nil {
				c.log.Debug("Disconnect cleanup dropped", "room", name, "connection", connID, "error", err)
			}
		}(name)
	}
	wg.Wait()

	c.log.Info("Connection closed", "connection", connID, "rooms", len(rooms), "remaining", remaining)
}
