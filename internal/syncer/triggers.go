package syncer

import (
	"context"
	"time"
)

// Start arms the periodic wake-up. Connectivity triggers arrive through
// OnNetworkChange, which the caller registers with the connectivity monitor.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	c.running = true
	c.stopCh = make(chan struct{})

	if c.schedule != nil {
		c.wg.Add(1)
		go c.scheduleLoop()
	}

	c.logger.Info("sync coordinator started", "scheduled", c.schedule != nil)
	return nil
}

// Stop halts the schedule loop and waits for in-flight triggered drains.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("sync coordinator stopped")
}

// OnNetworkChange is the connectivity trigger: wire it into the monitor's
// subscription list. Going offline does nothing; coming back online drains
// everything that piled up.
func (c *Coordinator) OnNetworkChange(online bool) {
	if !online {
		return
	}

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("connectivity restored, draining queued actions")
	go func() {
		defer c.wg.Done()
		if _, err := c.DrainAll(context.Background(), "connectivity-restored"); err != nil {
			c.logger.Error("connectivity drain failed", "error", err)
		}
	}()
}

// scheduleLoop fires DrainAll whenever the cron schedule comes due. The
// tick just checks the clock; a drain that overruns the next due time is
// protected by the per-category draining guard.
func (c *Coordinator) scheduleLoop() {
	defer c.wg.Done()

	next := c.schedule.Next(time.Now())
	c.logger.Info("sync schedule armed", "nextRun", next.Format(time.RFC3339))

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case now := <-ticker.C:
			if now.Before(next) {
				continue
			}
			if _, err := c.DrainAll(context.Background(), "schedule"); err != nil {
				c.logger.Error("scheduled drain failed", "error", err)
			}
			next = c.schedule.Next(time.Now())
			c.logger.Debug("next scheduled drain", "nextRun", next.Format(time.RFC3339))
		}
	}
}
