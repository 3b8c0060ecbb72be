// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package shutterbox

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is how often the background poller refreshes the
// status cache. The protocol is low-rate, so contention with foreground
// exchanges is tolerable.
const DefaultPollInterval = 150 * time.Millisecond

// statusCache is the only structure shared between the poller and status
// readers. It has its own lock, distinct from the transport lock, so reading
// cached state never blocks on pending hardware I/O.
type statusCache struct {
	mu        sync.RWMutex
	positions [NumChannels]int
	valid     bool
	updatedAt time.Time
}

// replaceAll installs a fresh poll result.
func (c *statusCache) replaceAll(positions [NumChannels]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions = positions
	c.valid = true
	c.updatedAt = time.Now()
}

// setOne records a commanded position so status reflects a successful move
// immediately, before the next poll cycle corroborates it.
func (c *statusCache) setOne(channel, pw int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[channel] = pw
}

func (c *statusCache) snapshot() (positions [NumChannels]int, valid bool, at time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positions, c.valid, c.updatedAt
}

// poller periodically refreshes the cache with one get-all exchange. A
// failed cycle leaves the previous entries untouched: stale-but-available
// beats failing callers.
type poller struct {
	transport Transport
	cache     *statusCache
	interval  time.Duration
	log       *logrus.Logger

	// onUpdate, when set, receives each successful poll result. Used to
	// push status to subscribers without them polling the cache.
	onUpdate func([NumChannels]int)

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func newPoller(t Transport, cache *statusCache, interval time.Duration, log *logrus.Logger) *poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &poller{
		transport: t,
		cache:     cache,
		interval:  interval,
		log:       log,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

func (p *poller) start() {
	go p.run()
}

func (p *poller) run() {
	defer close(p.stopped)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}
		positions, err := p.transport.Positions()
		if err != nil {
			p.log.Debug("poll cycle failed, keeping cached state: ", err)
			continue
		}
		p.cache.replaceAll(positions)
		if p.onUpdate != nil {
			p.onUpdate(positions)
		}
	}
}

// stop signals the poller and joins with a bounded timeout. Returns false if
// the goroutine failed to exit in time, which is tolerated best-effort: a
// poller stuck in a blocking read will exit after the port timeout. Safe to
// call repeatedly.
func (p *poller) stop(timeout time.Duration) bool {
	p.stopOnce.Do(func() { close(p.done) })
	select {
	case <-p.stopped:
		return true
	case <-time.After(timeout):
		return false
	}
}
