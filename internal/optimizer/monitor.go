package optimizer

import (
	"context"
	"sync"
	"time"
)

// Monitor polls the optimizer's health endpoint on its own ticker. It never cancels submits in flight;
// it only moves the availability flag that gates new ones.
type Monitor struct {
	Client   *Client
	Interval time.Duration
	Timeout  time.Duration

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewMonitor(c *Client, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{Client: c, Interval: interval, Timeout: 5 * time.Second, stop: make(chan struct{})}
}

// Start runs one check immediately and then one per interval until Close.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.checkOnce()
		ticker := time.NewTicker(m.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.checkOnce()
			}
		}
	}()
}

func (m *Monitor) checkOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), m.Timeout)
	defer cancel()
	m.Client.CheckHealth(ctx)
}

// Close stops the poll loop and waits for it to exit.
func (m *Monitor) Close() {
	m.once.Do(func() { close(m.stop) })
	m.wg.Wait()
}
