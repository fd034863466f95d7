package stats

import (
	"math"
	"sync"
	"time"
)

// Collector owns the process-wide sync counters. Counters only increase and
// reset only at process start; readers get a consistent Snapshot.
type Collector struct {
	mu sync.RWMutex

	telegramReceived  int64
	qqReceived        int64
	telegramSent      int64
	qqSent            int64
	filtered          int64
	prefixFiltered    int64
	commandsProcessed int64
	deliveryFailed    int64

	startTime time.Time
}

// Snapshot is a read-only view of the counters plus the derived totals.
type Snapshot struct {
	TelegramReceived  int64   `json:"telegram_received"`
	QQReceived        int64   `json:"qq_received"`
	TelegramSent      int64   `json:"telegram_sent"`
	QQSent            int64   `json:"qq_sent"`
	Filtered          int64   `json:"filtered"`
	PrefixFiltered    int64   `json:"prefix_filtered"`
	CommandsProcessed int64   `json:"commands_processed"`
	DeliveryFailed    int64   `json:"delivery_failed"`
	TotalReceived     int64   `json:"total_received"`
	TotalSent         int64   `json:"total_sent"`
	TotalFiltered     int64   `json:"total_filtered"`
	SyncRate          float64 `json:"sync_rate"`
	UptimeSec         int64   `json:"uptime_sec"`
}

func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

func (c *Collector) IncTelegramReceived() { c.inc(&c.telegramReceived) }
func (c *Collector) IncQQReceived()       { c.inc(&c.qqReceived) }
func (c *Collector) IncTelegramSent()     { c.inc(&c.telegramSent) }
func (c *Collector) IncQQSent()           { c.inc(&c.qqSent) }
func (c *Collector) IncFiltered()         { c.inc(&c.filtered) }
func (c *Collector) IncPrefixFiltered()   { c.inc(&c.prefixFiltered) }
func (c *Collector) IncCommands()         { c.inc(&c.commandsProcessed) }
func (c *Collector) IncDeliveryFailed()   { c.inc(&c.deliveryFailed) }

func (c *Collector) inc(counter *int64) {
	c.mu.Lock()
	*counter++
	c.mu.Unlock()
}

// Snapshot computes the derived totals at read time so that
// sync_rate = total_sent / total_received * 100 holds for any interleaving
// of receive and send events.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		TelegramReceived:  c.telegramReceived,
		QQReceived:        c.qqReceived,
		TelegramSent:      c.telegramSent,
		QQSent:            c.qqSent,
		Filtered:          c.filtered,
		PrefixFiltered:    c.prefixFiltered,
		CommandsProcessed: c.commandsProcessed,
		DeliveryFailed:    c.deliveryFailed,
		UptimeSec:         int64(time.Since(c.startTime).Seconds()),
	}

	s.TotalReceived = s.TelegramReceived + s.QQReceived
	s.TotalSent = s.TelegramSent + s.QQSent
	s.TotalFiltered = s.Filtered + s.PrefixFiltered

	if s.TotalReceived > 0 {
		rate := float64(s.TotalSent) / float64(s.TotalReceived) * 100
		s.SyncRate = math.Round(rate*100) / 100
	}

	return s
}
