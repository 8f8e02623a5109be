// SPDX-License-Identifier: MIT
package udp

import (
	applog "audioviz/internal/log"
	"audioviz/internal/transport"
	"errors"
	"sync"
	"time"
)

// DefaultInterval is used when a non-positive interval is configured.
const DefaultInterval = 16 * time.Millisecond

// UDPPublisher periodically fetches the latest snapshot, packs it into a
// fixed binary layout and sends it over UDP using a UDPSender. It runs in a
// separate goroutine managed by the Start and Stop methods.
type UDPPublisher struct {
	sender   *UDPSender                 // The underlying UDP sender instance.
	provider transport.SnapshotProvider // Source of the snapshot to publish.
	interval time.Duration              // The interval at which packets are sent.

	ticker   *time.Ticker   // Ticker that triggers packet sending.
	doneChan chan struct{}  // Channel used to signal the publisher goroutine to stop.
	stopOnce sync.Once      // Ensures the stop logic runs only once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the publisher goroutine to finish during Stop.
	mu       sync.Mutex     // Protects access to ticker and doneChan during Start/Stop.

	sendMu      sync.Mutex // Serializes Publish.
	sequenceNum uint32     // Monotonically increasing sequence number for packets.
	packet      [PacketSize]byte

	logger *applog.Logger
}

// NewUDPPublisher creates and initializes a new UDPPublisher.
// If the provided interval is invalid (<= 0), it defaults to DefaultInterval.
func NewUDPPublisher(interval time.Duration, sender *UDPSender, provider transport.SnapshotProvider) (*UDPPublisher, error) {
	if sender == nil {
		return nil, errors.New("UDPPublisher: UDP sender cannot be nil")
	}
	if provider == nil {
		return nil, errors.New("UDPPublisher: snapshot provider cannot be nil")
	}

	logger := applog.New("udp")
	if interval <= 0 {
		interval = DefaultInterval
		logger.Warnf("invalid interval provided, defaulting to %s", interval)
	}

	return &UDPPublisher{
		sender:   sender,
		provider: provider,
		interval: interval,
		logger:   logger,
	}, nil
}

// Start begins the periodic publishing process.
// It is safe to call Start multiple times; subsequent calls are no-ops if already started.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		p.logger.Warnf("Start called but already running")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{} // Reset stopOnce for this run

	// Local copies keep the goroutine off p.ticker/p.doneChan.
	ticker := p.ticker
	doneChan := p.doneChan

	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.logger.Infof("publishing to %s every %s (%d byte packets)", p.sender.Target(), p.interval, PacketSize)
		for {
			select {
			case <-ticker.C:
				p.Publish()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop gracefully signals the publisher goroutine to terminate and waits for it to exit.
// It is safe to call Stop multiple times; subsequent calls are no-ops.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})

	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Infof("publisher stopped after %d packets", p.Sequence())
	return nil
}

// Sequence returns the sequence number of the last packet built.
func (p *UDPPublisher) Sequence() uint32 {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.sequenceNum
}

// Publish sends one packet carrying the provider's current snapshot.
func (p *UDPPublisher) Publish() error {
	snap := p.provider.Latest()

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	p.sequenceNum++
	encodePacket(p.packet[:], p.sequenceNum, time.Now(), snap)

	// The sender logs its own failures.
	if err := p.sender.Send(p.packet[:]); err != nil {
		return err
	}
	p.logger.Debugf("sent packet %d (tick %d)", p.sequenceNum, snap.Tick)
	return nil
}

// Close stops the publisher goroutine and closes the sender.
func (p *UDPPublisher) Close() error {
	return errors.Join(p.Stop(), p.sender.Close())
}

// Ensure UDPPublisher satisfies the io.Closer interface at compile time.
var _ interface{ Close() error } = (*UDPPublisher)(nil)
