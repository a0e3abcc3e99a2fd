package navigation

import (
	"context"
	"errors"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/sanonone/wayfinder/pkg/geo"
)

// Position is one reading from the device. A reading may carry a GPS fix, a
// floorplan position, a magnetometer heading, or any mix of them.
type Position struct {
	Pixel     r2.Vec
	HasPixel  bool
	LatLng    geo.LatLng
	HasLatLng bool
	// Accuracy is the GPS accuracy radius in meters; <= 0 means unknown.
	Accuracy   float64
	Heading    float64
	HasHeading bool
	At         time.Time
}

// Located reports whether the reading carries a location.
func (p Position) Located() bool { return p.HasPixel || p.HasLatLng }

// PositionSource abstracts the device location services.
type PositionSource interface {
	// Current returns the latest reading. It fails with
	// ErrPositionUnavailable, or a platform error such as a denied
	// permission, when there is none.
	Current(ctx context.Context) (Position, error)
	// Subscribe opens a stream of readings.
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription is a stream of readings. Close stops delivery and closes the
// Updates channel; it is idempotent.
type Subscription interface {
	Updates() <-chan Position
	Close()
}

// ErrSourceClosed is returned by Subscribe on a closed ChannelSource.
var ErrSourceClosed = errors.New("position source closed")

// ChannelSource is an in-memory PositionSource. Publish fans a reading out to
// every subscriber without blocking; a subscriber whose buffer is full misses
// that reading.
type ChannelSource struct {
	buffer int

	mu      sync.Mutex
	current Position
	has     bool
	err     error
	subs    map[uint64]*channelSub
	nextID  uint64
	dropped uint64
	closed  bool
}

// NewChannelSource creates a source whose subscriptions buffer up to buffer
// readings.
func NewChannelSource(buffer int) *ChannelSource {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSource{buffer: buffer, subs: make(map[uint64]*channelSub)}
}

func (c *ChannelSource) Current(ctx context.Context) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return Position{}, c.err
	}
	if !c.has {
		return Position{}, ErrPositionUnavailable
	}
	return c.current, nil
}

// Fail makes Current return err until the next located Publish.
func (c *ChannelSource) Fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// Publish records p and delivers it to every subscriber. It returns the
// number of subscribers that received it.
func (c *ChannelSource) Publish(p Position) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case p.Located():
		c.current, c.has, c.err = p, true, nil
	case p.HasHeading && c.has:
		c.current.Heading, c.current.HasHeading = p.Heading, true
	}

	sent := 0
	for _, s := range c.subs {
		select {
		case s.ch <- p:
			sent++
		default:
			c.dropped++
		}
	}
	return sent
}

func (c *ChannelSource) Subscribe(ctx context.Context) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrSourceClosed
	}
	c.nextID++
	s := &channelSub{src: c, id: c.nextID, ch: make(chan Position, c.buffer)}
	c.subs[s.id] = s
	return s, nil
}

// Subscribers returns the number of open subscriptions.
func (c *ChannelSource) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (c *ChannelSource) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close ends every subscription.
func (c *ChannelSource) Close() {
	c.mu.Lock()
	c.closed = true
	subs := make([]*channelSub, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}

type channelSub struct {
	src  *ChannelSource
	id   uint64
	ch   chan Position
	once sync.Once
}

func (s *channelSub) Updates() <-chan Position { return s.ch }

func (s *channelSub) Close() {
	s.once.Do(func() {
		s.src.mu.Lock()
		delete(s.src.subs, s.id)
		close(s.ch)
		s.src.mu.Unlock()
	})
}
