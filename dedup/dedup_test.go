package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"felicad/card"
	"felicad/port"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	bunt, err := OpenBunt(2 * DefaultWindow)
	require.NoError(t, err)
	t.Cleanup(func() { bunt.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"buntdb": bunt,
	}
}

func newEngine(s Store, cfg Config) (*Engine, *fakeClock) {
	log, _ := test.NewNullLogger()
	clk := &fakeClock{t: time.Date(2026, 2, 23, 9, 33, 0, 0, time.UTC)}
	e := NewEngine(s, NewPolicy(cfg), log)
	e.now = clk.Now
	return e, clk
}

var (
	cardA = card.ID{0x01, 0x13, 0xAB, 0xFF, 0x00, 0x11, 0x22, 0x33}
	cardB = card.ID{0x01, 0x13, 0xAB, 0xFF, 0x00, 0x11, 0x22, 0x44}
)

func TestPaymentSequence(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			e, clk := newEngine(s, DefaultConfig())

			assert.Equal(t, Notify, e.Observe(3, cardA))
			clk.Advance(time.Second)
			assert.Equal(t, SuppressWithSecondarySound, e.Observe(3, cardA))
			clk.Advance(time.Second)
			assert.Equal(t, SuppressWithSecondarySound, e.Observe(3, cardA))

			// 3.5s after the last touch the window has lapsed.
			clk.Advance(3500 * time.Millisecond)
			assert.Equal(t, Notify, e.Observe(3, cardA))

			assert.Equal(t, Notify, e.Observe(3, cardB))
			// Same card on another payment port is a separate key.
			assert.Equal(t, Notify, e.Observe(1, cardA))
		})
	}
}

func TestRepeatWithoutRearm(t *testing.T) {
	rearm := false
	cfg := DefaultConfig()
	cfg.RearmRepeat = &rearm
	e, clk := newEngine(NewMemoryStore(), cfg)

	assert.Equal(t, Notify, e.Observe(2, cardA))
	clk.Advance(500 * time.Millisecond)
	assert.Equal(t, SuppressWithSecondarySound, e.Observe(2, cardA))
	clk.Advance(500 * time.Millisecond)
	assert.Equal(t, SuppressSilently, e.Observe(2, cardA))
	clk.Advance(2 * time.Second)
	assert.Equal(t, SuppressSilently, e.Observe(2, cardA))
	clk.Advance(DefaultWindow)
	assert.Equal(t, Notify, e.Observe(2, cardA))
}

func TestNonPaymentPortsAlwaysNotify(t *testing.T) {
	s := NewMemoryStore()
	e, _ := newEngine(s, DefaultConfig())

	for _, n := range []port.Number{5, 6, 7, port.None} {
		for i := 0; i < 3; i++ {
			assert.Equal(t, Notify, e.Observe(n, cardA), "port %s", n)
		}
	}
	assert.Zero(t, s.Len())
}

func TestClassify(t *testing.T) {
	p := NewPolicy(Config{PaymentPorts: []int{1, 2}, AdminPorts: []int{2, 9}})
	assert.Equal(t, ClassPayment, p.Classify(1))
	assert.Equal(t, ClassAdmin, p.Classify(2))
	assert.Equal(t, ClassAdmin, p.Classify(9))
	assert.Equal(t, ClassPlain, p.Classify(3))
	assert.Equal(t, ClassPlain, p.Classify(port.None))
	assert.Equal(t, DefaultWindow, p.Window)
	assert.True(t, p.RearmRepeat)
}

func TestConcurrentObserveNotifiesOnce(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			e, _ := newEngine(s, DefaultConfig())

			const workers = 8
			var (
				wg      sync.WaitGroup
				start   = make(chan struct{})
				results = make(chan Action, workers)
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					results <- e.Observe(4, cardA)
				}()
			}
			close(start)
			wg.Wait()
			close(results)

			notified := 0
			for a := range results {
				if a == Notify {
					notified++
				}
			}
			assert.Equal(t, 1, notified)
		})
	}
}

func TestStoreSweep(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			e, clk := newEngine(s, DefaultConfig())
			e.Observe(1, cardA)
			clk.Advance(2 * time.Second)
			e.Observe(2, cardB)
			require.Equal(t, 2, s.Len())

			clk.Advance(2 * time.Second)
			removed, err := s.Sweep(clk.Now().Add(-DefaultWindow))
			require.NoError(t, err)
			assert.Equal(t, 1, removed)
			assert.Equal(t, 1, s.Len())
		})
	}
}

func TestSweeper(t *testing.T) {
	s := NewMemoryStore()
	e, clk := newEngine(s, DefaultConfig())
	e.Observe(1, cardA)
	clk.Advance(time.Minute)

	log, _ := test.NewNullLogger()
	sw := NewSweeper(s, DefaultWindow, 10*time.Millisecond, log)
	sw.now = clk.Now
	sw.Start(context.Background())
	defer sw.Stop()

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSweeperDisabled(t *testing.T) {
	log, _ := test.NewNullLogger()
	sw := NewSweeper(NewMemoryStore(), DefaultWindow, 0, log)
	sw.Start(context.Background())
	sw.Stop()
	sw.Stop()
}

func TestSweeperStopWithoutStart(t *testing.T) {
	log, _ := test.NewNullLogger()
	sw := NewSweeper(NewMemoryStore(), DefaultWindow, time.Second, log)

	stopped := make(chan struct{})
	go func() {
		sw.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a sweeper that was never started")
	}
}

func TestDefaultConfigSweepsLapsedStates(t *testing.T) {
	cfg := DefaultConfig()
	require.Positive(t, cfg.SweepInterval)

	s, err := NewStore(cfg)
	require.NoError(t, err)
	defer s.Close()

	e, clk := newEngine(s, cfg)
	for i := 0; i < 100; i++ {
		id := card.ID{0x01, 0x13, 0xAB, 0xFF, 0x00, 0x11, 0x22, byte(i)}
		require.Equal(t, Notify, e.Observe(1, id))
	}
	require.Equal(t, 100, s.Len())
	clk.Advance(time.Hour)

	log, _ := test.NewNullLogger()
	sw := NewSweeper(s, e.Policy().Window, 10*time.Millisecond, log)
	sw.now = clk.Now
	sw.Start(context.Background())
	defer sw.Stop()

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = NewStore(Config{Store: "buntdb"})
	require.NoError(t, err)
	assert.IsType(t, &BuntStore{}, s)
	assert.Equal(t, 2*DefaultWindow, s.(*BuntStore).ttl)
	require.NoError(t, s.Close())

	_, err = NewStore(Config{Store: "redis"})
	assert.Error(t, err)
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "card:3:0113ABFF00112233", Key{Port: 3, Card: card.HexUpper(cardA)}.String())
}
