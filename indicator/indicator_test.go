package indicator

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"felicad/sound"
)

// recorder is an Indicator that remembers every cue.
type recorder struct {
	mu       sync.Mutex
	cues     []Cue
	released bool
}

func (r *recorder) Cue(c Cue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cues = append(r.cues, c)
}

func (r *recorder) Idle() {}

func (r *recorder) Release() error {
	r.released = true
	return nil
}

func TestNewDefaults(t *testing.T) {
	ind, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &Noop{}, ind)

	one := &recorder{}
	ind, err = New(Config{}, one, nil)
	require.NoError(t, err)
	assert.Same(t, one, ind)

	two := &recorder{}
	ind, err = New(Config{}, one, two)
	require.NoError(t, err)
	require.IsType(t, &Multi{}, ind)

	ind.Cue(CueAgain)
	assert.Equal(t, []Cue{CueAgain}, one.cues)
	assert.Equal(t, []Cue{CueAgain}, two.cues)
	require.NoError(t, ind.Release())
	assert.True(t, one.released)
	assert.True(t, two.released)
}

func TestNewNeopixelMissingPipe(t *testing.T) {
	_, err := New(Config{NeopixelPipe: t.TempDir() + "/missing"})
	assert.Error(t, err)
}

func TestCueColors(t *testing.T) {
	assert.Equal(t, green, CueAccepted.color())
	assert.Equal(t, green, CuePayback.color())
	assert.Equal(t, yellow, CueAgain.color())
	assert.Equal(t, yellow, CueRegister.color())
	assert.Equal(t, red, CueError.color())
	assert.Equal(t, "payback", CuePayback.String())
}

func TestLampHoldReturnsToIdle(t *testing.T) {
	var (
		mu  sync.Mutex
		lit = map[color]bool{}
	)
	l := &lamp{hold: 20 * time.Millisecond, set: func(c color, on bool) {
		mu.Lock()
		defer mu.Unlock()
		lit[c] = on
	}}
	isLit := func(c color) bool {
		mu.Lock()
		defer mu.Unlock()
		return lit[c]
	}

	l.show(red)
	assert.True(t, isLit(red))
	l.show(green)
	assert.True(t, isLit(green))
	assert.False(t, isLit(red))

	assert.Eventually(t, func() bool { return !isLit(green) }, time.Second, 5*time.Millisecond)
	l.stop()
}

type pipeBuffer struct {
	bytes.Buffer
	closed bool
}

func (p *pipeBuffer) Close() error {
	p.closed = true
	return nil
}

func TestNeopixelWrites(t *testing.T) {
	buf := &pipeBuffer{}
	n := &Neopixel{pipe: buf}
	n.Cue(CueAccepted)
	n.Cue(CueError)
	n.Idle()
	require.NoError(t, n.Release())
	assert.Equal(t, neoOK+neoFail+neoIdle+neoTerminated, buf.String())
	assert.True(t, buf.closed)
	n.Cue(CueAgain)
}

func TestAudioQueuesClip(t *testing.T) {
	log, _ := test.NewNullLogger()
	cfg := sound.DefaultConfig()
	cfg.QueueSize = 1
	p := sound.NewPlayer(cfg, log)
	a := NewAudio(p, cfg)

	assert.Equal(t, "/usr/local/share/sounds/again.mp3", a.clips[CueAgain])
	assert.Equal(t, "/usr/local/share/sounds/admin-2.mp3", a.clips[CueAdmin])
	a.Cue(CueAgain)
	assert.False(t, p.Play("more.mp3"))
	require.NoError(t, a.Release())
}
