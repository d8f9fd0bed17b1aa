// Package sound plays short audio clips through an external player.
package sound

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

const (
	DefaultDir       = "/usr/local/share/sounds"
	DefaultCommand   = "mpg123"
	DefaultQueueSize = 16
)

// Clips names the file played for each cue. Relative names are resolved
// against Config.Dir. An empty name disables that cue.
type Clips struct {
	Accepted string `yaml:"accepted"`
	Again    string `yaml:"again"`
	Admin    string `yaml:"admin"`
	Payback  string `yaml:"payback"`
	Activate string `yaml:"activate"`
	Register string `yaml:"register"`
	Error    string `yaml:"error"`
}

// Config holds the audio configuration.
type Config struct {
	Disabled  bool   `yaml:"disabled"`
	Dir       string `yaml:"dir"`
	Command   string `yaml:"command"`
	QueueSize int    `yaml:"queue_size"`
	Clips     Clips  `yaml:"clips"`
}

// DefaultConfig returns the stock clip set.
func DefaultConfig() Config {
	return Config{
		Dir:       DefaultDir,
		Command:   DefaultCommand,
		QueueSize: DefaultQueueSize,
		Clips: Clips{
			Accepted: "paypay.mp3",
			Again:    "again.mp3",
			Admin:    "admin-2.mp3",
			Payback:  "payback-3.mp3",
			Activate: "activate.mp3",
			Register: "register.mp3",
			Error:    "error-2.mp3",
		},
	}
}

// Path resolves a clip name against the configured directory.
func (c Config) Path(clip string) string {
	if clip == "" || filepath.IsAbs(clip) {
		return clip
	}
	return filepath.Join(c.Dir, clip)
}

// Player plays clips one at a time from a bounded queue. Play never
// blocks: when the queue is full the clip is dropped.
type Player struct {
	command string
	queue   chan string
	log     logrus.FieldLogger
	run     func(ctx context.Context, command, path string) error

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPlayer creates a Player. Call Start to begin playback.
func NewPlayer(cfg Config, log logrus.FieldLogger) *Player {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	command := cfg.Command
	if command == "" {
		command = DefaultCommand
	}
	return &Player{
		command: command,
		queue:   make(chan string, size),
		log:     log.WithField("component", "sound"),
		run:     runPlayer,
		done:    make(chan struct{}),
	}
}

// Start launches the playback goroutine. It exits when ctx is cancelled
// or Stop is called; queued clips are discarded.
func (p *Player) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)
}

// Stop ends playback and waits for the goroutine.
func (p *Player) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Play queues path for playback and reports whether it was accepted.
func (p *Player) Play(path string) bool {
	if path == "" {
		return false
	}
	select {
	case p.queue <- path:
		return true
	default:
		p.log.WithField("clip", path).Debug("Audio queue full, dropping clip")
		return false
	}
}

func (p *Player) loop(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-p.queue:
			if err := p.run(ctx, p.command, path); err != nil && ctx.Err() == nil {
				p.log.WithError(err).WithField("clip", path).Warn("Audio playback failed")
			}
		}
	}
}

func runPlayer(ctx context.Context, command, path string) error {
	out, err := exec.CommandContext(ctx, command, "-q", path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", command, path, err, out)
	}
	return nil
}
