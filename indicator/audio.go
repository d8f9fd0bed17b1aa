package indicator

import (
	"felicad/sound"
)

// Audio implements Indicator by playing one clip per cue.
type Audio struct {
	player *sound.Player
	clips  map[Cue]string
}

// NewAudio maps each cue to its configured clip on player.
func NewAudio(player *sound.Player, cfg sound.Config) *Audio {
	return &Audio{
		player: player,
		clips: map[Cue]string{
			CueAccepted: cfg.Path(cfg.Clips.Accepted),
			CueAgain:    cfg.Path(cfg.Clips.Again),
			CueAdmin:    cfg.Path(cfg.Clips.Admin),
			CuePayback:  cfg.Path(cfg.Clips.Payback),
			CueActivate: cfg.Path(cfg.Clips.Activate),
			CueRegister: cfg.Path(cfg.Clips.Register),
			CueError:    cfg.Path(cfg.Clips.Error),
		},
	}
}

// Cue implements Indicator.Cue.
func (a *Audio) Cue(c Cue) {
	a.player.Play(a.clips[c])
}

// Idle implements Indicator.Idle.
func (a *Audio) Idle() {}

// Release implements Indicator.Release.
func (a *Audio) Release() error {
	a.player.Stop()
	return nil
}
