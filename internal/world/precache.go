package world

import (
	"errors"
	"fmt"
)

const (
	MaxModels = 2048
	MaxSounds = 2048
)

var (
	// ErrNotPrecached is returned for resources requested after loading
	// that were never registered.
	ErrNotPrecached   = errors.New("world: resource not precached")
	ErrPrecacheFull   = errors.New("world: precache list full")
	ErrPrecacheClosed = errors.New("world: precache after level load")
)

// Precache holds the level's model and sound lists. Index 0 is reserved
// for "none" in both. Lists only grow while the level is loading.
type Precache struct {
	models  []string
	sounds  []string
	modelIx map[string]int
	soundIx map[string]int
	closed  bool
}

func NewPrecache() *Precache {
	return &Precache{
		models:  []string{""},
		sounds:  []string{""},
		modelIx: make(map[string]int),
		soundIx: make(map[string]int),
	}
}

// Close freezes both lists once the level is running.
func (p *Precache) Close() { p.closed = true }

// AddModel registers name and returns its index.
func (p *Precache) AddModel(name string) (int, error) {
	return p.add(name, &p.models, p.modelIx, MaxModels)
}

// AddSound registers name and returns its index.
func (p *Precache) AddSound(name string) (int, error) {
	return p.add(name, &p.sounds, p.soundIx, MaxSounds)
}

func (p *Precache) add(name string, list *[]string, ix map[string]int, limit int) (int, error) {
	if name == "" {
		return 0, nil
	}
	if i, ok := ix[name]; ok {
		return i, nil
	}
	if p.closed {
		return 0, fmt.Errorf("%w: %s", ErrPrecacheClosed, name)
	}
	if len(*list) >= limit {
		return 0, fmt.Errorf("%w: %s", ErrPrecacheFull, name)
	}
	i := len(*list)
	*list = append(*list, name)
	ix[name] = i
	return i, nil
}

// ModelIndex looks up a registered model. The empty name maps to 0.
func (p *Precache) ModelIndex(name string) (int, error) {
	if name == "" {
		return 0, nil
	}
	if i, ok := p.modelIx[name]; ok {
		return i, nil
	}
	return 0, fmt.Errorf("%w: model %s", ErrNotPrecached, name)
}

// SoundIndex looks up a registered sound.
func (p *Precache) SoundIndex(name string) (int, bool) {
	i, ok := p.soundIx[name]
	return i, ok
}

// Models returns the model list, index 0 included.
func (p *Precache) Models() []string { return p.models }
func (p *Precache) Sounds() []string { return p.sounds }
