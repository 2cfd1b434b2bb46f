package event

import "github.com/google/uuid"

// Server lifecycle events, emitted by the frame loop.

type ClientConnected struct {
	Slot    int
	Address string
}

type ClientSpawned struct {
	Slot int
	Name string
}

type ClientDropped struct {
	Slot  int
	Name  string
	Crash bool
}

type LevelSpawned struct {
	Name    string
	LevelID uuid.UUID
}
