package uci

import "errors"

var (
	ErrSpawn             = errors.New("engine spawn failed")
	ErrWrite             = errors.New("engine write failed")
	ErrNoActiveSession   = errors.New("no active engine session")
	ErrSessionTerminated = errors.New("engine session terminated")
)
