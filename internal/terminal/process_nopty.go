//go:build windows

package terminal

import "go.uber.org/zap"

const ptySupported = false

func newPTYSpawner(logger *zap.Logger) Spawner {
	return newPipeSpawner(logger)
}
