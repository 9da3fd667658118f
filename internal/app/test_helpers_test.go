package app

import (
	"io"

	log "github.com/sirupsen/logrus"
)

// testLogger возвращает logger, не засоряющий вывод тестов.
func testLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "test")
}
