package logging

import (
	log "github.com/sirupsen/logrus"
)

// CommandLineFormatter prints bare messages. Warnings and errors are prefixed with their level.
type CommandLineFormatter struct{}

func (f *CommandLineFormatter) Format(entry *log.Entry) ([]byte, error) {
	if entry.Level <= log.WarnLevel {
		return []byte(entry.Level.String() + ": " + entry.Message + "\n"), nil
	}
	return []byte(entry.Message + "\n"), nil
}
