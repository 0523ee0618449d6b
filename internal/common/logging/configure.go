package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	FormatText = "text"
	FormatJson = "json"
)

// Config controls the level and output format of the standard logrus logger.
type Config struct {
	Level  string
	Format string
}

// ConfigureLogging sets up the standard logrus logger writing to stdout.
// An empty level defaults to info and an empty format defaults to text.
func ConfigureLogging(config Config) error {
	return ConfigureLoggingTo(os.Stdout, config)
}

func ConfigureLoggingTo(out io.Writer, config Config) error {
	level := log.InfoLevel
	if config.Level != "" {
		parsed, err := log.ParseLevel(config.Level)
		if err != nil {
			return errors.WithStack(err)
		}
		level = parsed
	}

	switch strings.ToLower(config.Format) {
	case "", FormatText:
		log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	case FormatJson:
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return errors.Errorf("unknown log format %q", config.Format)
	}

	log.SetLevel(level)
	log.SetOutput(out)
	return nil
}
