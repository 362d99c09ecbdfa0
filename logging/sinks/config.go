package sinks

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/normalocity/pedestrians/logging"
)

// FromConfig builds the sinks named in cfg.EnabledSinks. Console output goes
// to stdout; the JSON sink appends to cfg.JSON.FilePath. Unknown names are
// ignored.
func FromConfig(cfg logging.Config, stdout io.Writer) ([]logging.NamedSink, error) {
	var named []logging.NamedSink
	for _, name := range cfg.EnabledSinks {
		switch name {
		case logging.SinkConsole:
			named = append(named, logging.NamedSink{Name: name, Sink: NewConsoleSink(stdout, cfg.Console)})
		case logging.SinkJSON:
			if cfg.JSON.FilePath == "" {
				return nil, errors.New("json sink enabled without a file path")
			}
			if dir := filepath.Dir(cfg.JSON.FilePath); dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, errors.Wrapf(err, "create log directory %s", dir)
				}
			}
			f, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, errors.Wrapf(err, "open json log %s", cfg.JSON.FilePath)
			}
			named = append(named, logging.NamedSink{Name: name, Sink: NewJSON(f, cfg.JSON.FlushInterval)})
		case logging.SinkMemory:
			named = append(named, logging.NamedSink{Name: name, Sink: NewMemorySink()})
		}
	}
	return named, nil
}
