package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/ttacon/chalk"

	"github.com/normalocity/pedestrians/logging"
)

// ConsoleSink prints one line per event in a logfmt-like layout.
type ConsoleSink struct {
	logger   *log.Logger
	useColor bool
}

func NewConsoleSink(w io.Writer, cfg logging.ConsoleConfig) *ConsoleSink {
	return &ConsoleSink{logger: log.New(w, "", log.LstdFlags), useColor: cfg.UseColor}
}

func (s *ConsoleSink) Write(event logging.Event) error {
	if s.logger == nil {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] tick=%d", event.Type, event.Tick)
	if actor := formatEntity(event.Actor); actor != "" {
		fmt.Fprintf(&b, " actor=%s", actor)
	}
	fmt.Fprintf(&b, " severity=%s", s.colorize(event.Severity))
	if event.CommandID != "" {
		fmt.Fprintf(&b, " command=%s", event.CommandID)
	}
	b.WriteString(formatPayload(event.Payload))
	b.WriteString(formatExtra(event.Extra))
	s.logger.Print(b.String())
	return nil
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

func (s *ConsoleSink) colorize(sev logging.Severity) string {
	if !s.useColor {
		return sev.String()
	}
	var color chalk.Color
	switch sev {
	case logging.SeverityDebug:
		color = chalk.Blue
	case logging.SeverityWarn:
		color = chalk.Yellow
	case logging.SeverityError:
		color = chalk.Red
	default:
		color = chalk.Green
	}
	return fmt.Sprintf("%v%s%v", color, sev, chalk.Reset)
}

func formatEntity(ref logging.EntityRef) string {
	if ref.ID == "" {
		return string(ref.Kind)
	}
	if ref.Kind == "" {
		return ref.ID
	}
	return fmt.Sprintf("%s:%s", ref.Kind, ref.ID)
}

func formatPayload(payload any) string {
	if payload == nil {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(" payload=%v", payload)
	}
	return fmt.Sprintf(" payload=%s", data)
}

func formatExtra(extra map[string]any) string {
	if len(extra) == 0 {
		return ""
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, extra[k])
	}
	return b.String()
}
