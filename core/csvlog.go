package core

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/powermodel-sim/internal/logging"
)

// Log names used in metrics, spans and file names.
const (
	EventLog       = "eventlog"
	StateLog       = "statelog"
	StaticPowerLog = "static_power_log"
	EventPowerLog  = "event_power_log"
)

type logFiles struct {
	event   string
	state   string
	static  string
	dynamic string
}

// LogPath returns the file a channel named name writes the given log to.
func LogPath(dir, name, log string) string {
	return filepath.Join(dir, name+"_"+log+".csv")
}

// createLogFiles creates dir and truncates the four log files of a channel.
func createLogFiles(dir, name string) (*logFiles, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create log directory %q: %w", ErrLogStorage, dir, err)
	}
	files := &logFiles{
		event:   LogPath(dir, name, EventLog),
		state:   LogPath(dir, name, StateLog),
		static:  LogPath(dir, name, StaticPowerLog),
		dynamic: LogPath(dir, name, EventPowerLog),
	}
	for _, path := range []string{files.event, files.state, files.static, files.dynamic} {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLogStorage, err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLogStorage, err)
		}
	}
	return files, nil
}

func (c *Channel) flushEventLog(rows []eventRow) {
	if c.files == nil {
		return
	}
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		rec := make([]string, 0, len(r.counts)+1)
		for _, n := range r.counts {
			rec = append(rec, strconv.FormatUint(n, 10))
		}
		records = append(records, append(rec, micros(r.end)))
	}
	c.appendLog(EventLog, c.files.event, c.eventLogHeader, records)
}

func (c *Channel) flushStateLog(rows []stateRow) {
	if c.files == nil {
		return
	}
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		rec := make([]string, 0, len(r.states)+1)
		for _, s := range r.states {
			rec = append(rec, strconv.Itoa(int(s)))
		}
		records = append(records, append(rec, micros(r.end)))
	}
	c.appendLog(StateLog, c.files.state, c.stateLogHeader, records)
}

func (c *Channel) flushStaticPowerLog(samples []powerSample) {
	if c.files == nil {
		return
	}
	c.appendLog(StaticPowerLog, c.files.static, c.staticPowerHeader, powerRecords(samples))
}

func (c *Channel) flushEventPowerLog(samples []powerSample) {
	if c.files == nil {
		return
	}
	c.appendLog(EventPowerLog, c.files.dynamic, c.eventPowerHeader, powerRecords(samples))
}

func powerRecords(samples []powerSample) [][]string {
	avg := averageSamples(samples, averagingFactor)
	records := make([][]string, 0, len(avg))
	for _, s := range avg {
		rec := make([]string, 0, len(s.values)+1)
		for _, v := range s.values {
			rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
		}
		records = append(records, append(rec, strconv.FormatFloat(s.at.Seconds(), 'g', -1, 64)))
	}
	return records
}

func (c *Channel) eventLogHeader() [][]string {
	rec := make([]string, 0, len(c.events)+1)
	for _, e := range c.events {
		rec = append(rec, c.moduleNames[e.module]+" "+e.model.Name())
	}
	return [][]string{append(rec, "time(us)")}
}

func (c *Channel) stateLogHeader() [][]string {
	records := [][]string{{"module", "state", "id"}}
	for id, s := range c.states {
		records = append(records, []string{c.moduleNames[s.module], s.model.Name(), strconv.Itoa(id)})
	}
	records = append(records, []string{}, []string{})
	return append(records, append(append([]string(nil), c.moduleNames...), "time(us)"))
}

func (c *Channel) staticPowerHeader() [][]string {
	rec := append([]string(nil), c.moduleNames...)
	return [][]string{append(rec, "total", "time(s)")}
}

func (c *Channel) eventPowerHeader() [][]string {
	rec := make([]string, 0, len(c.events)+2)
	for _, e := range c.events {
		rec = append(rec, e.model.Name())
	}
	return [][]string{append(rec, "total", "time(s)")}
}

// appendLog appends records to a log file, writing the header first when the
// file is empty. Failures are logged and kept as the sticky channel error.
func (c *Channel) appendLog(log, path string, header func() [][]string, records [][]string) {
	ctx, span := c.tracer.Start(context.Background(), "powermodel.flush",
		trace.WithAttributes(
			attribute.String("channel", c.name),
			attribute.String("log", log),
			attribute.Int("rows", len(records)),
		),
	)
	defer span.End()

	start := time.Now()
	err := appendCSV(path, header, records)
	c.metrics.LogFlushed(c.name, log, len(records), time.Since(start), err)
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.log.Error(ctx, "flush power log failed",
		logging.String("log", log),
		logging.String("path", path),
		logging.Err(err),
	)
	if c.err == nil {
		c.err = fmt.Errorf("%w: flush %s: %w", ErrLogStorage, log, err)
	}
}

func appendCSV(path string, header func() [][]string, records [][]string) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.WriteAll(header()); err != nil {
			return err
		}
	}
	return w.WriteAll(records)
}

func micros(d time.Duration) string {
	return strconv.FormatInt(d.Microseconds(), 10)
}
