package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/r3labs/sse/v2"
	"github.com/rs/zerolog"
)

// LogStream is the SSE stream id log lines are published on.
const LogStream = "logs"

const defaultTimeFormat = time.Kitchen

// SSEPublisher is the part of *sse.Server the writer needs.
type SSEPublisher interface {
	Publish(id string, event *sse.Event)
}

// LogMessage is the payload of one log event on the stream.
type LogMessage struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (m LogMessage) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

type formatter func(interface{}) string

// SSEWriter turns zerolog JSON lines into human-readable console lines and
// publishes them as server-sent events.
type SSEWriter struct {
	SSE        SSEPublisher
	TimeFormat string
	PartsOrder []string

	FormatTimestamp formatter
	FormatLevel     formatter
	FormatCaller    formatter
	FormatMessage   formatter
	FormatFieldName formatter
	FormatFieldVal  formatter
}

func NewSSEWriter(sse SSEPublisher, options ...func(w *SSEWriter)) SSEWriter {
	w := SSEWriter{
		SSE:        sse,
		TimeFormat: defaultTimeFormat,
		PartsOrder: defaultPartsOrder(),
	}

	for _, opt := range options {
		opt(&w)
	}

	return w
}

func (w SSEWriter) Write(p []byte) (n int, err error) {
	if w.SSE == nil {
		return 0, nil
	}

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	if err := d.Decode(&evt); err != nil {
		return n, errors.Wrap(err, "cannot decode event")
	}

	var msg bytes.Buffer
	for _, part := range w.PartsOrder {
		if part == zerolog.TimestampFieldName || part == zerolog.LevelFieldName {
			continue
		}
		w.writePart(&msg, evt, part)
	}
	w.writeFields(&msg, evt)

	line := LogMessage{
		Time:    w.timestamp()(evt[zerolog.TimestampFieldName]),
		Level:   w.level()(evt[zerolog.LevelFieldName]),
		Message: strings.TrimSpace(msg.String()),
	}

	data, err := line.Bytes()
	if err != nil {
		return n, errors.Wrap(err, "cannot encode log message")
	}

	w.SSE.Publish(LogStream, &sse.Event{Data: data})

	return len(p), nil
}

// writeFields appends every non-standard field sorted by name, errors first.
func (w SSEWriter) writeFields(buf *bytes.Buffer, evt map[string]interface{}) {
	fields := make([]string, 0, len(evt))
	for field := range evt {
		switch field {
		case zerolog.LevelFieldName, zerolog.TimestampFieldName, zerolog.MessageFieldName, zerolog.CallerFieldName:
			continue
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for i, field := range fields {
		if field == zerolog.ErrorFieldName {
			fields[0], fields[i] = fields[i], fields[0]
			break
		}
	}

	fieldName := w.fieldName()
	fieldVal := w.fieldVal()

	for i, field := range fields {
		if i > 0 || buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(fieldName(field))

		switch value := evt[field].(type) {
		case string:
			if needsQuote(value) {
				buf.WriteString(strconv.Quote(value))
			} else {
				buf.WriteString(value)
			}
		case json.Number:
			buf.WriteString(value.String())
		default:
			b, err := json.Marshal(value)
			if err != nil {
				fmt.Fprintf(buf, "[error: %v]", err)
			} else {
				buf.WriteString(fieldVal(string(b)))
			}
		}
	}
}

func (w SSEWriter) writePart(buf *bytes.Buffer, evt map[string]interface{}, part string) {
	var f formatter

	switch part {
	case zerolog.LevelFieldName:
		f = w.level()
	case zerolog.TimestampFieldName:
		f = w.timestamp()
	case zerolog.MessageFieldName:
		f = w.message()
	case zerolog.CallerFieldName:
		f = w.caller()
	default:
		f = w.fieldVal()
	}

	s := f(evt[part])
	if len(s) == 0 {
		return
	}

	if buf.Len() > 0 {
		buf.WriteByte(' ')
	}
	buf.WriteString(s)
}

func (w SSEWriter) timestamp() formatter {
	if w.FormatTimestamp != nil {
		return w.FormatTimestamp
	}
	return defaultFormatTimestamp(w.TimeFormat)
}

func (w SSEWriter) level() formatter {
	if w.FormatLevel != nil {
		return w.FormatLevel
	}
	return defaultFormatLevel()
}

func (w SSEWriter) caller() formatter {
	if w.FormatCaller != nil {
		return w.FormatCaller
	}
	return defaultFormatCaller()
}

func (w SSEWriter) message() formatter {
	if w.FormatMessage != nil {
		return w.FormatMessage
	}
	return defaultFormatMessage
}

func (w SSEWriter) fieldName() formatter {
	if w.FormatFieldName != nil {
		return w.FormatFieldName
	}
	return defaultFormatFieldName()
}

func (w SSEWriter) fieldVal() formatter {
	if w.FormatFieldVal != nil {
		return w.FormatFieldVal
	}
	return defaultFormatFieldValue
}

func needsQuote(s string) bool {
	for i := range s {
		if s[i] < 0x20 || s[i] > 0x7e || s[i] == ' ' || s[i] == '\\' || s[i] == '"' {
			return true
		}
	}
	return false
}

func defaultPartsOrder() []string {
	return []string{
		zerolog.TimestampFieldName,
		zerolog.LevelFieldName,
		zerolog.CallerFieldName,
		zerolog.MessageFieldName,
	}
}

func defaultFormatTimestamp(timeFormat string) formatter {
	if timeFormat == "" {
		timeFormat = defaultTimeFormat
	}
	return func(i interface{}) string {
		switch tt := i.(type) {
		case string:
			ts, err := time.Parse(zerolog.TimeFieldFormat, tt)
			if err != nil {
				return tt
			}
			return ts.Local().Format(timeFormat)
		case json.Number:
			sec, err := tt.Int64()
			if err != nil {
				return tt.String()
			}
			return time.Unix(sec, 0).Local().Format(timeFormat)
		case nil:
			return ""
		default:
			return fmt.Sprintf("%v", i)
		}
	}
}

func defaultFormatLevel() formatter {
	return func(i interface{}) string {
		ll, ok := i.(string)
		if !ok {
			return "???"
		}
		switch ll {
		case zerolog.LevelTraceValue:
			return "TRC"
		case zerolog.LevelDebugValue:
			return "DBG"
		case zerolog.LevelInfoValue:
			return "INF"
		case zerolog.LevelWarnValue:
			return "WRN"
		case zerolog.LevelErrorValue:
			return "ERR"
		case zerolog.LevelFatalValue:
			return "FTL"
		case zerolog.LevelPanicValue:
			return "PNC"
		default:
			return ll
		}
	}
}

func defaultFormatCaller() formatter {
	return func(i interface{}) string {
		c, ok := i.(string)
		if !ok || c == "" {
			return ""
		}
		return c + " >"
	}
}

func defaultFormatMessage(i interface{}) string {
	if i == nil {
		return ""
	}
	return fmt.Sprintf("%s", i)
}

func defaultFormatFieldName() formatter {
	return func(i interface{}) string {
		return fmt.Sprintf("%s=", i)
	}
}

func defaultFormatFieldValue(i interface{}) string {
	if i == nil {
		return ""
	}
	return fmt.Sprintf("%s", i)
}
