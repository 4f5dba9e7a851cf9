package logx

import (
	"fmt"

	"github.com/rs/zerolog"
)

// CronLogger adapts a zerolog.Logger to cron.Logger.
type CronLogger struct {
	L zerolog.Logger
}

// Info logs routine scheduler activity at debug level.
func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	ev := c.L.Debug()
	addPairs(ev, keysAndValues).Msg(msg)
}

// Error logs scheduler faults, including recovered job panics.
func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	ev := c.L.Error().Err(err)
	addPairs(ev, keysAndValues).Msg(msg)
}

func addPairs(ev *zerolog.Event, kv []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		ev = ev.Interface(fmt.Sprint(kv[i]), kv[i+1])
	}
	return ev
}
