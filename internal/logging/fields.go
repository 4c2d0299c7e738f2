package logging

import (
	"time"

	"github.com/felixgeelhaar/bolt/v3"
)

// Field is a function that applies structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// URL adds the request URL.
func URL(u string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("url", u)
	}
}

// Method adds the request method.
func Method(m string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("method", m)
	}
}

// Cache adds a cache generation name.
func Cache(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("cache", name)
	}
}

// Strategy adds the fetch strategy that served a request.
func Strategy(s string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("strategy", s)
	}
}

// Version adds a controller version.
func Version(v string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("version", v)
	}
}

// State adds a lifecycle state.
func State(s string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("state", s)
	}
}

// Status adds an HTTP status code.
func Status(code int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("status", code)
	}
}

// Count adds a generic count.
func Count(n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("count", n)
	}
}

// Duration adds a duration field in milliseconds.
func Duration(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("duration_ms", d.Milliseconds())
	}
}

// Str adds an arbitrary string field.
func Str(key, value string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str(key, value)
	}
}

// ErrorField adds an error field.
func ErrorField(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		if err == nil {
			return e
		}
		return e.Err(err)
	}
}
