package queue

import (
	"math/rand"
	"strings"
	"time"
)

// Contention retry policy for queue writes. The busy_timeout pragma
// already resolves most lock waits at the connection level; these
// application-level retries are the backstop for what escapes it,
// chiefly SQLITE_IOERR_SHORT_READ under WAL churn.
const (
	retryAttempts  = 4
	retryBaseDelay = 25 * time.Millisecond
	retryMaxDelay  = 400 * time.Millisecond
)

// contentionMarkers are the substrings modernc.org/sqlite embeds in
// errors that retrying can resolve: SQLITE_BUSY (5), SQLITE_LOCKED (6),
// SQLITE_IOERR_SHORT_READ (522), and the busy_timeout fallthrough text.
var contentionMarkers = []string{
	"SQLITE_BUSY",
	"SQLITE_LOCKED",
	"IOERR_SHORT_READ",
	"database is locked",
	"database table is locked",
	"(5)",
	"(6)",
	"(522)",
}

func isContention(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range contentionMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// retryOnContention runs fn up to retryAttempts times, doubling the
// delay between attempts (capped, plus jitter so concurrent producers
// do not retry in lockstep). Non-contention errors return immediately.
func retryOnContention(fn func() error) error {
	delay := retryBaseDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !isContention(err) || attempt == retryAttempts {
			return err
		}
		time.Sleep(delay + time.Duration(rand.Int63n(int64(retryBaseDelay))))
		if delay *= 2; delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}
