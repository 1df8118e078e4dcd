package queue

import (
	"fmt"
	"path/filepath"
)

// Version is the on-disk queue format version. Bump it whenever the
// schema or payload encoding changes: old queue files are then simply
// left behind instead of being misread.
const Version = 1

// Path returns the queue database path for one client identity. Each
// (client, server host, port, user) tuple gets its own file so that
// concurrent clients for different users or servers never collide.
func Path(dir, clientName, host string, port int, user string) string {
	name := fmt.Sprintf("%s-at-%s-on-%d.%s.v%d.queue.db", clientName, host, port, user, Version)
	return filepath.Join(dir, "queued", name)
}
