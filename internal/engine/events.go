package engine

import "github.com/warpdl/esgfetch/internal/worker"

// Event is the scheduler-facing alias of worker.Event. Re-exported here
// so callers that only import engine never need to reach into the
// worker package directly.
type Event = worker.Event
