package queue

// Events are observer callbacks, set before Start. They run synchronously
// on worker goroutines, so implementations must be safe for concurrent use
// and quick. Nil callbacks are skipped.
type Events struct {
	// OnActive fires when a handler starts a leased item.
	OnActive func(item *Item)

	// OnCompleted fires when a handler finishes an item successfully.
	OnCompleted func(item *Item)

	// OnFailed fires only on terminal failure: attempts exhausted or the
	// stall limit crossed. Per-attempt failures that will retry do not fire.
	OnFailed func(item *Item, err error)

	// OnStalled fires each time a lapsed lease is republished.
	OnStalled func(itemID int64)

	// OnError fires on queue-internal errors (Redis trouble, bad members).
	OnError func(err error)
}

func (e *Events) emitActive(item *Item) {
	if e.OnActive != nil {
		e.OnActive(item)
	}
}

func (e *Events) emitCompleted(item *Item) {
	if e.OnCompleted != nil {
		e.OnCompleted(item)
	}
}

func (e *Events) emitFailed(item *Item, err error) {
	if e.OnFailed != nil {
		e.OnFailed(item, err)
	}
}

func (e *Events) emitStalled(itemID int64) {
	if e.OnStalled != nil {
		e.OnStalled(itemID)
	}
}

func (e *Events) emitError(err error) {
	if e.OnError != nil {
		e.OnError(err)
	}
}
