package bus

import "context"

// Handler processes one TaskResponse consumed from a response topic.
// Returning an error leaves the message unacknowledged (RedisBus keeps it in
// the consumer group's pending-entries list); neither implementation
// re-delivers or claims it again, and MemoryBus ignores the error.
type Handler func(ctx context.Context, resp TaskResponse) error

// Bus is the transport contract consumed by the conversation engine
// (Dispatch) and by a response-side subscriber (Subscribe). Messages are
// carried per topic; neither implementation partitions by session id, so
// ordering across one session's tasks is only that of the topic itself.
type Bus interface {
	// Dispatch publishes req to its task type's request topic.
	Dispatch(ctx context.Context, topic string, req TaskRequest) error

	// Subscribe starts consuming resp topic under the given consumer group,
	// invoking handler for each message and acking on a nil return. It
	// blocks until ctx is canceled.
	Subscribe(ctx context.Context, topic, group, consumer string, handler Handler) error

	// Close releases underlying connections.
	Close() error
}
