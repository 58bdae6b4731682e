package chat

import "context"

// RecordStore is the store of record for chat sessions. Implementations must
// not retry or cache.
type RecordStore interface {
	Create(ctx context.Context, kind Kind, messages []Message, metadata Metadata) (string, error)
	Update(ctx context.Context, id string, messages []Message, metadata Metadata) error
	Get(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context, kind Kind) ([]Summary, error)
	// Delete treats an already deleted id as success.
	Delete(ctx context.Context, id string) error
}

// Engine produces assistant replies for a conversation threaded by engineSession.
type Engine interface {
	Reply(ctx context.Context, kind Kind, engineSession, message string) (*Reply, error)
}

// Observer receives the controller's notifications. Methods are called
// without the controller's lock held.
type Observer interface {
	// SessionCreated fires after a create call assigned id. current is false
	// when the conversation was abandoned before the id came back.
	SessionCreated(ctx context.Context, kind Kind, id string, current bool)
	// PersistFailed reports a non-fatal write failure.
	PersistFailed(h Handle, err error)
	// SessionVanished fires when an update found the open session deleted.
	SessionVanished(ctx context.Context, id string)
}

// ListObserver receives the projector's notifications.
type ListObserver interface {
	SessionDeleted(ctx context.Context, id string)
}
