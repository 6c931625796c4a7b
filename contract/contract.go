//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"wechat-bridge/domain"
	"wechat-bridge/domain/event"
)

// WebProtocolClient is the raw WeChat web transport. All calls may fail
// with errors the core classifies, none of them are retried here.
type WebProtocolClient interface {
	GetChallenge(ctx context.Context) (domain.Challenge, error)
	AwaitScan(ctx context.Context, challenge domain.Challenge) (domain.SessionPrecursor, error)
	InitSession(ctx context.Context, precursor domain.SessionPrecursor) (domain.SessionToken, error)
	FetchContacts(ctx context.Context, token domain.SessionToken) ([]domain.RawContact, error)
	LongPoll(ctx context.Context, token domain.SessionToken) (domain.EventBatch, error)
	SendRaw(ctx context.Context, token domain.SessionToken, msg domain.RawMessage) error
	CreateGroup(ctx context.Context, token domain.SessionToken, members []domain.SessionID) (domain.SessionID, error)
	RenameGroup(ctx context.Context, token domain.SessionToken, group domain.SessionID, name string) error
	LogoutRaw(ctx context.Context, token domain.SessionToken) error
}

// KeyValueStore is the host-provided durable store. Lifetime is the host
// application, not the session.
type KeyValueStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Scan(prefix string) (map[string]string, error)
}

type EventSink interface {
	Consume(ctx context.Context, n event.Notification) error
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
