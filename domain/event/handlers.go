package event

// Handler Each kind of notification has his own handler
// Based on the Chain of responsibility pattern
type Handler interface {
	Handle(n Notification)
}
