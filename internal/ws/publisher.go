package ws

// Publisher receives dashboard events for delivery to some audience
type Publisher interface {
	Publish(event string, data any)
}

// Fanout forwards every event to each of its publishers in order
type Fanout []Publisher

// Publish implements Publisher
func (f Fanout) Publish(event string, data any) {
	for _, p := range f {
		if p != nil {
			p.Publish(event, data)
		}
	}
}

// Discard drops every event
type Discard struct{}

// Publish implements Publisher
func (Discard) Publish(string, any) {}
