package outbox

// Notifier receives "work available" hints. Implementations must not block.
type Notifier interface {
	Notify()
}

type NotifierFunc func()

func (f NotifierFunc) Notify() { f() }

// Notifiers fans one hint out to several notifiers, skipping nil entries.
type Notifiers []Notifier

func (ns Notifiers) Notify() {
	for _, n := range ns {
		if n != nil {
			n.Notify()
		}
	}
}
