package wavelet

// Notifier consumes "new message" alerts. Implementations are best-effort
// UX (a sound, a desktop popup); they must never block or fail message flow,
// so the synchronizer invokes them on their own goroutine and swallows panics.
type Notifier interface {
	Notify(senderLabel, bodyPreview string)
}

// NotifierFunc adapts a plain function to the Notifier interface.
type NotifierFunc func(senderLabel, bodyPreview string)

func (f NotifierFunc) Notify(senderLabel, bodyPreview string) { f(senderLabel, bodyPreview) }

type noopNotifier struct{}

func (noopNotifier) Notify(string, string) {}

// fireNotify invokes the notifier fire-and-forget.
func fireNotify(n Notifier, sender, preview string) {
	if n == nil {
		return
	}
	go func() {
		defer func() { recover() }() // swallow panics in user callbacks
		n.Notify(sender, preview)
	}()
}
