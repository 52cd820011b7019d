package checkout

type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyError   NotificationKind = "error"
	NotifyWarning NotificationKind = "warning"
)

type Notification struct {
	Kind    NotificationKind
	Title   string
	Message string
}

// Notifier shows a toast. It is called from the controller goroutine and
// must not call back into the Controller.
type Notifier interface {
	Notify(n Notification)
}

type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Clipboard receives the payment address on copy.
type Clipboard interface {
	WriteText(text string) error
}

var (
	notifyConfirmed = Notification{
		Kind:    NotifySuccess,
		Title:   "Payment confirmed",
		Message: "Your purchase is complete.",
	}
	notifyFailed = Notification{
		Kind:    NotifyError,
		Title:   "Payment failed",
		Message: "The payment did not go through. Please try again.",
	}
	notifyExpired = Notification{
		Kind:    NotifyWarning,
		Title:   "Payment session expired",
		Message: "The payment window has closed. Please start a new payment.",
	}
	notifyCreateFailed = Notification{
		Kind:    NotifyError,
		Title:   "Could not start payment",
		Message: "Something went wrong. Please try again.",
	}
)
