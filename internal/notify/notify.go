package notify

import (
	"log/slog"
	"sync"
)

type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// PermissionSource is the platform notification-permission capability.
type PermissionSource interface {
	Permission() Permission
	RequestPermission() Permission
}

// Toaster is the in-app fallback surface.
type Toaster interface {
	Toast(level, title, message string)
}

// Notifier surfaces alerts through OS-level notifications when permitted and
// degrades to in-app toasts when denied. Denial is never an error.
type Notifier struct {
	perms  PermissionSource
	toasts Toaster
	system func(title, body string)

	mu    sync.Mutex
	asked bool
}

// New builds a Notifier. system delivers an OS-level notification; it is only
// invoked when permission is granted.
func New(perms PermissionSource, toasts Toaster, system func(title, body string)) *Notifier {
	return &Notifier{perms: perms, toasts: toasts, system: system}
}

func (n *Notifier) permitted() bool {
	p := n.perms.Permission()
	if p == PermissionDefault {
		n.mu.Lock()
		asked := n.asked
		n.asked = true
		n.mu.Unlock()
		if !asked {
			p = n.perms.RequestPermission()
		}
	}
	return p == PermissionGranted
}

// Alert surfaces an urgent message. OS-level when permitted, toast otherwise.
func (n *Notifier) Alert(title, message string) {
	if n.permitted() {
		n.system(title, message)
		return
	}
	slog.Debug("notification permission not granted, toasting instead", "title", title)
	n.toasts.Toast("error", title, message)
}

// Info surfaces a non-urgent message as a toast only.
func (n *Notifier) Info(title, message string) {
	n.toasts.Toast("info", title, message)
}

// LogToaster writes toasts to the structured log; the fallback of fallbacks
// for headless runs.
type LogToaster struct{}

func (LogToaster) Toast(level, title, message string) {
	slog.Info("toast", "level", level, "title", title, "message", message)
}

// StaticPermission is a fixed-grant PermissionSource for wiring and tests.
type StaticPermission Permission

func (p StaticPermission) Permission() Permission        { return Permission(p) }
func (p StaticPermission) RequestPermission() Permission { return Permission(p) }
