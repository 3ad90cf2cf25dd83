package auth

import (
	"sync"
)

// Watcher holds the current identity of an in-process client and notifies subscribers when it
// changes. A nil identity means nobody is signed in.
type Watcher struct {
	mu      sync.Mutex
	current *Identity
	subs    map[uint64]func(*Identity)
	nextID  uint64
}

// NewWatcher constructs a watcher, optionally seeded with an initial identity.
func NewWatcher(initial *Identity) *Watcher {
	w := &Watcher{subs: make(map[uint64]func(*Identity))}
	if initial != nil && initial.UID != "" {
		w.current = initial
	}
	return w
}

// Current returns the signed-in identity, if any.
func (w *Watcher) Current() (*Identity, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current, w.current != nil
}

// Subscribe registers fn for identity changes. fn is called outside the watcher lock on the
// goroutine that made the change. The returned function removes the subscription.
func (w *Watcher) Subscribe(fn func(*Identity)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.subs[id] = fn
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, id)
			w.mu.Unlock()
		})
	}
}

// SignIn replaces the current identity. Signing in with the identity already present does not
// notify subscribers.
func (w *Watcher) SignIn(identity *Identity) {
	if identity == nil || identity.UID == "" {
		w.SignOut()
		return
	}
	w.set(identity)
}

// SignOut clears the current identity.
func (w *Watcher) SignOut() {
	w.set(nil)
}

func (w *Watcher) set(identity *Identity) {
	w.mu.Lock()
	if sameUser(w.current, identity) {
		w.current = identity
		w.mu.Unlock()
		return
	}
	w.current = identity
	subs := make([]func(*Identity), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()

	for _, fn := range subs {
		fn(identity)
	}
}

// CurrentUserID returns the uid of the signed-in identity.
func (w *Watcher) CurrentUserID() (string, bool) {
	identity, ok := w.Current()
	if !ok {
		return "", false
	}
	return identity.UID, true
}

// SubscribeUserID adapts Subscribe to uid notifications; "" signals sign-out.
func (w *Watcher) SubscribeUserID(fn func(userID string)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return w.Subscribe(func(identity *Identity) {
		if identity == nil {
			fn("")
			return
		}
		fn(identity.UID)
	})
}

func sameUser(a, b *Identity) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return a.UID == b.UID
	}
}
