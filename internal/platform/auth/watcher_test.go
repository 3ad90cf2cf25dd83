package auth

import "testing"

func TestWatcher_NotifiesOnChange(t *testing.T) {
	w := NewWatcher(nil)
	if _, ok := w.Current(); ok {
		t.Fatalf("expected no identity")
	}

	var seen []string
	unsubscribe := w.SubscribeUserID(func(uid string) { seen = append(seen, uid) })

	w.SignIn(NewIdentity("u1", "a@example.com"))
	w.SignIn(NewIdentity("u1", "a@example.com"))
	w.SignIn(NewIdentity("u2", ""))
	w.SignOut()
	w.SignOut()

	want := []string{"u1", "u2", ""}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	}

	unsubscribe()
	unsubscribe()
	w.SignIn(NewIdentity("u3", ""))
	if len(seen) != len(want) {
		t.Fatalf("expected no notifications after unsubscribe, got %v", seen)
	}
	if uid, ok := w.CurrentUserID(); !ok || uid != "u3" {
		t.Fatalf("expected current u3, got %q %v", uid, ok)
	}
}

func TestWatcher_SignInWithoutUIDSignsOut(t *testing.T) {
	w := NewWatcher(NewIdentity("u1", ""))
	var got *Identity
	called := false
	w.Subscribe(func(identity *Identity) {
		called = true
		got = identity
	})

	w.SignIn(&Identity{})
	if !called || got != nil {
		t.Fatalf("expected sign-out notification, got %v %+v", called, got)
	}
	if _, ok := w.Current(); ok {
		t.Fatalf("expected no identity after blank sign in")
	}
}
