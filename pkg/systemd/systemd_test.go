package systemd

import "testing"

func TestNotifierStates(t *testing.T) {
	t.Parallel()
	var got []string
	n := &Notifier{notify: func(_ bool, state string) (bool, error) {
		got = append(got, state)
		return true, nil
	}}
	_, _ = n.Ready()
	_, _ = n.Watchdog()
	_, _ = n.Status("cursor 100")
	_, _ = n.Stopping()

	want := []string{"READY=1", "WATCHDOG=1", "STATUS=cursor 100", "STOPPING=1"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNilNotifierIsNoop(t *testing.T) {
	t.Parallel()
	var n *Notifier
	if ok, err := n.Ready(); ok || err != nil {
		t.Fatalf("Ready on nil = %v, %v", ok, err)
	}
}
