package sigctl

import (
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
)

// Catch installs a handler for sig that does nothing but drain it. Its only
// purpose is to make the signal interrupt a blocking system call instead of
// taking its default action. The returned stop function is idempotent.
func Catch(sig unix.Signal) (func(), error) {
	if err := ValidateSignal(int(sig)); err != nil {
		return nil, err
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}, nil
}
