// Command sleeper is the worker the supervisor spawns by default. It prints a
// tick now and then and otherwise sleeps, so tests can tell whether it is
// still alive.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

func main() {
	interval := flag.Duration("interval", 5*time.Second, "time between ticks")
	stderr := flag.Bool("stderr", false, "also tick on stderr")
	lifetime := flag.Duration("lifetime", 0, "exit after this long (0 runs until killed)")
	exitCode := flag.Int("exit", 0, "exit code used when the lifetime ends")
	flag.Parse()

	fmt.Println("sleeper-start", os.Getpid())

	var deadline <-chan time.Time
	if *lifetime > 0 {
		deadline = time.After(*lifetime)
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-ticker.C:
			fmt.Println("tick", n)
			if *stderr {
				fmt.Fprintln(os.Stderr, "tick", n)
			}
		case <-deadline:
			fmt.Println("sleeper-exit", *exitCode)
			os.Exit(*exitCode)
		}
	}
}
