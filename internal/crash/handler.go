package crash

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
)

// RecoverWithStack recovers a panic and logs it with the stack trace.
// It must be deferred directly.
func RecoverWithStack(moduleName string) {
	if r := recover(); r != nil {
		report(moduleName, r, debug.Stack(), false)
	}
}

// RecoverWithStackAndExit is the main goroutine variant: it logs and exits
// with a non-zero status so the supervisor restarts the process.
func RecoverWithStackAndExit(moduleName string) {
	if r := recover(); r != nil {
		report(moduleName, r, debug.Stack(), true)
		// let the log writer flush
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}
}

// SafeGoroutine starts fn on a new goroutine with panic recovery.
func SafeGoroutine(name string, fn func()) {
	go func() {
		defer RecoverWithStack(fmt.Sprintf("goroutine-%s", name))
		fn()
	}()
}

// Guard runs fn and converts a panic into an error. Used where a caller
// must observe the failure, such as a claimed moderation decision.
func Guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			report(name, r, debug.Stack(), false)
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	return fn()
}

func report(moduleName string, r interface{}, stack []byte, fatal bool) {
	prefix := "PANIC"
	if fatal {
		prefix = "FATAL PANIC"
	}
	logger.Errorf("%s in %s: %v", prefix, moduleName, r)
	logger.Errorf("Stack trace:\n%s", string(stack))

	// stderr as well, so container logs show it
	fmt.Fprintf(os.Stderr, "[%s] %s - %s: %v\n", prefix, time.Now().Format("2006-01-02 15:04:05"), moduleName, r)
	fmt.Fprintf(os.Stderr, "Stack trace:\n%s\n", string(stack))

	logRuntimeInfo()
}

// logRuntimeInfo records runtime information to help debugging
func logRuntimeInfo() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	info := fmt.Sprintf(`
Runtime Information:
- Go version: %s
- Number of CPUs: %d
- Number of goroutines: %d
- Memory stats:
  - Heap allocated: %d KB
  - Heap in use: %d KB
  - Stack in use: %d KB
  - Num GC: %d
`,
		runtime.Version(),
		runtime.NumCPU(),
		runtime.NumGoroutine(),
		bToKb(m.HeapAlloc),
		bToKb(m.HeapInuse),
		bToKb(m.StackInuse),
		m.NumGC,
	)

	logger.Error(info)
}

func bToKb(b uint64) uint64 {
	return b / 1024
}
