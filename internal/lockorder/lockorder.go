// Package lockorder enforces the global lock-acquisition partial order
// described in spec.md §4.2, ported from the C++ original's
// LockHierarchyEnforcer (src/core/LockHierarchy.h). Go has no public
// thread-id equivalent that survives goroutine hand-off, so callers carry
// an explicit *Token through the call chain instead of the original's
// std::thread::id keying — the tracked state (per-caller stack of
// acquired levels) is otherwise identical.
package lockorder

import (
	"fmt"
	"log"
	"sync"
)

// Level is a position in the global lock hierarchy. Locks must be
// acquired in strictly ascending level order.
type Level int

const (
	LevelPortAllocator Level = iota + 1
	LevelCrossCameraRegistry
	LevelEventSink
	LevelSupervisor
	LevelPipeline
	LevelAttributeStats
)

func (l Level) String() string {
	switch l {
	case LevelPortAllocator:
		return "PortAllocator"
	case LevelCrossCameraRegistry:
		return "CrossCameraRegistry"
	case LevelEventSink:
		return "EventSink"
	case LevelSupervisor:
		return "Supervisor"
	case LevelPipeline:
		return "Pipeline"
	case LevelAttributeStats:
		return "AttributeStats"
	default:
		return "Unknown"
	}
}

type frame struct {
	level Level
	name  string
}

// Token is the per-caller lock stack. Create one per goroutine (or per
// logical call chain) that participates in the hierarchy and pass it
// through function calls the way a context.Context is threaded.
type Token struct {
	mu    sync.Mutex
	stack []frame
}

// NewToken creates an empty lock stack for a new call chain.
func NewToken() *Token {
	return &Token{}
}

// Guard is the process-wide enforcer. StrictMode selects assert-and-panic
// (debug) vs log-and-refuse (release) behavior on a violation, per
// spec.md §4.2 and §7 ("Logic violations ... asserted in debug, logged in
// release; the offending operation is refused").
type Guard struct {
	StrictMode bool
	logger     *log.Logger

	mu        sync.Mutex
	violations uint64
}

// New constructs a Guard. A nil logger defaults to log.Default().
func New(strict bool, logger *log.Logger) *Guard {
	if logger == nil {
		logger = log.Default()
	}
	return &Guard{StrictMode: strict, logger: logger}
}

// ErrViolation is returned by Acquire when the requested level would
// break the hierarchy.
type ErrViolation struct {
	Requested Level
	Current   Level
	Name      string
}

func (e *ErrViolation) Error() string {
	return fmt.Sprintf("lock order violation: cannot acquire %s (level %d) while holding level %d",
		e.Name, e.Requested, e.Current)
}

// Acquire records the intent to take a lock at the given level under the
// given name. It returns an error (never panics outside StrictMode) when
// the requested level is <= the token's current top level, unless the
// same named lock is being re-entered (recursive acquisition is allowed).
func (g *Guard) Acquire(tok *Token, level Level, name string) error {
	tok.mu.Lock()
	defer tok.mu.Unlock()

	if len(tok.stack) > 0 {
		top := tok.stack[len(tok.stack)-1]
		if top.name == name {
			// Recursive acquisition of the same lock is permitted.
			tok.stack = append(tok.stack, frame{level, name})
			return nil
		}
		if level <= top.level {
			g.mu.Lock()
			g.violations++
			g.mu.Unlock()
			err := &ErrViolation{Requested: level, Current: top.level, Name: name}
			if g.StrictMode {
				panic(err.Error())
			}
			g.logger.Printf("lockorder: refused acquisition: %v", err)
			return err
		}
	}
	tok.stack = append(tok.stack, frame{level, name})
	return nil
}

// Release pops the most recent acquisition for name. It is a caller bug
// to release a lock that was not the top of the stack; Release reports
// that as an error rather than corrupting the stack.
func (g *Guard) Release(tok *Token, name string) error {
	tok.mu.Lock()
	defer tok.mu.Unlock()

	if len(tok.stack) == 0 {
		return fmt.Errorf("lockorder: release %q with empty stack", name)
	}
	top := tok.stack[len(tok.stack)-1]
	if top.name != name {
		return fmt.Errorf("lockorder: release %q does not match top-of-stack %q", name, top.name)
	}
	tok.stack = tok.stack[:len(tok.stack)-1]
	return nil
}

// CurrentLevel returns the highest level currently held by tok, or 0 if
// the token holds nothing.
func (g *Guard) CurrentLevel(tok *Token) Level {
	tok.mu.Lock()
	defer tok.mu.Unlock()
	if len(tok.stack) == 0 {
		return 0
	}
	return tok.stack[len(tok.stack)-1].level
}

// Violations returns the number of refused acquisitions observed so far;
// useful for the randomized-workload property test in spec.md §8 item 4.
func (g *Guard) Violations() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.violations
}
