package render

import (
	"fmt"
	"strings"

	"visdom/internal/domain"
)

// DefaultDenylist holds the literal substrings a developer script may not contain.
var DefaultDenylist = []string{"import os", "import sys", "import subprocess", "rm -rf", "shutil"}

// GuardError names the denied literal found in a script.
type GuardError struct {
	Literal string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("script contains forbidden content %q", e.Literal)
}

func (e *GuardError) Unwrap() error { return domain.ErrGuardRejected }

// Guard is a literal substring denylist. It is a coarse filter against
// accidental damage, not a sandbox.
type Guard struct {
	denylist []string
}

// NewGuard returns a guard over denylist, or DefaultDenylist when empty.
func NewGuard(denylist ...string) *Guard {
	if len(denylist) == 0 {
		denylist = DefaultDenylist
	}
	return &Guard{denylist: denylist}
}

// Check returns a *GuardError for the first denied literal found in script.
func (g *Guard) Check(script string) error {
	for _, literal := range g.denylist {
		if strings.Contains(script, literal) {
			return &GuardError{Literal: literal}
		}
	}
	return nil
}
