package ident

import (
	"regexp"
	"sync"

	"github.com/pkg/errors"
)

// ErrCapacityExhausted means the allocator handed out every suffix it can.
var ErrCapacityExhausted = errors.New("user id capacity exhausted")

var (
	letterSuffixRE  = regexp.MustCompile(`^[A-Z]{6}$`)
	numeralSuffixRE = regexp.MustCompile(`^[A-Z][0-9]{5}$`)
)

type phase int

const (
	// letterPhase counts AAAAAA through ZZZZZZ in base 26.
	letterPhase phase = iota

	// numeralPhase keeps a letter in position 0 and counts positions 1-5 in
	// base 10.
	numeralPhase
)

// Allocator hands out UID suffixes for users registering on this server.
//
// Suffixes are never reused during a run. It is safe for concurrent use.
type Allocator struct {
	mu        sync.Mutex
	current   [suffixLength]byte
	phase     phase
	exhausted bool
}

// NewAllocator creates an Allocator. The first suffix it returns is AAAAAA.
func NewAllocator() *Allocator {
	a := &Allocator{}
	for i := range a.current {
		a.current[i] = 'A'
	}
	return a
}

// NewAllocatorAt creates an Allocator whose first suffix is the given one.
// Six letters resume the letter phase. A letter followed by five digits
// resumes the numeral phase.
func NewAllocatorAt(suffix string) (*Allocator, error) {
	a := &Allocator{}

	switch {
	case letterSuffixRE.MatchString(suffix):
		a.phase = letterPhase
	case numeralSuffixRE.MatchString(suffix):
		a.phase = numeralPhase
	default:
		return nil, errors.Errorf("invalid suffix %q", suffix)
	}

	copy(a.current[:], suffix)
	return a, nil
}

// Next returns the next unused suffix.
func (a *Allocator) Next() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.exhausted {
		return "", ErrCapacityExhausted
	}

	suffix := string(a.current[:])
	a.advance()
	return suffix, nil
}

// advance moves current to the value the next call will return.
func (a *Allocator) advance() {
	if a.phase == letterPhase {
		for i := suffixLength - 1; i >= 0; i-- {
			if a.current[i] != 'Z' {
				a.current[i]++
				return
			}
			a.current[i] = 'A'
		}

		// We passed ZZZZZZ. Switch to numerals. The counter is seeded at A00000
		// and incremented before anyone sees it, so A00000 is never handed out.
		a.phase = numeralPhase
		a.current = [suffixLength]byte{'A', '0', '0', '0', '0', '0'}
	}

	a.incrementNumeral()
}

func (a *Allocator) incrementNumeral() {
	for {
		for i := suffixLength - 1; i >= 1; i-- {
			if a.current[i] != '9' {
				a.current[i]++
				return
			}
			a.current[i] = '0'
		}

		if a.current[0] == 'Z' {
			a.exhausted = true
			return
		}

		// Carry into the letter. The digits start over, and like the phase
		// switch we increment once more (B00001 follows A99999).
		a.current[0]++
	}
}
