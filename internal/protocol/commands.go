package protocol

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Kind enumerates the commands a client may send.
type Kind uint8

const (
	KindClaim Kind = iota
	KindCreate
	KindCreateAI
	KindRemove
	KindConsole
	KindRoadBuild
	KindRoadFlip
	KindRoadRemove
	KindLightBuild
	KindLightRemove
	KindLightFlip
	KindRoadConnect
	KindIntersection
	KindLogin
	KindSteer
	KindAccel
	KindBrake
	KindUnbrake

	NumCommandKinds
)

type arity struct {
	min, max int // argument count after the verb; max < 0 means unbounded
}

var kindSpecs = [NumCommandKinds]struct {
	verb string
	args arity
}{
	KindClaim:        {"claim", arity{1, -1}},
	KindCreate:       {"create", arity{1, 1}},
	KindCreateAI:     {"createai", arity{2, 2}},
	KindRemove:       {"remove", arity{1, -1}},
	KindConsole:      {"cmd", arity{1, 1}},
	KindRoadBuild:    {"rbuild", arity{4, 4}},
	KindRoadFlip:     {"rflip", arity{1, 1}},
	KindRoadRemove:   {"rrm", arity{1, 1}},
	KindLightBuild:   {"lbuild", arity{1, 1}},
	KindLightRemove:  {"lrm", arity{1, 1}},
	KindLightFlip:    {"lflip", arity{1, 1}},
	KindRoadConnect:  {"rconn", arity{2, 2}},
	KindIntersection: {"intermake", arity{2, 2}},
	KindLogin:        {"login", arity{1, 1}},
	KindSteer:        {"steer", arity{1, -1}},
	KindAccel:        {"accel", arity{1, -1}},
	KindBrake:        {"breaks", arity{0, -1}},
	KindUnbrake:      {"no_breaks", arity{0, -1}},
}

var verbs = func() map[string]Kind {
	m := make(map[string]Kind, NumCommandKinds)
	for k := Kind(0); k < NumCommandKinds; k++ {
		m[kindSpecs[k].verb] = k
	}
	return m
}()

func (k Kind) String() string {
	if k < NumCommandKinds {
		return kindSpecs[k].verb
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// KindByVerb maps a wire verb to its kind.
func KindByVerb(verb string) (Kind, bool) {
	k, ok := verbs[verb]
	return k, ok
}

// Command is one parsed client frame.
type Command struct {
	Kind Kind
	Args []string
}

// ParseError carries the protocol code a rejected frame should be answered with.
type ParseError struct {
	Code string
	Msg  string
}

func (e *ParseError) Error() string { return e.Code + ": " + e.Msg }

// ParseCommand splits a "verb/arg/arg" frame and checks its argument count.
func ParseCommand(frame string) (Command, error) {
	parts := strings.Split(frame, "/")
	k, ok := verbs[parts[0]]
	if !ok {
		return Command{}, &ParseError{Code: ErrProtoUnknown, Msg: fmt.Sprintf("unknown command %q", parts[0])}
	}
	args := parts[1:]
	spec := kindSpecs[k].args
	if len(args) < spec.min || (spec.max >= 0 && len(args) > spec.max) {
		return Command{}, &ParseError{
			Code: ErrProtoBadRequest,
			Msg:  fmt.Sprintf("%s takes %s, got %d", k, spec, len(args)),
		}
	}
	return Command{Kind: k, Args: args}, nil
}

func (a arity) String() string {
	switch {
	case a.max < 0:
		return fmt.Sprintf("at least %d arguments", a.min)
	case a.min == a.max:
		return fmt.Sprintf("%d arguments", a.min)
	default:
		return fmt.Sprintf("%d to %d arguments", a.min, a.max)
	}
}

// Float parses argument i as a finite number.
func (c Command) Float(i int) (float64, error) {
	if i >= len(c.Args) {
		return 0, &ParseError{Code: ErrBadRequest, Msg: fmt.Sprintf("%s: missing argument %d", c.Kind, i)}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(c.Args[i]), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &ParseError{Code: ErrBadRequest, Msg: fmt.Sprintf("%s: bad number %q", c.Kind, c.Args[i])}
	}
	return f, nil
}

// Unescaped returns argument i with URI escapes decoded.
func (c Command) Unescaped(i int) (string, error) {
	if i >= len(c.Args) {
		return "", &ParseError{Code: ErrBadRequest, Msg: fmt.Sprintf("%s: missing argument %d", c.Kind, i)}
	}
	s, err := url.PathUnescape(c.Args[i])
	if err != nil {
		return "", &ParseError{Code: ErrBadRequest, Msg: fmt.Sprintf("%s: %v", c.Kind, err)}
	}
	return s, nil
}
