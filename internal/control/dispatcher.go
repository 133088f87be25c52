// Package control turns client frames into world commands. Every command kind has exactly one
// handler, and the handler table records the capability each kind needs.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"trafficsim.dev/internal/access"
	"trafficsim.dev/internal/debugflags"
	persistlog "trafficsim.dev/internal/persistence/log"
	"trafficsim.dev/internal/protocol"
	"trafficsim.dev/internal/sim/geom"
	"trafficsim.dev/internal/sim/world"
)

// NoCommandAccess is the console reply for callers without the command permission.
const NoCommandAccess = "You do not have access to use moderator commands"

// Console runs one moderator line on behalf of caller and returns its output.
type Console interface {
	Exec(ctx context.Context, caller, line string) string
}

// Metrics receives one observation per dispatched frame.
type Metrics interface {
	ObserveCommand(kind, outcome string)
}

// AuditSink records dispatched frames.
type AuditSink interface {
	WriteAudit(persistlog.AuditEntry) error
}

type handler struct {
	need access.Perm
	run  func(d *Dispatcher, ctx context.Context, who string, c protocol.Command) (*protocol.ReplyMsg, error)
}

var handlers = [protocol.NumCommandKinds]handler{
	// Claiming puts a car under the caller's control, so it needs the same right as placing one.
	protocol.KindClaim:        {need: access.Place, run: (*Dispatcher).claim},
	protocol.KindCreate:       {need: access.Place, run: (*Dispatcher).create},
	protocol.KindCreateAI:     {need: access.Place, run: (*Dispatcher).createAI},
	protocol.KindRemove:       {need: access.Connect, run: (*Dispatcher).remove},
	protocol.KindConsole:      {need: access.Connect, run: (*Dispatcher).runConsole},
	protocol.KindRoadBuild:    {need: access.Build, run: (*Dispatcher).roadBuild},
	protocol.KindRoadFlip:     {need: access.Build, run: onRoad((*world.World).FlipRoad)},
	protocol.KindRoadRemove:   {need: access.Build, run: onRoad((*world.World).RemoveRoad)},
	protocol.KindLightBuild:   {need: access.Build, run: onRoad((*world.World).AddLight)},
	protocol.KindLightRemove:  {need: access.Build, run: onRoad((*world.World).RemoveLight)},
	protocol.KindLightFlip:    {need: access.Build, run: onRoad((*world.World).FlipLight)},
	protocol.KindRoadConnect:  {need: access.Build, run: onRoadPair((*world.World).ToggleConnection)},
	protocol.KindIntersection: {need: access.Build, run: onRoadPair(toggleIntersection)},
	protocol.KindLogin:        {need: access.Connect, run: (*Dispatcher).login},
	protocol.KindSteer:        {need: access.Connect, run: (*Dispatcher).steer},
	protocol.KindAccel:        {need: access.Connect, run: (*Dispatcher).accel},
	protocol.KindBrake:        {need: access.Connect, run: (*Dispatcher).brake},
	protocol.KindUnbrake:      {need: access.Connect, run: (*Dispatcher).unbrake},
}

type Dispatcher struct {
	world   *world.World
	access  *access.Registry
	console Console
	metrics Metrics
	audit   AuditSink
	debug   *debugflags.Set
	log     *log.Logger
	now     func() time.Time
}

type Option func(*Dispatcher)

func WithConsole(c Console) Option          { return func(d *Dispatcher) { d.console = c } }
func WithMetrics(m Metrics) Option          { return func(d *Dispatcher) { d.metrics = m } }
func WithAudit(a AuditSink) Option          { return func(d *Dispatcher) { d.audit = a } }
func WithDebug(s *debugflags.Set) Option    { return func(d *Dispatcher) { d.debug = s } }
func WithLogger(l *log.Logger) Option       { return func(d *Dispatcher) { d.log = l } }
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

func New(w *world.World, reg *access.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{world: w, access: reg, now: time.Now}
	for _, o := range opts {
		o(d)
	}
	if d.log == nil {
		d.log = log.New(os.Stdout, "[control] ", log.LstdFlags)
	}
	return d
}

// Dispatch parses and runs one frame from who. The reply is set only for console lines.
func (d *Dispatcher) Dispatch(ctx context.Context, who, frame string) (*protocol.ReplyMsg, error) {
	if d.debug.On(debugflags.WS) {
		d.log.Printf("received %q from %s", frame, who)
	}
	c, err := protocol.ParseCommand(frame)
	if err != nil {
		d.record(who, "unknown", nil, err)
		return nil, err
	}
	h := handlers[c.Kind]
	if !d.access.Has(who, access.Connect) || !d.access.Has(who, h.need) {
		err = &world.CommandError{Code: protocol.ErrNoPermission, Msg: fmt.Sprintf("%s requires %s", c.Kind, h.need)}
	} else {
		var reply *protocol.ReplyMsg
		reply, err = h.run(d, ctx, who, c)
		if err == nil {
			d.record(who, c.Kind.String(), c.Args, nil)
			return reply, nil
		}
	}
	d.record(who, c.Kind.String(), c.Args, err)
	return nil, err
}

func (d *Dispatcher) record(who, kind string, args []string, err error) {
	outcome := "ok"
	msg := ""
	if err != nil {
		outcome = Code(err)
		msg = err.Error()
	}
	if d.metrics != nil {
		d.metrics.ObserveCommand(kind, outcome)
	}
	if d.audit != nil {
		_ = d.audit.WriteAudit(persistlog.AuditEntry{
			Time:    d.now().UTC().Format(time.RFC3339Nano),
			Actor:   who,
			Kind:    kind,
			Args:    args,
			Outcome: outcome,
			Message: msg,
		})
	}
}

// Code maps an error returned by Dispatch to its protocol error code.
func Code(err error) string {
	var ce *world.CommandError
	var pe *protocol.ParseError
	switch {
	case errors.As(err, &ce):
		return ce.Code
	case errors.As(err, &pe):
		return pe.Code
	case errors.Is(err, world.ErrNameCollision):
		return protocol.ErrConflict
	case errors.Is(err, world.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return protocol.ErrBusy
	default:
		return protocol.ErrInternal
	}
}

// ErrorMsg renders err for the client.
func ErrorMsg(err error) protocol.ErrorMsg {
	var ce *world.CommandError
	var pe *protocol.ParseError
	switch {
	case errors.As(err, &ce):
		return protocol.NewError(ce.Code, ce.Msg)
	case errors.As(err, &pe):
		return protocol.NewError(pe.Code, pe.Msg)
	}
	return protocol.NewError(Code(err), err.Error())
}

func (d *Dispatcher) exec(ctx context.Context, fn func(*world.World) error) (*protocol.ReplyMsg, error) {
	return nil, d.world.Exec(ctx, fn)
}

func onRoad(fn func(*world.World, string) error) func(*Dispatcher, context.Context, string, protocol.Command) (*protocol.ReplyMsg, error) {
	return func(d *Dispatcher, ctx context.Context, _ string, c protocol.Command) (*protocol.ReplyMsg, error) {
		return d.exec(ctx, func(w *world.World) error { return fn(w, c.Args[0]) })
	}
}

func onRoadPair(fn func(*world.World, string, string) error) func(*Dispatcher, context.Context, string, protocol.Command) (*protocol.ReplyMsg, error) {
	return func(d *Dispatcher, ctx context.Context, _ string, c protocol.Command) (*protocol.ReplyMsg, error) {
		return d.exec(ctx, func(w *world.World) error { return fn(w, c.Args[0], c.Args[1]) })
	}
}

func toggleIntersection(w *world.World, a, b string) error {
	_, err := w.ToggleIntersection(a, b)
	return err
}

func (d *Dispatcher) claim(ctx context.Context, who string, c protocol.Command) (*protocol.ReplyMsg, error) {
	return d.exec(ctx, func(w *world.World) error { return w.Claim(c.Args[0], who) })
}

func (d *Dispatcher) create(ctx context.Context, who string, c protocol.Command) (*protocol.ReplyMsg, error) {
	raw, err := c.Unescaped(0)
	if err != nil {
		return nil, err
	}
	var spec protocol.CarSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return nil, &world.CommandError{Code: protocol.ErrBadRequest, Msg: fmt.Sprintf("create: bad car: %v", err)}
	}
	police := d.access.Has(who, access.Police)
	return d.exec(ctx, func(w *world.World) error {
		_, err := w.CreatePlayerCar(spec, who, police)
		return err
	})
}

func (d *Dispatcher) createAI(ctx context.Context, who string, c protocol.Command) (*protocol.ReplyMsg, error) {
	return d.exec(ctx, func(w *world.World) error {
		_, err := w.CreateAutonomousCar(c.Args[0], c.Args[1], who)
		return err
	})
}

func (d *Dispatcher) remove(ctx context.Context, who string, c protocol.Command) (*protocol.ReplyMsg, error) {
	return d.exec(ctx, func(w *world.World) error { return w.RemovePlayerCar(c.Args[0], who) })
}

// runConsole runs outside the world loop; SAVE and SPAWNRATE go back through Exec themselves.
func (d *Dispatcher) runConsole(ctx context.Context, who string, c protocol.Command) (*protocol.ReplyMsg, error) {
	if !d.access.Has(who, access.Command) {
		return &protocol.ReplyMsg{Res: NoCommandAccess}, nil
	}
	if d.console == nil {
		return nil, &world.CommandError{Code: protocol.ErrInternal, Msg: "console not available"}
	}
	return &protocol.ReplyMsg{Res: d.console.Exec(ctx, who, c.Args[0])}, nil
}

func (d *Dispatcher) roadBuild(ctx context.Context, _ string, c protocol.Command) (*protocol.ReplyMsg, error) {
	var xy [4]float64
	for i := range xy {
		f, err := c.Float(i)
		if err != nil {
			return nil, err
		}
		xy[i] = f
	}
	return d.exec(ctx, func(w *world.World) error {
		_, err := w.BuildRoad(geom.Vec2{X: xy[0], Y: xy[1]}, geom.Vec2{X: xy[2], Y: xy[3]})
		return err
	})
}

func (d *Dispatcher) login(_ context.Context, who string, c protocol.Command) (*protocol.ReplyMsg, error) {
	name, err := c.Unescaped(0)
	if err != nil {
		return nil, err
	}
	d.access.Make(who, name)
	return nil, nil
}

func (d *Dispatcher) steer(ctx context.Context, who string, c protocol.Command) (*protocol.ReplyMsg, error) {
	v, err := c.Float(0)
	if err != nil {
		return nil, err
	}
	return d.exec(ctx, func(w *world.World) error {
		_, err := w.Steer(who, v)
		return err
	})
}

func (d *Dispatcher) accel(ctx context.Context, who string, c protocol.Command) (*protocol.ReplyMsg, error) {
	v, err := c.Float(0)
	if err != nil {
		return nil, err
	}
	return d.exec(ctx, func(w *world.World) error {
		_, err := w.Accelerate(who, v)
		return err
	})
}

func (d *Dispatcher) brake(ctx context.Context, who string, _ protocol.Command) (*protocol.ReplyMsg, error) {
	return d.exec(ctx, func(w *world.World) error { w.Brake(who); return nil })
}

func (d *Dispatcher) unbrake(ctx context.Context, who string, _ protocol.Command) (*protocol.ReplyMsg, error) {
	return d.exec(ctx, func(w *world.World) error { w.Unbrake(who); return nil })
}
