// Package console implements the moderator command line. The same commands are read from the
// server's stdin and from clients holding the command permission.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"trafficsim.dev/internal/access"
	"trafficsim.dev/internal/debugflags"
	"trafficsim.dev/internal/persistence/savefile"
	"trafficsim.dev/internal/sim/world"
)

// Stdin is the caller name of the server operator. It is never checked for permissions.
const Stdin = ""

type Console struct {
	world    *world.World
	access   *access.Registry
	debug    *debugflags.Set
	savePath string
	log      *log.Logger
}

func New(w *world.World, reg *access.Registry, debug *debugflags.Set, savePath string, logger *log.Logger) *Console {
	if logger == nil {
		logger = log.New(os.Stdout, "[console] ", log.LstdFlags)
	}
	return &Console{world: w, access: reg, debug: debug, savePath: savePath, log: logger}
}

type command func(c *Console, ctx context.Context, caller string, args []string) string

var commands = map[string]command{
	"GRANT":     selecting((*Console).grant),
	"DENY":      selecting((*Console).deny),
	"QUERY":     selecting((*Console).query),
	"RM":        selecting((*Console).rm),
	"MAKE":      (*Console).makeUser,
	"SAVE":      (*Console).save,
	"DEBUG":     (*Console).toggleDebug,
	"SPAWNRATE": (*Console).spawnRate,
}

// Exec runs one line for caller and returns the reply text.
func (c *Console) Exec(ctx context.Context, caller, line string) string {
	if caller != Stdin && c.debug.On(debugflags.Cmd) {
		c.log.Printf("%s is executing command %s", caller, line)
	}
	parts := strings.Split(line, " ")
	cmd, ok := commands[parts[0]]
	if !ok {
		return "Couldn't find command " + parts[0]
	}
	return cmd(c, ctx, caller, parts[1:])
}

// ServeLines reads commands from r until EOF and writes each reply line indented to out.
func (c *Console) ServeLines(ctx context.Context, r io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		for _, l := range strings.Split(c.Exec(ctx, Stdin, line), "\n") {
			fmt.Fprintln(out, "  "+l)
		}
	}
	return sc.Err()
}

// selecting resolves the ip pattern shared by GRANT, DENY, QUERY and RM.
func selecting(fn func(c *Console, caller string, args, selected []string) string) command {
	return func(c *Console, _ context.Context, caller string, args []string) string {
		if len(args) == 0 {
			return "Invalid. Syntax is [command] [ip] ..."
		}
		return fn(c, caller, args, c.access.Match(args[0]))
	}
}

func (c *Console) permArg(verb, caller string, args []string) (access.Perm, string) {
	if len(args) != 2 {
		return "", verb + " syntax: " + verb + " [ips] [permission]"
	}
	p, ok := access.ParsePerm(args[1])
	if !ok {
		return "", "Can't find permission " + args[1]
	}
	if (p == access.Command || p == access.Moderator) && caller != Stdin && !c.access.Has(caller, access.Moderator) {
		return "", "You do not have access to " + verb + " _ command/moderator"
	}
	return p, ""
}

func (c *Console) grant(caller string, args, selected []string) string {
	p, msg := c.permArg("GRANT", caller, args)
	if msg != "" {
		return msg
	}
	if len(selected) == 0 {
		return "Couldn't find any IPs that matches " + args[0]
	}
	c.access.Grant(selected, p)
	return "Gave " + string(p) + " to " + strings.Join(selected, ", ")
}

func (c *Console) deny(caller string, args, selected []string) string {
	p, msg := c.permArg("DENY", caller, args)
	if msg != "" {
		return msg
	}
	if len(selected) == 0 {
		return "Couldn't find any IPs that matches " + args[0]
	}
	c.access.Deny(selected, p)
	return "Denied " + string(p) + " from " + strings.Join(selected, ", ")
}

func (c *Console) query(_ string, args, selected []string) string {
	if len(args) != 1 {
		return "QUERY syntax: QUERY [ips]"
	}
	if len(selected) == 0 {
		return "Couldn't find any IPs that matches " + args[0]
	}
	blocks := make([]string, 0, len(selected))
	for _, ip := range selected {
		e, ok := c.access.Lookup(ip)
		if !ok {
			continue
		}
		name, _ := json.Marshal(e.Name)
		perms, _ := json.Marshal(lo.Map(e.Perms, func(p access.Perm, _ int) string { return string(p) }))
		blocks = append(blocks, fmt.Sprintf("%s\n\tname: %s\n\tperms: %s", ip, name, perms))
	}
	return strings.Join(blocks, "\n")
}

func (c *Console) rm(_ string, args, selected []string) string {
	if len(args) != 1 {
		return "RM syntax: RM [ips]"
	}
	if len(selected) == 0 {
		return "Found no ips matching " + args[0]
	}
	c.access.Remove(selected)
	var b strings.Builder
	b.WriteString("Deleted ")
	for _, ip := range selected {
		b.WriteString(ip + " ")
	}
	return b.String()
}

func (c *Console) makeUser(_ context.Context, _ string, args []string) string {
	if len(args) != 2 {
		return "MAKE syntax: MAKE [ip] [name]"
	}
	c.access.Make(args[0], args[1])
	return "Made user " + args[0] + "(" + args[1] + ")"
}

// save writes the road network (roads and intersections, no cars).
func (c *Console) save(ctx context.Context, _ string, args []string) string {
	path := c.savePath
	if len(args) > 0 && args[0] != "" {
		path = args[0]
	}
	doc, err := c.world.RequestDocument(ctx)
	if err != nil {
		return "Couldn't read the world: " + err.Error()
	}
	if err := savefile.Save(path, doc); err != nil {
		return "Couldn't write to " + path + ": " + err.Error()
	}
	return "Wrote to " + path
}

func (c *Console) toggleDebug(_ context.Context, _ string, args []string) string {
	if len(args) == 0 {
		return "Current debugs: " + strings.Join(c.debug.Enabled(), ", ")
	}
	added, removed, invalid := c.debug.Toggle(args...)
	var b strings.Builder
	for _, n := range invalid {
		b.WriteString("Invalid debug parameter " + n + "\n")
	}
	if len(added) > 0 {
		b.WriteString("Added " + strings.Join(added, ", "))
	} else {
		b.WriteString("Added nothing")
	}
	b.WriteString("\n")
	if len(removed) > 0 {
		b.WriteString("Removed " + strings.Join(removed, ", "))
	} else {
		b.WriteString("Removed nothing")
	}
	return b.String()
}

func (c *Console) spawnRate(ctx context.Context, _ string, args []string) string {
	if len(args) != 1 {
		return "Couldn't find command SPAWNRATE"
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return "Invalid spawn rate " + args[0]
	}
	if err := c.world.Exec(ctx, func(w *world.World) error { return w.SetSpawnInterval(v) }); err != nil {
		return "Invalid spawn rate " + args[0] + ": " + err.Error()
	}
	return "Set spawn rate to " + strconv.FormatFloat(v, 'f', -1, 64)
}
