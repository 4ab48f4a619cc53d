package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dkeye/patchroom/internal/app/rack"
	"github.com/dkeye/patchroom/internal/app/session"
	"github.com/dkeye/patchroom/internal/app/talkback"
	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/dkeye/patchroom/internal/protocol"
	"github.com/goccy/go-json"
)

var errQuit = errors.New("quit")

const help = `commands:
  set INST PATH VALUE        change a parameter (VALUE is JSON or a bare string)
  note INST N | off INST     trigger or release a note
  seq INST start|stop        run or stop the sequencer
  patch SRC OUT DST IN       add a cross patch; unpatch removes it
  tab NAME                   announce the view you are on
  talk on|off|mute|unmute    push-to-talk
  status | state | help | quit`

// console applies one typed command to the local rack and mirrors it to the room.
type console struct {
	sess *session.Session
	rack *rack.Rack
	talk *talkback.Channel
	out  io.Writer
}

func (c *console) exec(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "set":
		if len(args) < 3 {
			return usage("set INST PATH VALUE")
		}
		// The rack's change hook broadcasts the edit.
		return c.rack.SetParam(args[0], args[1], parseValue(strings.Join(args[2:], " ")))
	case "note":
		if len(args) != 2 {
			return usage("note INST N")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("note: %w", err)
		}
		if err := c.rack.TriggerNote(args[0], n); err != nil {
			return err
		}
		return c.mirror(c.sess.BroadcastNoteOn(args[0], n))
	case "off":
		if len(args) != 1 {
			return usage("off INST")
		}
		if err := c.rack.ReleaseNote(args[0]); err != nil {
			return err
		}
		return c.mirror(c.sess.BroadcastNoteOff(args[0]))
	case "seq":
		if len(args) != 2 {
			return usage("seq INST start|stop")
		}
		return c.seq(args[0], protocol.SeqAction(args[1]))
	case "patch", "unpatch":
		if len(args) != 4 {
			return usage(cmd + " SRC OUT DST IN")
		}
		return c.patch(cmd == "patch", domain.CrossLink{SourceInst: args[0], SourceID: args[1], DestInst: args[2], DestID: args[3]})
	case "tab":
		if len(args) != 1 {
			return usage("tab NAME")
		}
		return c.mirror(c.sess.BroadcastTab(args[0]))
	case "talk":
		if len(args) != 1 {
			return usage("talk on|off|mute|unmute")
		}
		return c.talkback(ctx, args[0])
	case "status":
		c.status()
		return nil
	case "state":
		snap, err := c.rack.GetFullState()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, string(snap))
		return nil
	case "help":
		fmt.Fprintln(c.out, help)
		return nil
	case "quit", "exit":
		return errQuit
	}
	return fmt.Errorf("unknown command %q, try help", cmd)
}

func (c *console) seq(inst string, action protocol.SeqAction) error {
	var err error
	switch action {
	case protocol.SeqStart:
		err = c.rack.StartSequencer(inst)
	case protocol.SeqStop:
		err = c.rack.StopSequencer(inst)
	default:
		return usage("seq INST start|stop")
	}
	if err != nil {
		return err
	}
	return c.mirror(c.sess.BroadcastSeqControl(inst, action))
}

func (c *console) patch(add bool, link domain.CrossLink) error {
	action := protocol.PatchAdd
	if add {
		if !c.rack.AddCrossPatch(link) {
			return fmt.Errorf("cannot patch %s.%s -> %s.%s", link.SourceInst, link.SourceID, link.DestInst, link.DestID)
		}
	} else {
		action = protocol.PatchRemove
		if !c.rack.RemoveCrossPatch(link) {
			return fmt.Errorf("no patch %s.%s -> %s.%s", link.SourceInst, link.SourceID, link.DestInst, link.DestID)
		}
	}
	return c.mirror(c.sess.BroadcastPatchChange(action, link))
}

func (c *console) talkback(ctx context.Context, arg string) error {
	if c.talk == nil {
		return errors.New("talkback unavailable")
	}
	switch arg {
	case "on":
		c.talk.Start(ctx)
		if !c.talk.Active() {
			return errors.New("microphone unavailable, talkback is off")
		}
	case "off":
		c.talk.Stop()
	case "mute":
		c.talk.SetMuted(true)
	case "unmute":
		c.talk.SetMuted(false)
	default:
		return usage("talk on|off|mute|unmute")
	}
	return nil
}

func (c *console) status() {
	st := c.sess.Status()
	role := "guest"
	if st.IsHost {
		role = "host"
	}
	if !st.Connected {
		fmt.Fprintln(c.out, "not connected")
		return
	}
	fmt.Fprintf(c.out, "room %s as %s, %d connection(s)\n", st.RoomCode, role, st.PeerCount)
	for _, m := range c.sess.Roster() {
		line := fmt.Sprintf("  %-20s %s", m.Name, m.Peer)
		if m.Section != nil {
			line += fmt.Sprintf(" section=%d", *m.Section)
		}
		if m.View != "" {
			line += " tab=" + m.View
		}
		fmt.Fprintln(c.out, line)
	}
}

// mirror treats a closed room as a local-only edit.
func (c *console) mirror(err error) error {
	if errors.Is(err, core.ErrNotConnected) {
		return nil
	}
	return err
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func usage(s string) error { return fmt.Errorf("usage: %s", s) }
