package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/osa030/livechat-overlay/internal/app/connection"
	"github.com/osa030/livechat-overlay/internal/domain/protocol"
	"github.com/osa030/livechat-overlay/internal/infra/pairing"
	"github.com/osa030/livechat-overlay/internal/infra/socket"
)

const consoleUsage = "commands: shortcut <accelerator>, meme <item-id>, pair <server> <code>, unpair, enable, disable, stop, status"

// controller is the part of the overlay runtime driven from the console.
type controller interface {
	TriggerBinding(accelerator string) error
	TriggerMeme(itemID, trigger string) error
	SetEnabled(enabled bool)
	Stop()
	Pair(creds socket.Credentials)
	ResetPairing()
	Status() connection.Status
}

// pairFunc consumes a pairing code.
type pairFunc func(ctx context.Context, serverURL, code string) (*pairing.Result, error)

// commandConsole reads interactive commands, one per line. It stands in
// for the tray menu and global shortcuts.
type commandConsole struct {
	rt   controller
	pair pairFunc
	out  io.Writer
}

// Run processes commands from in until EOF or ctx is done.
func (c *commandConsole) Run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := c.exec(ctx, strings.Fields(scanner.Text())); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

func (c *commandConsole) exec(ctx context.Context, fields []string) error {
	if len(fields) == 0 {
		return nil
	}

	switch strings.ToLower(fields[0]) {
	case "shortcut", "s":
		if len(fields) < 2 {
			fmt.Fprintln(c.out, "usage: shortcut <accelerator>")
			return nil
		}
		return c.rt.TriggerBinding(fields[1])
	case "meme", "m":
		if len(fields) < 2 {
			fmt.Fprintln(c.out, "usage: meme <item-id>")
			return nil
		}
		return c.rt.TriggerMeme(fields[1], protocol.TriggerUI)
	case "pair":
		if len(fields) < 3 {
			fmt.Fprintln(c.out, "usage: pair <server> <code>")
			return nil
		}
		return c.pairWith(ctx, fields[1], fields[2])
	case "unpair":
		c.rt.ResetPairing()
	case "enable":
		c.rt.SetEnabled(true)
	case "disable":
		c.rt.SetEnabled(false)
	case "stop":
		c.rt.Stop()
	case "status":
		fmt.Fprintln(c.out, c.rt.Status().Tooltip())
	default:
		fmt.Fprintln(c.out, consoleUsage)
	}
	return nil
}

func (c *commandConsole) pairWith(ctx context.Context, server, code string) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	result, err := c.pair(ctx, server, code)
	if err != nil {
		return err
	}
	c.rt.Pair(socket.Credentials{
		ServerURL: result.ServerURL,
		Token:     result.ClientToken,
		GuildID:   result.GuildID,
		ClientID:  result.ClientID,
	})
	fmt.Fprintf(c.out, "Paired: guild=%s client=%s\n", result.GuildID, result.ClientID)
	return nil
}
