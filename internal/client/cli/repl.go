package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/balancesync/internal/client/models"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Send(ctx context.Context, text string) error
	List(ctx context.Context) error
	Resend(ctx context.Context, clientID string) error
	Status(ctx context.Context) error
	Sync(ctx context.Context) error
	Feed(ctx context.Context, resource models.Resource) error
	Cleanup(ctx context.Context, days string) error
	SetOnline(ctx context.Context, online bool) error
}

// runREPL starts a read–eval–print loop.
//
// Prompt & Commands
//
//	Not logged in:
//	  - help               show available commands
//	  - register           create an account
//	  - login              authenticate
//	  - news|quotes|statistics
//	  - exit | quit        leave the program
//
//	Logged in, in addition:
//	  - send <text>        send a chat message (kept pending while offline)
//	  - (l)ist             list local messages
//	  - resend <client-id> retry one pending message
//	  - status             reachability and pending count
//	  - sync               run a sync cycle now
//	  - cleanup <days>     drop confirmed messages older than days
//	  - online | offline   simulate the OS connectivity signal
//	  - logout             sign out and wipe local data
//
// Errors returned by command handlers are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("bs %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: send, (l)ist, resend, status, sync, news, quotes, statistics, cleanup, online, offline, logout, exit")
			} else {
				printlnFn("Available commands: register, login, news, quotes, statistics, exit")
			}

		case "register":
			err = a.Register(ctx)

		case "login":
			err = a.Login(ctx)

		case "news", "quotes", "statistics":
			err = a.Feed(ctx, models.Resource(cmd))

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			if !a.isLoggedIn() {
				printlnFn("Unknown command:", cmd)
				continue
			}
			err = dispatchLoggedIn(ctx, a, cmd, args, strings.TrimSpace(strings.TrimPrefix(line, cmd)))
		}
		if err != nil {
			printlnFn("Error:", err)
		}
	}
}

func dispatchLoggedIn(ctx context.Context, a execIface, cmd string, args []string, rest string) error {
	switch cmd {
	case "send":
		if rest == "" {
			printlnFn("Usage: send <text>")
			return nil
		}
		return a.Send(ctx, rest)
	case "l", "list":
		return a.List(ctx)
	case "resend":
		if len(args) != 1 {
			printlnFn("Usage: resend <client-id>")
			return nil
		}
		return a.Resend(ctx, args[0])
	case "status":
		return a.Status(ctx)
	case "sync":
		return a.Sync(ctx)
	case "cleanup":
		if len(args) != 1 {
			printlnFn("Usage: cleanup <days>")
			return nil
		}
		return a.Cleanup(ctx, args[0])
	case "online":
		return a.SetOnline(ctx, true)
	case "offline":
		return a.SetOnline(ctx, false)
	case "logout":
		return a.Logout(ctx)
	}
	printlnFn("Unknown command:", cmd)
	return nil
}
