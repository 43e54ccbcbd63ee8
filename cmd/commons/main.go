// Command commons is a command-line client for a commons node.
//
//	commons create-code   -code C
//	commons join          -code C -nick N
//	commons players       -code C
//	commons start         -code C
//	commons sessions
//	commons move          -round R -amount N
//	commons close         -round R
//	commons round         -session S
//	commons watch
//	commons journal       -dir D
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/journal"
	"github.com/tolelom/commons/rpc"
	"github.com/tolelom/commons/wallet"
)

type client struct {
	rpc    *rpc.Client
	wallet *wallet.Wallet
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "create-code":
		codeCmd(cmd, args, core.FnCreateGameCodeAnchor)
	case "players":
		codeCmd(cmd, args, core.FnListPlayersForCode)
	case "start":
		codeCmd(cmd, args, core.FnStartSessionWithCode)
	case "join":
		joinCmd(args)
	case "sessions":
		sessionsCmd(args)
	case "move":
		moveCmd(args)
	case "close":
		closeCmd(args)
	case "round":
		roundCmd(args)
	case "watch":
		watchCmd(args)
	case "journal":
		journalCmd(args)
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: commons <create-code|join|players|start|sessions|move|close|round|watch|journal> [flags]")
	os.Exit(2)
}

// connect registers the flags every node command shares and returns a
// function that builds the client once fs has been parsed.
func connect(fs *flag.FlagSet) func() *client {
	url := fs.String("rpc", envOr("COMMONS_RPC_URL", "http://127.0.0.1:8545"), "node RPC endpoint")
	token := fs.String("token", os.Getenv("COMMONS_RPC_AUTH_TOKEN"), "RPC bearer token")
	keyFile := fs.String("key", envOr("COMMONS_KEY_FILE", "agent.key"), "keystore path (created if missing)")
	return func() *client {
		w, created, err := wallet.LoadOrCreate(*keyFile, os.Getenv("COMMONS_PASSWORD"))
		if err != nil {
			fail(err)
		}
		if created {
			fmt.Fprintf(os.Stderr, "generated agent key %s at %s\n", w.Short(), *keyFile)
		}
		return &client{rpc: rpc.NewClient(*url, *token), wallet: w}
	}
}

func (c *client) execute(fn core.Function, payload any) {
	call, err := c.wallet.NewCall(fn, payload)
	if err != nil {
		fail(err)
	}
	var out json.RawMessage
	if err := c.rpc.Execute(context.Background(), call, &out); err != nil {
		fail(err)
	}
	printJSON(out)
}

func codeCmd(name string, args []string, fn core.Function) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	open := connect(fs)
	code := fs.String("code", "", "game code")
	_ = fs.Parse(args)
	require("-code", *code)
	open().execute(fn, core.GameCodePayload{GameCode: *code})
}

func joinCmd(args []string) {
	fs := flag.NewFlagSet("join", flag.ExitOnError)
	open := connect(fs)
	code := fs.String("code", "", "game code")
	nick := fs.String("nick", "", "nickname")
	_ = fs.Parse(args)
	require("-code", *code)
	require("-nick", *nick)
	open().execute(core.FnJoinGameWithCode, core.JoinGamePayload{GameCode: *code, Nickname: *nick})
}

func sessionsCmd(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	open := connect(fs)
	_ = fs.Parse(args)
	open().execute(core.FnListMySessions, nil)
}

func moveCmd(args []string) {
	fs := flag.NewFlagSet("move", flag.ExitOnError)
	open := connect(fs)
	round := fs.String("round", "", "round reference")
	amount := fs.Int("amount", 0, "resources to take")
	_ = fs.Parse(args)
	require("-round", *round)
	open().execute(core.FnSubmitMove, core.SubmitMovePayload{RoundHash: *round, ResourceAmount: core.ResourceAmount(*amount)})
}

func closeCmd(args []string) {
	fs := flag.NewFlagSet("close", flag.ExitOnError)
	open := connect(fs)
	round := fs.String("round", "", "round reference")
	_ = fs.Parse(args)
	require("-round", *round)
	open().execute(core.FnTryCloseRound, core.RoundPayload{RoundHash: *round})
}

func roundCmd(args []string) {
	fs := flag.NewFlagSet("round", flag.ExitOnError)
	open := connect(fs)
	session := fs.String("session", "", "session reference")
	_ = fs.Parse(args)
	require("-session", *session)
	var out json.RawMessage
	if err := open().rpc.Call(context.Background(), "getCurrentRound", map[string]string{"ref": *session}, &out); err != nil {
		fail(err)
	}
	printJSON(out)
}

func watchCmd(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	open := connect(fs)
	_ = fs.Parse(args)
	c := open()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	signals, err := c.rpc.Signals(ctx, c.wallet)
	if err != nil {
		fail(err)
	}
	fmt.Fprintf(os.Stderr, "watching signals for %s\n", c.wallet.Short())
	for sig := range signals {
		b, _ := json.Marshal(sig)
		fmt.Println(string(b))
	}
}

func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dir := fs.String("dir", "./data/journal", "journal directory")
	_ = fs.Parse(args)

	files, err := journal.Files(*dir)
	if err != nil {
		fail(err)
	}
	for _, path := range files {
		err := journal.ReadFile(path, func(rec journal.Record) error {
			if rec.Op == nil {
				return nil
			}
			origin := "local"
			if rec.Remote {
				origin = "remote"
			}
			fmt.Printf("%d %-6s %-4s %s by %s\n", rec.Time, origin, rec.Op.Kind, rec.Op.ID(), rec.Op.Author())
			return nil
		})
		if err != nil {
			fail(err)
		}
	}
}

func printJSON(raw json.RawMessage) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Println(string(raw))
		return
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func require(flagName, v string) {
	if strings.TrimSpace(v) == "" {
		fmt.Fprintln(os.Stderr, "missing", flagName)
		os.Exit(2)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
