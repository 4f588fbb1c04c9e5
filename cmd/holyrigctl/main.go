// holyrigctl is an interactive debug client for a running holyrigd: a
// liner-driven REPL that issues JSON-RPC 2.0 over UDP calls and prints
// server-pushed status_update/device_connected/device_disconnected
// notifications as they arrive. Grounded on
// cli.Interactive/execCmd loop (cli/interactive.go, formerly
// interactive.go at the repo root): a liner.Liner prompt feeding a
// small command-name/argument dispatcher, plus cli/read.go's
// bndr/gotabulate use for tabular output.
package main

import (
	"bytes"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bndr/gotabulate"
	"github.com/peterh/liner"
	"github.com/spf13/pflag"
)

var fOptions struct {
	Server  string
	Timeout time.Duration
}

func init() {
	pflag.StringVarP(&fOptions.Server, "server", "s", "127.0.0.1:7700", "holyrigd JSON-RPC address")
	pflag.DurationVarP(&fOptions.Timeout, "timeout", "t", 5*time.Second, "Request timeout")
}

func main() {
	pflag.Parse()

	c, err := dial(fOptions.Server)
	if err != nil {
		log.Fatalf("Unable to reach holyrigd at %s: %s", fOptions.Server, err)
	}
	defer c.Close()

	go printNotifications(c)

	fmt.Printf("Connected to holyrigd at %s. Type 'help' for a list of commands.\n", fOptions.Server)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		str, err := line.Prompt("holyrigctl> ")
		if err != nil { // io.EOF or Ctrl-C/Ctrl-D
			break
		}
		str = strings.TrimSpace(str)
		if str == "" {
			continue
		}
		line.AppendHistory(str)

		if quit := execCmd(c, str); quit {
			break
		}
	}
}

// printNotifications drains c.Notifications for the REPL's lifetime,
// printing every server-pushed message as it arrives, independent of
// whatever command the user is currently typing.
func printNotifications(c *client) {
	for n := range c.Notifications {
		fmt.Printf("\n[%s] %s\n", n.Method, string(n.Params))
	}
}

func execCmd(c *client, line string) (quit bool) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help", "?":
		printHelp()
	case "quit", "exit":
		return true
	case "list":
		listRigsHandle(c)
	case "caps":
		capsHandle(c, args)
	case "exec":
		execHandle(c, args)
	case "sub":
		subHandle(c, args)
	default:
		fmt.Printf("Unknown command %q. Type 'help' for a list of commands.\n", cmd)
	}
	return false
}

func printHelp() {
	fmt.Print(`Commands:
  list                               List configured rigs and connectivity
  caps <rig_id>                      Print a rig's supported commands and status fields
  exec <rig_id> <command> [k=v ...]  Execute a command, guessing each value's type
  sub <rig_id> <field,field,...>     Subscribe to status fields (notifications print as they arrive)
  help                               Print this text
  quit                               Exit
`)
}

func listRigsHandle(c *client) {
	var result map[string]bool
	if err := c.Call(fOptions.Timeout, "list_rigs", struct{}{}, &result); err != nil {
		fmt.Println("Error:", err)
		return
	}

	ids := make([]string, 0, len(result))
	for id := range result {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([][]string, len(ids))
	for i, id := range ids {
		rows[i] = []string{id, fmt.Sprintf("%v", result[id])}
	}
	t := gotabulate.Create(rows)
	t.SetHeaders([]string{"Rig", "Connected"})
	t.SetAlign("left")
	fmt.Println(t.Render("simple"))
}

func capsHandle(c *client, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: caps <rig_id>")
		return
	}
	var caps struct {
		Commands map[string]struct {
			Parameters map[string]string `json:"parameters"`
		} `json:"commands"`
		StatusFields map[string]string `json:"status_fields"`
	}
	params := struct {
		RigID string `json:"rig_id"`
	}{args[0]}
	if err := c.Call(fOptions.Timeout, "get_capabilities", params, &caps); err != nil {
		fmt.Println("Error:", err)
		return
	}

	names := make([]string, 0, len(caps.Commands))
	for name := range caps.Commands {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, len(names))
	for i, name := range names {
		rows[i] = []string{name, paramsString(caps.Commands[name].Parameters)}
	}
	t := gotabulate.Create(rows)
	t.SetHeaders([]string{"Command", "Parameters"})
	t.SetAlign("left")
	fmt.Println(t.Render("simple"))

	fields := make([]string, 0, len(caps.StatusFields))
	for name := range caps.StatusFields {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	fmt.Println("Status fields:", strings.Join(fields, ", "))
}

func paramsString(params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b bytes.Buffer
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s:%s", name, params[name])
	}
	return b.String()
}

func execHandle(c *client, args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: exec <rig_id> <command> [key=value ...]")
		return
	}
	rigID, command := args[0], args[1]

	parameters := make(map[string]any)
	for _, field := range args[2:] {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			fmt.Printf("Invalid parameter %q, want key=value\n", field)
			return
		}
		parameters[key] = guessValue(value)
	}

	params := struct {
		RigID      string         `json:"rig_id"`
		Command    string         `json:"command"`
		Parameters map[string]any `json:"parameters"`
	}{rigID, command, parameters}

	if err := c.Call(fOptions.Timeout, "execute_command", params, nil); err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println("OK")
}

func subHandle(c *client, args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: sub <rig_id> <field,field,...>")
		return
	}
	rigID := args[0]
	fields := strings.Split(args[1], ",")

	params := struct {
		RigID  string   `json:"rig_id"`
		Fields []string `json:"fields"`
	}{rigID, fields}

	var result struct {
		SubscriptionID string `json:"subscription_id"`
	}
	if err := c.Call(fOptions.Timeout, "subscribe_status", params, &result); err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Printf("Subscribed (id=%s). Notifications print automatically.\n", result.SubscriptionID)
}

// guessValue mirrors internal/jsonrpc.guessDebugValue's type-guessing
// for the plaintext debug wire format: REPL users typing "freq=7074000"
// expect it coerced to a number, not sent as the literal string "7074000".
func guessValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return float64(n)
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
