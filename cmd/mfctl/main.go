// mfctl is the musclefoot operator CLI, an admin client for a running
// server.
//
// Usage:
//
//	mfctl status                  Health check the server
//	mfctl time                    Show real and simulated time
//	mfctl advance <duration>      Move the simulated clock forward
//	mfctl time-reset              Return the simulated clock to real time
//	mfctl state [player-id]       Show live sessions, or one player
//	mfctl save                    Save every live session remotely
//	mfctl online                  Drain every offline save queue
//	mfctl requests                Show the recent request log
//	mfctl fault <path> <status>   Make requests to path fail
//	mfctl unfault <path>          Clear a fault
//	mfctl token <id> [name]       Mint a player token
//	mfctl test [path]             Run player journey scenarios
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/musclefoot/musclefoot/internal/client"
	"github.com/musclefoot/musclefoot/internal/config"
	"github.com/musclefoot/musclefoot/internal/scenario"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cmd, args, opts := parseArgs()

	if cmd == "" || cmd == "help" || cmd == "--help" || cmd == "-h" {
		printUsage()
		if cmd == "" {
			os.Exit(1)
		}
		return
	}

	ac := client.New(opts.url, opts.secret)

	var err error
	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("mfctl version %s\n", version)
		return
	case "status":
		err = cmdStatus(ac, opts.url)
	case "time":
		err = printJSON(ac.Time())
	case "advance":
		err = cmdAdvance(ac, args)
	case "time-reset":
		err = printJSON(ac.ResetTime())
	case "state":
		err = cmdState(ac, args)
	case "save":
		err = printJSON(ac.SaveAll())
	case "online":
		err = printJSON(ac.Online())
	case "requests":
		err = printJSON(ac.Requests())
	case "fault":
		err = cmdFault(ac, args)
	case "unfault":
		if len(args) != 1 {
			err = fmt.Errorf("usage: mfctl unfault <path>")
			break
		}
		err = printJSON(ac.RemoveFault(args[0]))
	case "token":
		err = cmdToken(ac, args, opts.ttl)
	case "test":
		err = cmdTest(ac, opts.url, args)
	default:
		fmt.Fprintf(os.Stderr, "mfctl: unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "mfctl: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	url    string
	secret string
	ttl    time.Duration
}

// parseArgs extracts the subcommand, positional args and the --url,
// --secret and --ttl options from os.Args.
func parseArgs() (command string, args []string, opts options) {
	opts.url = client.DefaultBaseURL
	if u := os.Getenv("MFCTL_URL"); u != "" {
		opts.url = u
	}
	opts.secret = os.Getenv(config.EnvAdminSecret)

	raw := os.Args[1:]
	var filtered []string
	for i := 0; i < len(raw); i++ {
		if i+1 < len(raw) {
			switch raw[i] {
			case "--url":
				opts.url = raw[i+1]
				i++
				continue
			case "--secret":
				opts.secret = raw[i+1]
				i++
				continue
			case "--ttl":
				if d, err := time.ParseDuration(raw[i+1]); err == nil {
					opts.ttl = d
				}
				i++
				continue
			}
		}
		filtered = append(filtered, raw[i])
	}

	if len(filtered) == 0 {
		return "", nil, opts
	}
	return filtered[0], filtered[1:], opts
}

func printUsage() {
	fmt.Printf(`mfctl, musclefoot operator CLI %s

Usage:
  mfctl [--url <base>] [--secret <s>] <command> [arguments]

Commands:
  status                     Health check the server
  time                       Show real and simulated time
  advance <duration>         Move the simulated clock forward (e.g. 24h)
  time-reset                 Return the simulated clock to real time
  state [player-id]          Show all live sessions, or one player
  save                       Save every live session to the remote store
  online                     Drain every offline save queue now
  requests                   Show the recent request log
  fault <path> <status>      Make requests to path fail (e.g. /v1/tap 503)
  unfault <path>             Clear a fault
  token <id> [name]          Mint a player token (--ttl <duration>)
  test [path]                Run YAML scenarios (default: ./scenarios/)
  version                    Print the mfctl version

Environment:
  MFCTL_URL                  Server base URL (default %s)
  %-26s Admin bearer secret
`, version, client.DefaultBaseURL, config.EnvAdminSecret)
}

func cmdStatus(ac *client.AdminClient, url string) error {
	ok, body := ac.Health()
	health := "healthy"
	if !ok {
		health = "unhealthy"
	}
	fmt.Println()
	fmt.Printf("  %-30s %-11s %s\n", "SERVER", "HEALTH", "DETAIL")
	fmt.Printf("  %-30s %-11s %s\n", "------", "------", "------")
	fmt.Printf("  %-30s %-11s %s\n", url, health, body)
	fmt.Println()
	if !ok {
		return fmt.Errorf("server is %s", health)
	}
	return nil
}

func cmdAdvance(ac *client.AdminClient, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: mfctl advance <duration>")
	}
	d, err := time.ParseDuration(args[0])
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", args[0], err)
	}
	return printJSON(ac.Advance(d))
}

func cmdState(ac *client.AdminClient, args []string) error {
	if len(args) == 0 {
		return printJSON(ac.State())
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid player id %q", args[0])
	}
	return printJSON(ac.Player(id))
}

func cmdFault(ac *client.AdminClient, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: mfctl fault <path> <status>")
	}
	status, err := strconv.Atoi(args[1])
	if err != nil || status < 100 || status > 599 {
		return fmt.Errorf("invalid status %q", args[1])
	}
	return printJSON(ac.InjectFault(args[0], status))
}

func cmdToken(ac *client.AdminClient, args []string, ttl time.Duration) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: mfctl token <id> [name]")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid player id %q", args[0])
	}
	var name string
	if len(args) == 2 {
		name = args[1]
	}
	token, err := ac.MintToken(id, name, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// printJSON pretty-prints a JSON response body.
func printJSON(body string, err error) error {
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if json.Indent(&buf, []byte(body), "", "  ") != nil {
		fmt.Println(body)
		return nil
	}
	fmt.Println(buf.String())
	return nil
}

// ---------------------------------------------------------------------------
// mfctl test
// ---------------------------------------------------------------------------

func cmdTest(ac *client.AdminClient, url string, args []string) error {
	path := "./scenarios/"
	if len(args) > 0 {
		path = args[0]
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("scenario path %s: %w", path, err)
	}

	var scenarios []*scenario.Scenario
	if info.IsDir() {
		scenarios, err = scenario.LoadDir(path)
	} else {
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return fmt.Errorf("unsupported scenario format %q", ext)
		}
		var s *scenario.Scenario
		s, err = scenario.Load(path)
		scenarios = []*scenario.Scenario{s}
	}
	if err != nil {
		return err
	}

	runner := scenario.NewRunner(url, ac)
	var passed, failed int
	for _, s := range scenarios {
		result, err := runner.Run(s)
		p, f := printScenarioResult(s, result, err)
		passed += p
		failed += f
	}

	fmt.Println()
	fmt.Printf("Results: %d passed, %d failed, %d total\n", passed, failed, passed+failed)
	if failed > 0 {
		return fmt.Errorf("%d step(s) failed", failed)
	}
	return nil
}

// printScenarioResult prints one scenario's steps and returns step counts.
func printScenarioResult(s *scenario.Scenario, result *scenario.Result, err error) (passed, failed int) {
	fmt.Printf("\n--- %s ---\n", s.Name)
	if s.Description != "" {
		fmt.Printf("    %s\n", strings.TrimSpace(s.Description))
	}
	fmt.Println()

	if err != nil {
		fmt.Printf("  ERROR: %v\n", err)
		return 0, 1
	}

	for _, sr := range result.Steps {
		if sr.Passed {
			fmt.Printf("  PASS  %-50s (%s)\n", sr.Name, sr.Duration.Round(time.Millisecond))
			passed++
		} else {
			fmt.Printf("  FAIL  %-50s (%s)\n", sr.Name, sr.Duration.Round(time.Millisecond))
			fmt.Printf("        %s\n", sr.Error)
			failed++
		}
	}

	label := "PASS"
	if !result.Passed {
		label = "FAIL"
	}
	fmt.Printf("\n  Scenario: %s (%s)\n", label, result.Duration.Round(time.Millisecond))
	return passed, failed
}
