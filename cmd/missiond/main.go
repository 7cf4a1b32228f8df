package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mizuno/missiond/internal/engine"
	"github.com/mizuno/missiond/internal/model"
	"github.com/mizuno/missiond/internal/setup"
	"github.com/mizuno/missiond/internal/status"
	"github.com/mizuno/missiond/internal/uds"
)

const version = "1.3.0"

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "daemon":
		runDaemon(os.Args[2:])
	case "setup":
		runSetup(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "check":
		runCheck(os.Args[2:])
	case "refresh":
		runRefresh(os.Args[2:])
	case "mission":
		runMission(os.Args[2:])
	case "stop":
		runStop(os.Args[2:])
	case "version":
		fmt.Printf("missiond %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runMission(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: missiond mission <create|list|increment|complete|delete> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "create":
		runMissionCreate(args[1:])
	case "list":
		runMissionList(args[1:])
	case "increment":
		runMissionIncrement(args[1:])
	case "complete":
		runMissionComplete(args[1:])
	case "delete":
		runMissionDelete(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown mission subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: missiond mission <create|list|increment|complete|delete> [options]")
		os.Exit(1)
	}
}

func runDaemon(_ []string) {
	home := findHomeDir()
	if home == "" {
		fmt.Fprintln(os.Stderr, "error: .missiond/ directory not found. Run 'missiond setup <dir>' first.")
		os.Exit(1)
	}

	cfg, err := loadConfig(home)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if lvl := os.Getenv("MISSIOND_LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	engine.Version = version
	d, err := engine.New(home, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runSetup(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: missiond setup <dir>")
		os.Exit(1)
	}
	home, err := setup.Run(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Initialized %s\n", home)
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: missiond status [--json]\n", a)
			os.Exit(1)
		}
	}

	home := findHomeDir()
	if home == "" {
		fmt.Fprintln(os.Stderr, "error: .missiond/ directory not found. Run 'missiond setup <dir>' first.")
		os.Exit(1)
	}

	if err := status.Run(home, jsonOutput); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
}

func runCheck(_ []string) {
	printData(sendCommand("check", nil))
}

func runRefresh(_ []string) {
	printData(sendCommand("refresh", nil))
}

func runStop(_ []string) {
	sendCommand("shutdown", nil)
	fmt.Println("shutdown requested")
}

func runMissionCreate(args []string) {
	if len(args) < 1 || strings.HasPrefix(args[0], "--") {
		fmt.Fprintln(os.Stderr, "usage: missiond mission create <title> [--description <text>] [--type <daily|weekly|simple|persistent>] [--counter] [--target <n>] [--subtask <name>]... [--mastery-id <id>] [--mastery-value <f>] [--notification-id <n>]")
		os.Exit(1)
	}

	params := map[string]any{"title": args[0]}
	var subtasks []map[string]any
	rest := args[1:]

	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--description":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--description requires a value")
				os.Exit(1)
			}
			i++
			params["description"] = rest[i]
		case "--type":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--type requires a value")
				os.Exit(1)
			}
			i++
			params["type"] = rest[i]
		case "--counter":
			params["is_counter_based"] = true
		case "--target":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--target requires a value")
				os.Exit(1)
			}
			i++
			n, err := strconv.Atoi(rest[i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --target value: %s\n", rest[i])
				os.Exit(1)
			}
			params["target_count"] = n
		case "--subtask":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--subtask requires a value")
				os.Exit(1)
			}
			i++
			subtasks = append(subtasks, map[string]any{
				"name":                rest[i],
				"requiredCompletions": 1,
			})
		case "--mastery-id":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--mastery-id requires a value")
				os.Exit(1)
			}
			i++
			params["linked_mastery_id"] = rest[i]
		case "--mastery-value":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--mastery-value requires a value")
				os.Exit(1)
			}
			i++
			f, err := strconv.ParseFloat(rest[i], 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --mastery-value value: %s\n", rest[i])
				os.Exit(1)
			}
			params["mastery_value"] = f
		case "--notification-id":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--notification-id requires a value")
				os.Exit(1)
			}
			i++
			n, err := strconv.Atoi(rest[i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --notification-id value: %s\n", rest[i])
				os.Exit(1)
			}
			params["notification_id"] = n
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", rest[i])
			fmt.Fprintln(os.Stderr, "usage: missiond mission create <title> [options]")
			os.Exit(1)
		}
	}
	if len(subtasks) > 0 {
		params["subtasks"] = subtasks
	}

	printData(sendCommand("mission_create", params))
}

func runMissionList(args []string) {
	includeDeleted := false
	for _, a := range args {
		switch a {
		case "--deleted":
			includeDeleted = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: missiond mission list [--deleted]\n", a)
			os.Exit(1)
		}
	}

	params := map[string]any{}
	if includeDeleted {
		params["include_deleted"] = true
	}
	printData(sendCommand("mission_list", params))
}

func runMissionIncrement(args []string) {
	if len(args) < 1 || strings.HasPrefix(args[0], "--") {
		fmt.Fprintln(os.Stderr, "usage: missiond mission increment <id> [--subtask <name>] [--n <count>]")
		os.Exit(1)
	}

	params := map[string]any{"id": args[0]}
	rest := args[1:]

	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--subtask":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--subtask requires a value")
				os.Exit(1)
			}
			i++
			params["subtask"] = rest[i]
		case "--n":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--n requires a value")
				os.Exit(1)
			}
			i++
			n, err := strconv.Atoi(rest[i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --n value: %s\n", rest[i])
				os.Exit(1)
			}
			params["n"] = n
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", rest[i])
			fmt.Fprintln(os.Stderr, "usage: missiond mission increment <id> [--subtask <name>] [--n <count>]")
			os.Exit(1)
		}
	}

	printData(sendCommand("mission_increment", params))
}

func runMissionComplete(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: missiond mission complete <id>")
		os.Exit(1)
	}
	printData(sendCommand("mission_complete", map[string]any{"id": args[0]}))
}

func runMissionDelete(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: missiond mission delete <id>")
		os.Exit(1)
	}
	printData(sendCommand("mission_delete", map[string]any{"id": args[0]}))
}

// sendCommand dials the daemon socket and runs one request, exiting the
// process on transport failure or an error response. NOT_FOUND exits 2 so
// scripts can tell a missing mission from a daemon problem.
func sendCommand(command string, params any) json.RawMessage {
	home := findHomeDir()
	if home == "" {
		fmt.Fprintln(os.Stderr, "error: .missiond/ directory not found. Run 'missiond setup <dir>' first.")
		os.Exit(1)
	}

	client := uds.NewClient(filepath.Join(home, uds.DefaultSocketName))
	resp, err := client.SendCommand(command, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v (is the daemon running?)\n", command, err)
		os.Exit(1)
	}

	if !resp.Success {
		code := ""
		msg := "unknown error"
		if resp.Error != nil {
			code = resp.Error.Code
			msg = resp.Error.Message
		}
		fmt.Fprintf(os.Stderr, "%s failed [%s]: %s\n", command, code, msg)
		if code == uds.ErrCodeNotFound {
			os.Exit(2)
		}
		os.Exit(1)
	}

	return resp.Data
}

func printData(data json.RawMessage) {
	out, _ := json.MarshalIndent(data, "", "  ")
	fmt.Println(string(out))
}

// findHomeDir locates the .missiond/ home: MISSIOND_DIR when set, otherwise
// the working directory and its ancestors.
func findHomeDir() string {
	if dir := os.Getenv("MISSIOND_DIR"); dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		return ""
	}
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, setup.DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func loadConfig(home string) (model.Config, error) {
	data, err := os.ReadFile(filepath.Join(home, "config.yaml"))
	if err != nil {
		return model.Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	// Unmarshal over the defaults so a hand-trimmed config keeps sane values.
	cfg := model.DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config.yaml: %w", err)
	}
	return cfg, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `missiond %s — personal mission tracking daemon

Usage: missiond <command> [options]

Home:
  setup <dir>        Initialize a .missiond/ home under <dir>
  status [--json]    Show daemon state and mission statistics

Missions (CLI -> daemon):
  mission create <title> [options]   Create a mission
  mission list [--deleted]           List missions
  mission increment <id> [options]   Record progress on a mission
  mission complete <id>              Force-complete a mission
  mission delete <id>                Soft-delete a mission

Daemon:
  daemon             Run the daemon in the foreground
  check              Trigger a watchdog pass now
  refresh            Trigger a schedule refresh pass now
  stop               Ask the running daemon to shut down

Utilities:
  version            Show version
  help               Show this help

Environment:
  MISSIOND_DIR        Path to the .missiond/ home (skips the directory search)
  MISSIOND_LOG_LEVEL  Override logging.level from config.yaml
  A .env file in the working directory is loaded when present.

`, version)
}
