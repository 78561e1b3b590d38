// duskmud-admin inspects and edits a driver data directory while the
// server is offline: player files, the world snapshot, permissions and
// the audit trail.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/duskmud/driver/perms"
	"github.com/duskmud/driver/storage"
	"github.com/rodaine/table"

	goccy "github.com/goccy/go-json"
)

func main() {
	homeDir, _ := os.UserHomeDir()
	dir := flag.String("dir", filepath.Join(homeDir, ".duskmud"), "Driver data directory")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  players                    List saved players\n")
		fmt.Fprintf(os.Stderr, "  player <name>              Dump one player file\n")
		fmt.Fprintf(os.Stderr, "  world                      Summarize the world snapshot\n")
		fmt.Fprintf(os.Stderr, "  perms                      List permission levels and domains\n")
		fmt.Fprintf(os.Stderr, "  set-level <name> <level>   Set a player's level (0-3)\n")
		fmt.Fprintf(os.Stderr, "  add-domain <name> <prefix> Assign a domain prefix to a builder\n")
		fmt.Fprintf(os.Stderr, "  audit [n]                  Show the last n audit entries\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	store, err := storage.New(*dir)
	if err != nil {
		fatal(err)
	}

	switch args[0] {
	case "players":
		err = listPlayers(store)
	case "player":
		err = dumpPlayer(store, arg(args, 1))
	case "world":
		err = summarizeWorld(store)
	case "perms":
		err = listPerms(store)
	case "set-level":
		err = setLevel(store, arg(args, 1), arg(args, 2))
	case "add-domain":
		err = addDomain(store, arg(args, 1), arg(args, 2))
	case "audit":
		n := 20
		if len(args) > 1 {
			if n, err = strconv.Atoi(args[1]); err != nil {
				fatal(err)
			}
		}
		err = tailAudit(*dir, n)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fatal(err)
	}
}

func arg(args []string, i int) string {
	if len(args) <= i {
		flag.Usage()
		os.Exit(1)
	}
	return args[i]
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func listPlayers(store *storage.Store) error {
	names, err := store.ListPlayers()
	if err != nil {
		return err
	}
	tbl := table.New("Name", "Location", "Saved")
	for _, name := range names {
		data, err := store.LoadPlayer(name)
		if err != nil {
			return err
		}
		tbl.AddRow(data.Name, data.Location, data.SavedAt.Format("2006-01-02 15:04:05"))
	}
	tbl.Print()
	return nil
}

func dumpPlayer(store *storage.Store, name string) error {
	data, err := store.LoadPlayer(name)
	if err != nil {
		return err
	}
	b, err := goccy.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func summarizeWorld(store *storage.Store) error {
	state, err := store.LoadWorld()
	if err != nil {
		return err
	}
	fmt.Printf("version %d, saved %s, %d objects\n", state.Version, state.SavedAt.Format("2006-01-02 15:04:05"), len(state.Objects))
	perPath := map[string]int{}
	for _, obj := range state.Objects {
		perPath[obj.Path]++
	}
	tbl := table.New("Path", "Objects")
	for path, count := range perPath {
		tbl.AddRow(path, count)
	}
	tbl.Print()
	return nil
}

func listPerms(store *storage.Store) error {
	guard := perms.NewGuard(perms.Options{}, nil)
	if err := guard.Load(store); err != nil {
		return err
	}
	snapshot := guard.Snapshot()
	tbl := table.New("Name", "Level", "Domains")
	for name, level := range snapshot.Levels {
		tbl.AddRow(name, perms.Level(level).String(), snapshot.Domains[name])
	}
	tbl.Print()
	return nil
}

func setLevel(store *storage.Store, name, levelStr string) error {
	level, err := strconv.Atoi(levelStr)
	if err != nil {
		return err
	}
	if level < int(perms.Player) || level > int(perms.Administrator) {
		return fmt.Errorf("level %d out of range", level)
	}
	guard := perms.NewGuard(perms.Options{}, nil)
	if err := guard.Load(store); err != nil {
		return err
	}
	guard.SetLevel(name, perms.Level(level))
	return guard.Save(store)
}

func addDomain(store *storage.Store, name, prefix string) error {
	guard := perms.NewGuard(perms.Options{}, nil)
	if err := guard.Load(store); err != nil {
		return err
	}
	guard.AddDomain(name, prefix)
	return guard.Save(store)
}

func tailAudit(dir string, n int) error {
	f, err := os.Open(filepath.Join(dir, "audit.log"))
	if err != nil {
		return err
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	tbl := table.New("Time", "Actor", "Action", "Target", "OK", "Details")
	for _, line := range lines {
		entry := storage.AuditEntry{}
		if err := goccy.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		tbl.AddRow(entry.Time.Format("15:04:05"), entry.Actor, entry.Action, entry.Target, entry.Success, entry.Details)
	}
	tbl.Print()
	return nil
}
