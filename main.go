package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"imagedupes/config"
	"imagedupes/database"
	"imagedupes/logging"
	"imagedupes/session"
	"imagedupes/signalhandler"
	"imagedupes/types"
	"imagedupes/utils"
)

func main() {
	runtime.GOMAXPROCS(signalhandler.GetOptimalProcs())

	// Parse command line arguments into a map
	args := utils.ParseArguments()

	command, hasCommand := args["command"]

	// Set default session store path
	storePath := utils.GetDefaultStorePath()
	if custom, ok := args["store"]; ok && custom != "" {
		storePath = custom
	}

	// Setup debug logging if enabled
	if _, ok := args["debug"]; ok {
		logPath := "imagedupes.log"
		if custom, ok := args["logfile"]; ok && custom != "" {
			logPath = custom
		}
		if err := logging.SetupLogger(logPath); err != nil {
			fmt.Printf("Warning: Failed to setup logging: %v\n", err)
		} else {
			fmt.Printf("Debug mode enabled. Logging to: %s\n", logPath)
		}
		defer logging.CloseLogger()
	}

	// Check if required arguments are missing
	showUsage := !hasCommand
	if hasCommand && command == "scan" && args["folder"] == "" {
		showUsage = true
	}
	if hasCommand && command == "groups" && args["session"] == "" {
		showUsage = true
	}
	if showUsage {
		utils.PrintUsage()
		os.Exit(1)
	}

	switch command {
	case "scan":
		handleScanCommand(args, storePath)
	case "groups":
		handleGroupsCommand(args, storePath)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		utils.PrintUsage()
		os.Exit(1)
	}
}

func handleScanCommand(args map[string]string, storePath string) {
	folderPath := args["folder"]

	// Verify folder path exists and is accessible
	folderInfo, err := os.Stat(folderPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Fatalf("Folder path does not exist: %s", folderPath)
		}
		log.Fatalf("Cannot access folder path: %s (%v)", folderPath, err)
	}
	if !folderInfo.IsDir() {
		log.Fatalf("Path is not a directory: %s", folderPath)
	}

	cfg := loadConfig(args)

	startTime := time.Now()
	store := openStoreWithRetry(storePath)
	defer store.Close()

	engine := session.NewEngine(store)

	fmt.Printf("Starting duplicate scan...\n")
	fmt.Printf("Folder: %s\n", folderPath)
	fmt.Printf("Strictness: %d, similarity tier: %s, incremental: %v\n",
		cfg.Strictness,
		map[bool]string{true: "disabled", false: "enabled"}[cfg.DisableSimilarity],
		cfg.Incremental)

	sessionID, err := engine.StartScan(folderPath, cfg)
	if err != nil {
		log.Fatalf("Error starting scan: %v", err)
	}

	// A first Ctrl-C cancels cooperatively, a second one aborts.
	signalhandler.SetupHandler(func() {
		fmt.Println("\nCancelling...")
		engine.Cancel(sessionID)
	})

	pollProgress(engine, sessionID)

	prog, err := engine.Progress(sessionID)
	if err != nil {
		log.Fatalf("Error reading scan result: %v", err)
	}
	if prog.Status == types.StatusFailed {
		log.Fatalf("Scan failed. Check the log file for details.")
	}

	duration := time.Since(startTime)
	fmt.Printf("\nScan %s in %v.\n", prog.Status, duration.Round(time.Second))
	fmt.Printf("Session: %s\n", sessionID)

	printSummary(engine, sessionID)
	printGroups(engine, sessionID)

	if dest, ok := args["archive-to"]; ok && dest != "" && prog.Status == types.StatusCompleted {
		runArchive(engine, sessionID, dest)
	}
}

func loadConfig(args map[string]string) config.Config {
	cfg := config.Default()
	if path, ok := args["config"]; ok && path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			log.Fatalf("Error loading config %s: %v", path, err)
		}
		cfg = loaded
	}

	if value, ok := args["strictness"]; ok {
		level, err := utils.ParseStrictness(value)
		if err != nil {
			fmt.Printf("Warning: %v\n", err)
		}
		cfg.Strictness = level
	}
	if _, ok := args["no-similarity"]; ok {
		cfg.DisableSimilarity = true
	}
	if _, ok := args["full"]; ok {
		cfg.Incremental = false
	}
	return cfg
}

// openStoreWithRetry opens the session store with retry logic, matching the
// transient-lock behavior of sqlite files on shared volumes.
func openStoreWithRetry(storePath string) *database.Store {
	if err := os.MkdirAll(filepath.Dir(storePath), 0755); err != nil {
		log.Fatalf("Cannot create store directory: %v", err)
	}

	const maxRetries = 3
	var store *database.Store
	var err error
	for i := 0; i < maxRetries; i++ {
		store, err = database.Open(storePath)
		if err == nil {
			return store
		}
		if i < maxRetries-1 {
			log.Printf("Error opening session store (attempt %d/%d): %v - retrying...",
				i+1, maxRetries, err)
			time.Sleep(time.Second * time.Duration(i+1))
		}
	}
	log.Fatalf("Error opening session store after %d attempts: %v", maxRetries, err)
	return nil
}

// pollProgress displays the phase and counters until the scan is terminal.
func pollProgress(engine *session.Engine, sessionID string) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		prog, err := engine.Progress(sessionID)
		if err != nil {
			return
		}
		fmt.Printf("\r%-12s %d/%d", prog.Phase, prog.Processed, prog.Total)
		if prog.Status.Terminal() {
			fmt.Println()
			return
		}
	}
}

func printSummary(engine *session.Engine, sessionID string) {
	sum, err := engine.Summary(sessionID)
	if err != nil {
		return
	}
	fmt.Printf("\nSummary:\n")
	fmt.Printf("- Images discovered: %d\n", sum.Discovered)
	fmt.Printf("- Hash failures: %d\n", sum.HashFailures)
	fmt.Printf("- Duplicate groups: %d\n", sum.Groups)
	fmt.Printf("- Images in groups: %d\n", sum.Duplicates)
}

func printGroups(engine *session.Engine, sessionID string) {
	groups, err := engine.Groups(sessionID)
	if err != nil || len(groups) == 0 {
		return
	}

	fmt.Printf("\nDuplicate groups:\n")
	for _, g := range groups {
		fmt.Printf("Group %d (%s, score %.3f, %d files, %d bytes):\n",
			g.ID, g.Kind, g.Score, len(g.Members), g.TotalSize())
		for i, member := range g.Members {
			marker := " "
			if i < len(g.Selections) && g.Selections[i].Selected {
				marker = "*"
			}
			fmt.Printf("  [%s] %s (%dx%d, %d bytes)\n",
				marker, member.Path, member.Width, member.Height, member.Size)
		}
	}
	fmt.Println("\nFiles marked [*] are pre-selected for archival.")
}

func runArchive(engine *session.Engine, sessionID, dest string) {
	fmt.Printf("\nArchiving pre-selected duplicates to %s...\n", dest)

	op, err := engine.Archive(sessionID, dest)
	if err != nil {
		log.Fatalf("Error archiving: %v", err)
	}

	fmt.Printf("Archive complete: %d moved, %d skipped, %d failed, %d bytes relocated.\n",
		op.MovedCount, op.SkippedCount, op.FailedCount, op.BytesMoved)
	for _, item := range op.Items {
		if !item.Moved() {
			fmt.Printf("  %s: %s\n", item.SourcePath, item.Outcome)
		}
	}
}

// handleGroupsCommand prints the stored grouping snapshot of an earlier
// session without recomputation.
func handleGroupsCommand(args map[string]string, storePath string) {
	sessionID := args["session"]

	store := openStoreWithRetry(storePath)
	defer store.Close()

	groups, selections := store.LoadGroups(sessionID)
	if len(groups) == 0 {
		fmt.Printf("No stored groups for session %s.\n", sessionID)
		return
	}

	selectedByPath := make(map[string]bool, len(selections))
	for _, sel := range selections {
		selectedByPath[sel.Path] = sel.Selected
	}

	for _, g := range groups {
		fmt.Printf("Group %d (%s, score %.3f, %d files):\n",
			g.GroupID, g.Kind, g.Score, len(g.MemberPaths))
		for _, path := range g.MemberPaths {
			marker := " "
			if selectedByPath[path] {
				marker = "*"
			}
			fmt.Printf("  [%s] %s\n", marker, path)
		}
	}
}
