package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var knownCommands = []string{"scan", "groups"}

// ParseArguments converts command-line arguments into a map of flags and values
func ParseArguments() map[string]string {
	args := make(map[string]string)

	// First, identify the command
	command := ""
	commandIndex := -1
	for i := 1; i < len(os.Args); i++ {
		for _, known := range knownCommands {
			if os.Args[i] == known {
				command = os.Args[i]
				commandIndex = i
				break
			}
		}
		if command != "" {
			break
		}
	}

	if command != "" {
		args["command"] = command
	}

	// Process all arguments, skipping the command
	for i := 1; i < len(os.Args); i++ {
		if i == commandIndex {
			continue
		}

		arg := os.Args[i]

		// Handle flags with equals sign (--key=value)
		if strings.HasPrefix(arg, "--") && strings.Contains(arg, "=") {
			parts := strings.SplitN(arg, "=", 2)
			flagName := strings.TrimPrefix(parts[0], "--")
			args[flagName] = parts[1]
			continue
		}

		// Handle flags without equals sign (--key value)
		if strings.HasPrefix(arg, "--") {
			flagName := strings.TrimPrefix(arg, "--")

			// Check if this is a boolean flag (no value)
			if i+1 >= len(os.Args) || strings.HasPrefix(os.Args[i+1], "--") {
				args[flagName] = "true"
			} else {
				// The next argument is the value
				args[flagName] = os.Args[i+1]
				i++ // Skip the value in the next iteration
			}
		}
	}

	return args
}

// GetDefaultStorePath returns the default path for the session store file
func GetDefaultStorePath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		// Fallback to current directory if the config dir can't be determined
		return "imagedupes.db"
	}
	return filepath.Join(configDir, "imagedupes", "sessions.db")
}

// PrintUsage outputs the command-line usage instructions
func PrintUsage() {
	fmt.Printf("Usage:\n")
	fmt.Printf("  %s scan --folder=PATH [--strictness=0-4] [--archive-to=PATH] [--store=PATH] [--config=PATH] [--no-similarity] [--full] [--debug] [--logfile=PATH]\n", os.Args[0])
	fmt.Printf("  %s groups --session=ID [--store=PATH]\n", os.Args[0])
	fmt.Printf("\nParameters:\n")
	fmt.Printf("  --folder        : Path to folder to scan for duplicate images\n")
	fmt.Printf("  --strictness    : Similarity strictness, 0 (very strict) to 4 (very loose), default 2\n")
	fmt.Printf("  --archive-to    : Move pre-selected duplicates to this folder after the scan\n")
	fmt.Printf("  --store         : Path to session store file (default: %s)\n", GetDefaultStorePath())
	fmt.Printf("  --config        : Path to yaml config file\n")
	fmt.Printf("  --no-similarity : Disable the embedding tier, exact/perceptual detection only\n")
	fmt.Printf("  --full          : Ignore cached fingerprints, rehash every file\n")
	fmt.Printf("  --session       : Session id of a stored grouping snapshot\n")
	fmt.Printf("  --debug         : Enable debug mode (logs detailed information)\n")
	fmt.Printf("  --logfile       : Specify custom log file path (default: imagedupes.log)\n")
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  %s scan --folder=/path/to/photos --strictness=1 --debug\n", os.Args[0])
	fmt.Printf("  %s scan --folder=/path/to/photos --archive-to=/path/to/duplicates\n", os.Args[0])
}

// ParseStrictness parses and validates the strictness level from string
func ParseStrictness(value string) (int, error) {
	level, err := strconv.Atoi(value)
	if err != nil || level < 0 || level > 4 {
		return 2, fmt.Errorf("invalid strictness value '%s', using default (2)", value)
	}
	return level, nil
}
