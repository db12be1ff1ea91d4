// Package main provides the warehouse schema migration CLI for Tidemark.
//
// Migrations are embedded into the binary so a single artifact can provision
// the raw, core and mart schemas in any environment.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
)

const (
	version = "0.1.0-dev"
	name    = "migrator"
)

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if *showHelp || flag.NArg() < 1 {
		printUsage()
		os.Exit(0)
	}

	command := flag.Arg(0)

	config, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	runner, err := NewRunner(config)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}

	defer func() {
		_ = runner.Close()
	}()

	if err := executeCommand(command, runner); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

// executeCommand dispatches the requested migration command.
func executeCommand(command string, runner *Runner) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		return runner.Version()
	case "drop":
		fmt.Print("WARNING: This will drop the raw, core and mart schemas. Are you sure? (y/N): ")

		var response string

		_, _ = fmt.Scanln(&response)

		if response == "y" || response == "Y" {
			return runner.Drop()
		}

		fmt.Println("Operation cancelled.")

		return nil
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage() {
	fmt.Printf(`%s v%s - Warehouse Schema Migration Tool for Tidemark

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up      Apply all pending migrations
    down    Rollback the last migration
    status  Show migration status
    version Show current migration version
    drop    Drop all schemas (requires confirmation)

OPTIONS:
    --help     Show this help message
    --version  Show version information

ENVIRONMENT VARIABLES:
    DATABASE_URL    PostgreSQL connection string (REQUIRED)

    MIGRATION_TABLE Name of migration tracking table
                   (default: schema_migrations)
`, name, version, name)
}
