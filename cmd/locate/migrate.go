package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/banshee-data/rssi.locate/internal/fingerprintdb"
)

// runMigrate implements `locate migrate up|down|version|force N`.
func runMigrate(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: locate [-db path] migrate up|down|version|force N")
	}
	if *dbPath == "" {
		return errors.New("-db is required")
	}
	db, err := fingerprintdb.OpenUnmigrated(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	return migrateCommand(db, args)
}

func migrateCommand(db *fingerprintdb.DB, args []string) error {
	switch args[0] {
	case "up":
		if err := db.MigrateUp(); err != nil {
			return err
		}
	case "down":
		if err := db.MigrateDown(); err != nil {
			return err
		}
	case "force":
		if len(args) != 2 {
			return errors.New("usage: locate migrate force N")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := db.MigrateForce(v); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate command %q", args[0])
	}
	version, dirty, err := db.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Printf("schema version %d (dirty=%t)\n", version, dirty)
	return nil
}
