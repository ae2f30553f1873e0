// Command locate runs the RSSI localization service: it reads beacon scans
// from a serial scanner, collects and stores fingerprints, and reports the
// current location over HTTP, MQTT and the location history.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/banshee-data/rssi.locate/internal/publish"
	"github.com/banshee-data/rssi.locate/internal/version"
)

var (
	configPath       = flag.String("config", "", "Localization tuning JSON file (built-in defaults when empty)")
	listen           = flag.String("listen", ":8080", "HTTP listen address")
	port             = flag.String("port", "/dev/ttyACM0", "Scanner serial port; empty disables the scanner (ignored in dev mode)")
	devMode          = flag.Bool("dev", false, "Replay fixture scan lines instead of opening the serial port")
	fixtures         = flag.String("fixtures", "", "Scan line file replayed in dev mode")
	dbPath           = flag.String("db", "fingerprints.db", "SQLite database path; empty keeps fingerprints in memory only")
	mqttBroker       = flag.String("mqtt", "", "MQTT broker address (host:port or tcp://host:port); empty disables publishing")
	mqttTopic        = flag.String("mqtt-topic", publish.DefaultTopicPrefix, "MQTT topic prefix")
	grpcListen       = flag.String("grpc-listen", "", "gRPC health listen address; empty disables")
	sphere           = flag.String("sphere", "", "Restrict classification to one sphere")
	localize         = flag.Bool("localize", true, "Start localization at startup")
	historyRetention = flag.Duration("history-retention", 7*24*time.Hour, "How long location history is kept; 0 keeps it forever")
	verbose          = flag.Bool("verbose", false, "Log every classification cycle")
	showVersion      = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	command := "serve"
	var args []string
	if flag.NArg() > 0 {
		command = flag.Arg(0)
		args = flag.Args()[1:]
	}

	var err error
	switch command {
	case "serve":
		err = serve()
	case "import":
		err = runImport(args)
	case "migrate":
		err = runMigrate(args)
	case "version":
		fmt.Println(version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

func printUsage() {
	fmt.Fprintf(flag.CommandLine.Output(), `locate - RSSI fingerprint localization service

Usage: locate [flags] [command]

Commands:
  serve      Run the service (default)
  import     Load a YAML fingerprint library into the database
  migrate    Manage the database schema (up, down, version, force N)
  version    Show version
  help       Show this help message

Flags:
`)
	flag.PrintDefaults()
}
