package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/rssi.locate/internal/fingerprint"
	"github.com/banshee-data/rssi.locate/internal/fingerprintdb"
	"github.com/banshee-data/rssi.locate/internal/rssi"
)

// library is the YAML fingerprint fixture read by `locate import`:
//
//	spheres:
//	  - id: home
//	    locations:
//	      - id: kitchen
//	        beacons:
//	          kitchen-beacon: {mean: -58, variance: 4, count: 40}
//	      - id: hall
//	        export: '{"version":1,"samples":3,"beacons":{...}}'
type library struct {
	Spheres []librarySphere `yaml:"spheres"`
}

type librarySphere struct {
	ID        string            `yaml:"id"`
	Locations []libraryLocation `yaml:"locations"`
}

type libraryLocation struct {
	ID      string                   `yaml:"id"`
	Beacons map[string]librarySample `yaml:"beacons,omitempty"`
	Export  string                   `yaml:"export,omitempty"` // exported text form
}

type librarySample struct {
	Mean     float64 `yaml:"mean"`
	Variance float64 `yaml:"variance"`
	Count    int     `yaml:"count"`
}

type libraryEntry struct {
	SphereID    string
	LocationID  string
	Fingerprint *fingerprint.Fingerprint
}

// parseLibrary decodes and validates a fixture. Unknown keys are errors.
func parseLibrary(r io.Reader) ([]libraryEntry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var lib library
	if err := dec.Decode(&lib); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty fingerprint library")
		}
		return nil, fmt.Errorf("failed to parse fingerprint library: %w", err)
	}

	var out []libraryEntry
	seen := make(map[[2]string]bool)
	for _, s := range lib.Spheres {
		if s.ID == "" {
			return nil, errors.New("sphere without id")
		}
		for _, l := range s.Locations {
			if l.ID == "" {
				return nil, fmt.Errorf("sphere %s: location without id", s.ID)
			}
			key := [2]string{s.ID, l.ID}
			if seen[key] {
				return nil, fmt.Errorf("duplicate location %s/%s", s.ID, l.ID)
			}
			seen[key] = true
			fp, err := l.fingerprint()
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", s.ID, l.ID, err)
			}
			out = append(out, libraryEntry{SphereID: s.ID, LocationID: l.ID, Fingerprint: fp})
		}
	}
	return out, nil
}

func (l libraryLocation) fingerprint() (*fingerprint.Fingerprint, error) {
	switch {
	case l.Export != "" && len(l.Beacons) > 0:
		return nil, errors.New("set either beacons or export, not both")
	case l.Export != "":
		return fingerprint.Parse(l.Export)
	case len(l.Beacons) == 0:
		return nil, errors.New("no beacons")
	}
	sums := make(map[string]rssi.Summary, len(l.Beacons))
	for id, b := range l.Beacons {
		if b.Count < 1 {
			return nil, fmt.Errorf("beacon %s: count must be positive", id)
		}
		if b.Mean < rssi.MinRSSI || b.Mean > rssi.MaxRSSI {
			return nil, fmt.Errorf("beacon %s: mean %.1f outside [%d, %d] dBm", id, b.Mean, rssi.MinRSSI, rssi.MaxRSSI)
		}
		if b.Variance < 0 {
			return nil, fmt.Errorf("beacon %s: negative variance", id)
		}
		sums[id] = rssi.Summary{Count: b.Count, Mean: b.Mean, Variance: b.Variance}
	}
	return fingerprint.FromSummaries(sums), nil
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	clearFirst := fs.Bool("clear", false, "Remove every stored fingerprint before importing")
	dryRun := fs.Bool("dry-run", false, "Validate the library without writing")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("usage: locate [-db path] import [-clear] [-dry-run] library.yaml")
	}
	if *dbPath == "" {
		return errors.New("-db is required")
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	entries, err := parseLibrary(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if *dryRun {
		log.Printf("library %s is valid: %d fingerprints", fs.Arg(0), len(entries))
		return nil
	}

	db, err := fingerprintdb.Open(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	return importLibrary(db, entries, *clearFirst)
}

func importLibrary(db *fingerprintdb.DB, entries []libraryEntry, clearFirst bool) error {
	if clearFirst {
		n, err := db.ClearFingerprints()
		if err != nil {
			return err
		}
		log.Printf("removed %d stored fingerprints", n)
	}
	for _, e := range entries {
		if err := db.SaveFingerprint(e.SphereID, e.LocationID, e.Fingerprint); err != nil {
			return err
		}
	}
	log.Printf("imported %d fingerprints", len(entries))
	return nil
}
