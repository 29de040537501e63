// Cinder CLI - manages runtime configuration and snapshot stores
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cindervm/cinder/config"
	"github.com/cindervm/cinder/persist"
	"github.com/cindervm/cinder/snapshot"
)

func main() {
	configPath := flag.String("config", "", "Path to cinder.toml (defaults apply if omitted)")
	storePath := flag.String("store", "cinder.db", "Path to the snapshot store")
	list := flag.Bool("list", false, "List stored snapshots")
	inspect := flag.String("inspect", "", "Print a summary of the named snapshot")
	remove := flag.String("delete", "", "Delete the named snapshot")
	showConfig := flag.Bool("show-config", false, "Print the effective configuration")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cinder [options]\n\n")
		fmt.Fprintf(os.Stderr, "Manages cinder runtime configuration and snapshot stores.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  cinder -list                        # List snapshots in ./cinder.db\n")
		fmt.Fprintf(os.Stderr, "  cinder -store app.db -inspect prod  # Summarize the 'prod' snapshot\n")
		fmt.Fprintf(os.Stderr, "  cinder -config cinder.toml -show-config\n")
	}
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.ApplyLogging()

	if *showConfig {
		opts := cfg.Options()
		fmt.Printf("heap.capacity  = %d\n", opts.HeapCapacity)
		fmt.Printf("gc.interval    = %s\n", opts.GCInterval)
		fmt.Printf("gc.threshold   = %d\n", opts.GCThreshold)
		fmt.Printf("gc.minor_ratio = %d\n", opts.MinorRatio)
		fmt.Printf("gc.major_ratio = %d\n", opts.MajorRatio)
		fmt.Printf("log.verbosity  = %d\n", cfg.Log.Verbosity)
		return
	}

	if !*list && *inspect == "" && *remove == "" {
		flag.Usage()
		os.Exit(2)
	}

	store, err := persist.Open(*storePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	switch {
	case *list:
		err = listSnapshots(store)
	case *inspect != "":
		err = inspectSnapshot(store, *inspect)
	case *remove != "":
		err = store.Delete(*remove)
		if err == nil {
			fmt.Printf("Deleted %q\n", *remove)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func listSnapshots(store *persist.Store) error {
	infos, err := store.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("No snapshots")
		return nil
	}
	for _, info := range infos {
		fmt.Printf("%-24s %s  %d bytes\n", info.Name, info.TakenAt.Format("2006-01-02 15:04:05"), info.Size)
	}
	return nil
}

func inspectSnapshot(store *persist.Store, name string) error {
	img, err := store.Load(name)
	if err != nil {
		return err
	}

	published := 0
	byType := make(map[string]int)
	for _, obj := range img.Objects {
		byType[obj.Type]++
		if obj.Published {
			published++
		}
	}

	fmt.Printf("Snapshot %q (format v%d, taken %s)\n", name, img.Version, img.TakenAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  %d objects, %d published\n", len(img.Objects), published)
	for typeName, count := range byType {
		fmt.Printf("  %-24s %d\n", typeName, count)
	}
	return summarizeGenerations(img)
}

func summarizeGenerations(img *snapshot.Image) error {
	var gens [3]int
	for _, obj := range img.Objects {
		if int(obj.Generation) >= len(gens) {
			return fmt.Errorf("snapshot has out-of-range generation %d", obj.Generation)
		}
		gens[obj.Generation]++
	}
	fmt.Printf("  generations: %d young, %d mid, %d tenured\n", gens[0], gens[1], gens[2])
	return nil
}
