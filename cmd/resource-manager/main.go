// resource-manager owns the shared memory rings. It creates one ring per
// configured (kind, symbol) pair, pins itself to the main cpu and holds the
// regions until shutdown so handlers and subscribers can come and go.
package main

import (
	"flag"
	"log"

	"github.com/yanun0323/pkg/sys"

	"github.com/RishiDarkDevil/binance-spot-controller/internal/feed"
	"github.com/RishiDarkDevil/binance-spot-controller/internal/group"
	"github.com/RishiDarkDevil/binance-spot-controller/internal/ops"
	"github.com/RishiDarkDevil/binance-spot-controller/pkg/shm"
)

func main() {
	configPath := flag.String("config", "config/controller.json", "Path to JSON config")
	registryPath := flag.String("registry", "", "Path to symbol registry JSON (default: derive from config)")
	registryDB := flag.String("registry-db", "", "Postgres conn string for the symbol registry (overrides -registry)")
	cleanup := flag.Bool("cleanup", false, "Unlink rings on shutdown")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	registry, err := ops.ResolveRegistry(loaded, *registryPath, *registryDB)
	if err != nil {
		log.Fatalf("registry resolve failed: %v", err)
	}

	if err := group.PinCurrentThread(loaded.MainCPU); err != nil {
		log.Printf("pin main cpu %d failed: %v", loaded.MainCPU, err)
	}

	var rings []*shm.OwnedRing
	names := make([]string, 0)
	for _, spec := range loaded.Feeds {
		for _, symbol := range spec.Symbols {
			id, _ := registry.ID(symbol)
			name := ops.RingName(spec.Kind, id)
			ring, err := shm.Create(name, spec.RingSize, feed.RawMessageSize)
			if err != nil {
				teardown(rings, names, *cleanup)
				log.Fatalf("create ring %s failed: %v", name, err)
			}
			rings = append(rings, ring)
			names = append(names, name)
			log.Printf("ring %s ready: capacity=%d recordSize=%d", name, spec.RingSize, feed.RawMessageSize)
		}
	}
	log.Printf("resource manager holding %d rings on cpu %d", len(rings), loaded.MainCPU)

	<-sys.Shutdown()

	teardown(rings, names, *cleanup)
	log.Printf("resource manager stopped")
}

func teardown(rings []*shm.OwnedRing, names []string, cleanup bool) {
	for i, ring := range rings {
		if err := ring.Close(); err != nil {
			log.Printf("close ring %s failed: %v", names[i], err)
		}
		if cleanup {
			if err := ring.Unlink(); err != nil {
				log.Printf("unlink ring %s failed: %v", names[i], err)
			}
		}
	}
}
