// md-subscriber is a read-side tool: it attaches to one symbol's ring,
// follows the live record stream and prints decoded events. It demonstrates
// the full consume protocol including loss acceptance and torn-read
// retries.
package main

import (
	"flag"
	"log"
	"runtime"
	"time"

	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"github.com/RishiDarkDevil/binance-spot-controller/internal/codec"
	"github.com/RishiDarkDevil/binance-spot-controller/internal/feed"
	"github.com/RishiDarkDevil/binance-spot-controller/internal/ops"
	"github.com/RishiDarkDevil/binance-spot-controller/pkg/shm"
)

const emptyBackoff = 100 * time.Microsecond

func main() {
	configPath := flag.String("config", "config/controller.json", "Path to JSON config")
	registryPath := flag.String("registry", "", "Path to symbol registry JSON (default: derive from config)")
	registryDB := flag.String("registry-db", "", "Postgres conn string for the symbol registry (overrides -registry)")
	kindName := flag.String("kind", "top", "Feed kind: top|trade|aggTrade")
	symbol := flag.String("symbol", "", "Symbol to follow, e.g. btcusdt")
	count := flag.Uint64("count", 0, "Stop after this many records (0=run until shutdown)")
	quiet := flag.Bool("quiet", false, "Do not print individual events")
	flag.Parse()

	if *symbol == "" {
		log.Fatalf("symbol is required")
	}
	kind, err := feed.ParseKind(*kindName)
	if err != nil {
		log.Fatalf("invalid kind: %v", err)
	}

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	registry, err := ops.ResolveRegistry(loaded, *registryPath, *registryDB)
	if err != nil {
		log.Fatalf("registry resolve failed: %v", err)
	}
	id, ok := registry.ID(*symbol)
	if !ok {
		log.Fatalf("symbol %q not present in registry", *symbol)
	}

	var ringSize uint64
	for _, spec := range loaded.Feeds {
		if spec.Kind == kind {
			ringSize = spec.RingSize
		}
	}
	if ringSize == 0 {
		log.Fatalf("kind %s is not configured", kind)
	}

	name := ops.RingName(kind, id)
	ring, err := shm.Lookup(name, ringSize, feed.RawMessageSize)
	if err != nil {
		log.Fatalf("attach ring %s failed: %v", name, err)
	}
	defer ring.Close()
	consumer := ring.AttachConsumer()
	logs.Infof("following %s from seq %d", name, consumer.Cursor())

	var seen, lost, torn uint64
	for *count == 0 || seen < *count {
		select {
		case <-sys.Shutdown():
			logs.Infof("done: records=%d lost=%d tornRetries=%d", seen, lost, torn)
			return
		default:
		}

		guard, status := consumer.ConsumeStart()
		switch status {
		case shm.StatusSuccess:
			if !guard.TryCommit() {
				// Producer lapped us mid-read; the copy may be torn.
				torn++
				continue
			}
			seen++
			if !*quiet {
				report(guard.Seq(), guard.Bytes())
			}
		case shm.StatusSpedPast:
			lost += guard.Seq() - consumer.Cursor()
			logs.Warnf("producer sped past: cursor=%d resume=%d", consumer.Cursor(), guard.Seq())
			guard.AcceptLoss()
		case shm.StatusInFlight:
			runtime.Gosched()
		case shm.StatusEmpty:
			time.Sleep(emptyBackoff)
		}
	}
	logs.Infof("done: records=%d lost=%d tornRetries=%d", seen, lost, torn)
}

func report(seq uint64, record []byte) {
	ev, err := codec.Decode(record)
	if err != nil {
		logs.Warnf("seq %d: %+v", seq, err)
		return
	}
	switch {
	case ev.BookTop != nil:
		top := ev.BookTop
		logs.Infof("seq %d top %s bid %s@%s ask %s@%s",
			seq, top.Symbol, top.BidQty, top.BidPrice, top.AskQty, top.AskPrice)
	case ev.Trade != nil:
		trade := ev.Trade
		logs.Infof("seq %d trade %s %s@%s maker=%t",
			seq, trade.Symbol, trade.Quantity, trade.Price, trade.BuyerIsMaker)
	case ev.AggTrade != nil:
		agg := ev.AggTrade
		logs.Infof("seq %d aggTrade %s %s@%s trades=%d",
			seq, agg.Symbol, agg.Quantity, agg.Price, agg.LastTradeID-agg.FirstTradeID+1)
	}
}
