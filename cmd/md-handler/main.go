// md-handler runs the feed groups. It connects websocket feeds, subscribes
// the configured streams, and publishes every raw message into the shared
// memory rings owned by resource-manager. An admin socket allows stream
// changes at runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"github.com/RishiDarkDevil/binance-spot-controller/internal/admin"
	"github.com/RishiDarkDevil/binance-spot-controller/internal/feed"
	"github.com/RishiDarkDevil/binance-spot-controller/internal/group"
	"github.com/RishiDarkDevil/binance-spot-controller/internal/obs"
	"github.com/RishiDarkDevil/binance-spot-controller/internal/ops"
	"github.com/RishiDarkDevil/binance-spot-controller/pkg/wsconn"
)

const feedbackInterval = 10 * time.Millisecond

type runningGroup struct {
	name    string
	kind    feed.Kind
	handle  *group.Handle
	metrics *obs.Metrics
	feeds   []*feed.Feed
	pub     *ops.RingPublisher
	spec    ops.FeedSpec
	lcores  []int
	parser  feed.Parser
	loaded  *ops.Loaded
}

func main() {
	configPath := flag.String("config", "config/controller.json", "Path to JSON config")
	registryPath := flag.String("registry", "", "Path to symbol registry JSON (default: derive from config)")
	registryDB := flag.String("registry-db", "", "Postgres conn string for the symbol registry (overrides -registry)")
	adminSock := flag.String("admin-sock", "/tmp/md-handler.sock", "Admin unix socket path (empty=disable)")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disable)")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	registry, err := ops.ResolveRegistry(loaded, *registryPath, *registryDB)
	if err != nil {
		log.Fatalf("registry resolve failed: %v", err)
	}

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "md-handler",
			ServerAddress:   *pyroscopeAddr,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseObjects,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer profiler.Stop()
	}

	if err := group.PinCurrentThread(loaded.MainCPU); err != nil {
		logs.Warnf("pin main cpu %d failed: %+v", loaded.MainCPU, err)
	}

	ctx := context.Background()
	groups, err := buildGroups(ctx, loaded, registry)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer func() {
		for _, rg := range groups {
			for _, f := range rg.feeds {
				_ = f.Close()
			}
			_ = rg.pub.Close()
		}
	}()

	var adminSrv *admin.Server
	if *adminSock != "" {
		adminSrv, err = admin.NewServer(*adminSock)
		if err != nil {
			log.Fatalf("admin socket init failed: %v", err)
		}
	}

	for _, rg := range groups {
		handle, err := rg.start()
		if err != nil {
			log.Fatalf("group %s start failed: %v", rg.name, err)
		}
		rg.handle = handle
		if adminSrv != nil {
			rg := rg
			adminSrv.Register(rg.name, admin.Target{
				Kind:    rg.kind,
				Handle:  handle,
				Metrics: rg.metrics,
				DialFeed: func(name string) (*feed.Feed, error) {
					client, err := wsconn.Dial(ctx, loaded.Endpoint, wsconn.Option{})
					if err != nil {
						return nil, err
					}
					return feed.New(name, rg.kind, client), nil
				},
			})
		}
		logs.Infof("group %s running: workers=%d lcores=%v", rg.name, handle.Workers(), handle.LcoreIDs())
	}

	if adminSrv != nil {
		go func() {
			if err := adminSrv.Serve(); err != nil {
				logs.Errorf("admin serve, err: %+v", err)
			}
		}()
	}

	supervise(groups)

	for _, rg := range groups {
		rg.handle.Stop()
		for _, err := range rg.handle.Join() {
			if err != nil {
				logs.Errorf("group %s worker exit, err: %+v", rg.name, err)
			}
		}
		snap := rg.metrics.Snapshot()
		logs.Infof("group %s stopped: published=%d parseDrops=%d publishErrors=%d",
			rg.name, snap.RecordsPublished, snap.ParseDrops, snap.PublishErrors)
	}
	if adminSrv != nil {
		_ = adminSrv.Close()
	}
}

// buildGroups assembles one feed group per configured kind, allocating
// worker lcores from the shared pool in config order.
func buildGroups(ctx context.Context, loaded *ops.Loaded, registry *ops.Registry) ([]*runningGroup, error) {
	var groups []*runningGroup
	nextLcore := 0
	for _, spec := range loaded.Feeds {
		lcores := loaded.WorkerCPUs[nextLcore : nextLcore+spec.NumCPUs]
		nextLcore += spec.NumCPUs

		pub, err := ops.NewRingPublisher(spec.Kind, registry, spec.Symbols, spec.RingSize)
		if err != nil {
			return nil, fmt.Errorf("group %s: attach rings: %w", spec.Kind, err)
		}

		feeds, err := dialFeeds(ctx, loaded.Endpoint, spec)
		if err != nil {
			pub.Close()
			return nil, err
		}

		parser, err := feed.NewParser(spec.Medium.Parser)
		if err != nil {
			pub.Close()
			return nil, err
		}

		groups = append(groups, &runningGroup{
			name:    spec.Kind.String(),
			kind:    spec.Kind,
			metrics: obs.NewMetrics(),
			feeds:   feeds,
			pub:     pub,
			spec:    spec,
			lcores:  lcores,
			parser:  parser,
			loaded:  loaded,
		})
	}
	return groups, nil
}

// dialFeeds opens one upstream connection per worker so each worker polls
// its own transport.
func dialFeeds(ctx context.Context, endpoint string, spec ops.FeedSpec) ([]*feed.Feed, error) {
	if spec.Medium.Protocol != "websocket" {
		return nil, fmt.Errorf("group %s: unsupported protocol %q", spec.Kind, spec.Medium.Protocol)
	}
	feeds := make([]*feed.Feed, 0, spec.NumCPUs)
	for i := 0; i < spec.NumCPUs; i++ {
		client, err := wsconn.Dial(ctx, endpoint, wsconn.Option{})
		if err != nil {
			for _, f := range feeds {
				_ = f.Close()
			}
			return nil, fmt.Errorf("group %s: dial %s: %w", spec.Kind, endpoint, err)
		}
		name := fmt.Sprintf("binance-%s-%d", spec.Kind, i)
		feeds = append(feeds, feed.New(name, spec.Kind, client))
	}
	return feeds, nil
}

func (rg *runningGroup) start() (*group.Handle, error) {
	g, err := group.ValidatedBuild(group.Config{
		Name:                    rg.name,
		Kind:                    rg.kind,
		LcoreIDs:                rg.lcores,
		Publisher:               rg.pub,
		Parser:                  rg.parser,
		Feeds:                   rg.feeds,
		CommandChannelCapacity:  rg.loaded.CommandChannelCapacity,
		FeedbackChannelCapacity: rg.loaded.FeedbackChannelCapacity,
		Metrics:                 rg.metrics,
	})
	if err != nil {
		return nil, err
	}
	handle, err := g.Run()
	if err != nil {
		return nil, err
	}

	// Initial subscriptions go through the same command path the admin
	// socket uses, spread over the group's feeds.
	for i, symbol := range rg.spec.Symbols {
		f := rg.feeds[i%len(rg.feeds)]
		workerIndex, ok := handle.Assignment(f.Name())
		if !ok {
			handle.Stop()
			return nil, fmt.Errorf("group %s: feed %s not assigned", rg.name, f.Name())
		}
		cmd := group.AddStream(f.Name(), feed.Stream{Kind: rg.kind, Name: symbol})
		if err := handle.SendCommand(workerIndex, cmd); err != nil {
			handle.Stop()
			return nil, fmt.Errorf("group %s: subscribe %s: %w", rg.name, symbol, err)
		}
	}
	return handle, nil
}

// supervise drains feedback and watches worker health until shutdown or
// until every worker has exited.
func supervise(groups []*runningGroup) {
	ticker := time.NewTicker(feedbackInterval)
	defer ticker.Stop()
	reported := make(map[string]struct{})
	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ticker.C:
		}

		alive := 0
		for _, rg := range groups {
			for _, fb := range rg.handle.PollFeedback() {
				if fb.Err != nil {
					logs.Errorf("group %s command %s, err: %+v", rg.name, fb.Kind, fb.Err)
				}
			}
			for _, status := range rg.handle.TryJoin() {
				if !status.Done {
					alive++
					continue
				}
				key := fmt.Sprintf("%s/%d", rg.name, status.Index)
				if _, seen := reported[key]; seen {
					continue
				}
				reported[key] = struct{}{}
				if status.Err != nil {
					logs.Errorf("group %s worker %d died on lcore %d, err: %+v",
						rg.name, status.Index, status.LcoreID, status.Err)
				}
			}
		}
		if alive == 0 {
			logs.Warn("all workers exited")
			return
		}
	}
}

type emptyLogger struct{}

func (emptyLogger) Infof(string, ...interface{})  {}
func (emptyLogger) Debugf(string, ...interface{}) {}
func (emptyLogger) Errorf(string, ...interface{}) {}
