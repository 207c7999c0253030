package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/kenaz/featureflag"
	kenazhttp "github.com/aukilabs/kenaz/http"
	"github.com/aukilabs/kenaz/models"
	"github.com/aukilabs/kenaz/smoketest"
	"github.com/aukilabs/kenaz/snapshot"
	kwebsocket "github.com/aukilabs/kenaz/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The Kenaz version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "kenaz_info",
		Help:        "Kenaz information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"KENAZ_ADDR"                  help:"Listening address for client connections."`
	AdminAddr          string        `cli:""        env:"KENAZ_ADMIN_ADDR"            help:"Admin listening address."`
	PublicEndpoint     string        `cli:""        env:"KENAZ_PUBLIC_ENDPOINT"       help:"The public endpoint where this Kenaz server is reachable."`
	LogLevel           string        `cli:""        env:"KENAZ_LOG_LEVEL"             help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"KENAZ_LOG_INDENT"            help:"Indent logs."`
	APIToken           string        `cli:""        env:"KENAZ_API_TOKEN"             help:"The bearer token required by the scene API. Empty disables authentication."`
	ServerID           string        `cli:""        env:"KENAZ_SERVER_ID"             help:"The server identifier prefixed to scene IDs."`
	NodeID             int64         `cli:",hidden" env:"KENAZ_NODE_ID"               help:"The snowflake node used to generate build generations (0-1023)."`
	QueryBudget        int           `cli:""        env:"KENAZ_QUERY_BUDGET"          help:"The maximum number of index nodes visited by a query. 0 means unlimited."`
	MaxBodySize        int64         `cli:",hidden" env:"KENAZ_MAX_BODY_SIZE"         help:"The maximum size of request bodies in bytes."`
	SnapshotDir        string        `cli:""        env:"KENAZ_SNAPSHOT_DIR"          help:"The directory where scenes are persisted. Empty disables persistence."`
	SnapshotInterval   time.Duration `cli:",hidden" env:"KENAZ_SNAPSHOT_INTERVAL"     help:"The minimum duration between two snapshot writes."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"KENAZ_CLIENT_IDLE_TIMEOUT"   help:"Time until an idle stream client will be disconnected."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"KENAZ_LOG_SUMMARY_INTERVAL"  help:"The duration between each log summary by connection."`
	Events             eventsConfig  `cli:",hidden" env:"-"                           help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"KENAZ_FEATURE_FLAGS"         help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                           help:"Show version."`
	Help               bool          `cli:""        env:"-"                           help:"Show help."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"KENAZ_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"KENAZ_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"KENAZ_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"KENAZ_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":4100",
		AdminAddr:          ":18191",
		PublicEndpoint:     "http://localhost:4100",
		LogLevel:           logs.InfoLevel.String(),
		ServerID:           "kenaz",
		NodeID:             1,
		QueryBudget:        1 << 16,
		MaxBodySize:        kenazhttp.DefaultMaxBodySize,
		SnapshotInterval:   time.Second * 10,
		ClientIdleTimeout:  time.Minute * 5,
		LogSummaryInterval: time.Minute,
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts Kenaz server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "kenaz",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	flags := featureflag.New(conf.FeatureFlags)
	if unknown := flags.Unknown(); len(unknown) != 0 {
		logs.WithTag("flags", unknown).Warn("unknown feature flags")
	}

	scenes, err := models.NewSceneStore(conf.ServerID, conf.NodeID)
	if err != nil {
		logs.Fatal(errors.New("creating scene store failed").Wrap(err))
	}

	if err := restoreScenes(scenes, conf.SnapshotDir); err != nil {
		logs.Fatal(errors.New("restoring scenes failed").Wrap(err))
	}

	persister := snapshotPersister{
		Dir:      conf.SnapshotDir,
		Interval: conf.SnapshotInterval,
		Scenes:   scenes,
		changes:  make(chan struct{}, 1),
	}

	var wg sync.WaitGroup
	if conf.SnapshotDir != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			persister.Run(ctx)
		}()
	}

	ready := func() bool {
		return ctx.Err() == nil
	}

	var service http.ServeMux
	service.HandleFunc("GET /health", kenazhttp.HandleHealthCheck)
	service.HandleFunc("GET /ready", kenazhttp.HandleReadyCheck(ready))
	service.HandleFunc("GET /version", kenazhttp.HandleVersion(version))

	sceneHandler := kenazhttp.SceneHandler{
		Store:        scenes,
		FeatureFlags: flags,
		QueryBudget:  conf.QueryBudget,
		MaxBodySize:  conf.MaxBodySize,
		OnChange:     persister.Notify,
	}
	sceneHandler.Register(&service, func(h http.Handler) http.Handler {
		return kenazhttp.VerifyAuthTokenHandler(conf.APIToken, h)
	})

	service.Handle("GET /scenes/{id}/stream", websocket.Server{
		Handshake: kwebsocket.Handshake(flags, kenazhttp.VerifyAuthToken(conf.APIToken)),
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var h kwebsocket.Handler = &kwebsocket.QueryHandler{
				ClientIdleTimeout: conf.ClientIdleTimeout,
				Scenes:            scenes,
				QueryBudget:       conf.QueryBudget,
				FeatureFlags:      flags,
			}
			h = kwebsocket.HandlerWithLogs(h, conf.LogSummaryInterval)
			h = kwebsocket.HandlerWithMetrics(h, conf.PublicEndpoint)
			defer h.Close()

			kwebsocket.Handle(ctx, conn, h)
		},
	})

	service.Handle("POST /smoke-test", kenazhttp.VerifyAuthTokenHandler(conf.APIToken,
		smoketest.HandleSmokeTest(ctx, smoketest.Options{
			Endpoint:  conf.PublicEndpoint,
			Token:     conf.APIToken,
			UserAgent: fmt.Sprintf("Kenaz %s", version),
			Transport: transport,
		})))

	service.Handle("GET /ping", websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			io.Copy(ws, ws)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", kenazhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", kenazhttp.HandleReadyCheck(ready))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("server_id", conf.ServerID).
		WithTag("scenes", scenes.Count()).
		WithTag("auth", conf.APIToken != "").
		Info("starting kenaz server")

	kenazhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: kenazhttp.HandleWithCORS(
			metrics.HTTPHandler(&service, kenazhttp.MetricsPathFormatter))},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)

	wg.Wait()

	// save on exit
	if conf.SnapshotDir != "" {
		if err := persister.Write(); err != nil {
			logs.Error(errors.New("writing snapshots on exit failed").Wrap(err))
		}
	}
}

func restoreScenes(scenes *models.SceneStore, dir string) error {
	if dir == "" {
		return nil
	}

	snapshots, err := snapshot.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, s := range snapshots {
		scene, err := snapshot.Restore(scenes, s, true)
		if err != nil {
			return errors.New("restoring scene failed").
				WithTag("scene_uuid", s.SceneUUID).
				Wrap(err)
		}

		logs.WithTag("scene_id", scenes.GlobalSceneID(scene.ID)).
			WithTag("items", scene.ItemCount()).
			Info("scene restored")
	}
	return nil
}

// snapshotPersister writes the scenes to a directory after they change, at
// most once per interval.
type snapshotPersister struct {
	Dir      string
	Interval time.Duration
	Scenes   *models.SceneStore

	mutex   sync.Mutex
	changes chan struct{}
}

func (p *snapshotPersister) Notify() {
	select {
	case p.changes <- struct{}{}:
	default:
	}
}

func (p *snapshotPersister) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case <-p.changes:
			if err := p.Write(); err != nil {
				logs.Error(errors.New("writing snapshots failed").Wrap(err))
			}
		}

		select {
		case <-ctx.Done():
			return

		case <-time.After(p.Interval):
		}
	}
}

func (p *snapshotPersister) Write() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	scenes := p.Scenes.List()
	snapshots := make([]snapshot.Snapshot, 0, len(scenes))
	for _, scene := range scenes {
		if !scene.IsBuilt() {
			continue
		}

		s, err := snapshot.FromScene(scene)
		if err != nil {
			return err
		}
		snapshots = append(snapshots, s)
	}

	if err := snapshot.WriteDir(p.Dir, snapshots); err != nil {
		return err
	}

	logs.WithTag("dir", p.Dir).
		WithTag("scenes", len(snapshots)).
		Debug("snapshots written")
	return nil
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if conf.ServerID == "" {
		return errors.New("server id is empty")
	}

	if conf.NodeID < 0 || conf.NodeID > 1023 {
		return errors.New("node id is out of range").WithTag("node_id", conf.NodeID)
	}

	if conf.QueryBudget < 0 {
		return errors.New("query budget is negative").WithTag("query_budget", conf.QueryBudget)
	}

	if conf.MaxBodySize <= 0 {
		return errors.New("max body size must be positive").WithTag("max_body_size", conf.MaxBodySize)
	}

	if conf.ClientIdleTimeout <= 0 {
		return errors.New("client idle timeout must be positive")
	}

	if conf.LogSummaryInterval <= 0 {
		return errors.New("log summary interval must be positive")
	}
	return nil
}
