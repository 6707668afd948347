package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"net/rpc"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"voxelwire.io/internal/auth"
	"voxelwire.io/internal/catalogsvc"
	"voxelwire.io/internal/config"
	"voxelwire.io/internal/persistence/indexdb"
	"voxelwire.io/internal/persistence/invdb"
	vlog "voxelwire.io/internal/persistence/log"
	"voxelwire.io/internal/session"
	"voxelwire.io/internal/sim/catalogs"
	"voxelwire.io/internal/sim/inventory"
	"voxelwire.io/internal/sim/world"
	"voxelwire.io/internal/transport/muxtcp"
	"voxelwire.io/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/server.yaml", "server config (yaml); defaults are used if it does not exist")
		addr       = flag.String("addr", "", "http listen address (overrides listen_addr)")
		tcpAddr    = flag.String("tcp", "", "raw tcp listen address (overrides tcp_listen_addr)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides data_dir)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *tcpAddr != "" {
		cfg.TCPListenAddr = *tcpAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	cats, err := catalogs.Load(cfg.CatalogDir, cfg.MediaDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	logger.Printf("catalogs: %d blocks (%s) %d items (%s) %d media files (%s)",
		len(cats.Blocks.Defs), shortDigest(cats.Blocks.Digest),
		len(cats.Items.Defs), shortDigest(cats.Items.Digest),
		len(cats.Media.Entries), humanize.Bytes(uint64(cats.Media.TotalBytes)))

	gen, err := terrain(cfg.World, cats)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	chunks := world.NewChunkStore(gen, world.NewHub())
	mirror, err := buildMirror(cfg.DataDir, logger)
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}
	snaps := &worldSnapshots{
		dir:          filepath.Join(cfg.DataDir, "snapshots"),
		seed:         cfg.World.Seed,
		blocksDigest: cats.Blocks.Digest,
		keep:         cfg.World.SnapshotsKeep,
		chunks:       chunks,
		log:          logger,
		mirror:       mirror,
	}
	if err := snaps.restore(); err != nil {
		logger.Fatalf("restore world: %v", err)
	}

	invDB, err := invdb.Open(filepath.Join(cfg.DataDir, "inventory.bolt"))
	if err != nil {
		logger.Fatalf("open inventory db: %v", err)
	}
	defer invDB.Close()
	inventories := inventory.NewManager(invDB)

	idx, err := indexdb.OpenSQLite(filepath.Join(cfg.DataDir, "index", "server.sqlite"))
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	defer idx.Close()

	auditLog := vlog.NewAuditLogger(cfg.DataDir)
	defer auditLog.Close()

	sessions := session.NewServer(cfg.Session(), session.Deps{
		Catalogs:    cats,
		Chunks:      chunks,
		Actions:     &world.Actions{Chunks: chunks, Catalogs: cats, Inventories: inventories, Logger: logger},
		Inventories: inventories,
		Players:     invDB,
		Auth:        auth.NewChallenge(auth.SQLStore{DB: idx}, []byte(cfg.AuthSecret)),
		Selector:    cfg.Selector(),
		Index:       idx,
		Audit:       auditLog,
		Logger:      logger,
		Spawn:       cfg.Spawn(),
	})

	catalogSvc := catalogsvc.New(cats)
	rpcServer := rpc.NewServer()
	if err := catalogSvc.Register(rpcServer); err != nil {
		logger.Fatalf("catalog rpc: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		snaps.run(ctx, cfg.World.SnapshotEvery.D())
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(sessions, chunks, idx, mirror))
	mux.HandleFunc("/v1/ws", ws.NewServer(ctx, sessions, logger).Handler())
	catalogSvc.Routes(mux)

	if envBool("VW_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			st := sessions.Stats()
			is := idx.Stats()
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{
				"sessions":          st,
				"loaded_chunks":     chunks.LoadedChunks(),
				"hub_dropped":       chunks.Hub().Dropped(),
				"index_queue_depth": is.QueueDepth,
				"index_dropped":     is.DropTotal,
			})
		})
		mux.HandleFunc("/admin/v1/sessions", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			user := strings.TrimSpace(r.URL.Query().Get("user"))
			if user == "" {
				http.Error(rw, "missing user", http.StatusBadRequest)
				return
			}
			evs, err := idx.SessionEvents(r.Context(), user)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(evs)
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			path, n, err := snaps.save(time.Now())
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{"path": path, "chunks": n})
		})
	} else {
		logger.Printf("admin endpoints disabled (VW_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("VW_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	tcpDone := make(chan struct{})
	if cfg.TCPListenAddr != "" {
		l, err := net.Listen("tcp", cfg.TCPListenAddr)
		if err != nil {
			logger.Fatalf("tcp listen: %v", err)
		}
		logger.Printf("tcp listening on %s", l.Addr())
		go func() {
			defer close(tcpDone)
			if err := muxtcp.NewServer(sessions, rpcServer, logger).Serve(ctx, l); err != nil {
				logger.Printf("tcp: %v", err)
			}
		}()
	} else {
		close(tcpDone)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	<-tcpDone
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := sessions.Wait(waitCtx); err != nil {
		logger.Printf("sessions still open after shutdown: %d", sessions.Stats().Active)
	}
	waitCancel()
	<-snapDone
	if path, n, err := snaps.save(time.Now()); err != nil {
		logger.Printf("final snapshot: %v", err)
	} else if n > 0 {
		logger.Printf("saved %d edited chunks to %s", n, path)
	}
	mirrorCtx, mirrorCancel := context.WithTimeout(context.Background(), 30*time.Second)
	mirror.Close(mirrorCtx)
	mirrorCancel()
	st := sessions.Stats()
	logger.Printf("stopped: %d sessions served, %d rejected actions, %d protocol errors", st.Total, st.Rejected, st.ProtocolErrors)
}

func loadConfig(path string, logger *log.Logger) (config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Printf("config not found (%s); using defaults", path)
		return config.Default(), nil
	}
	return cfg, err
}

func terrain(w config.World, cats *catalogs.Catalogs) (world.LayeredGen, error) {
	ids := map[string]uint32{}
	for _, name := range []string{"builtin:air", "default:dirt", "default:stone", "default:bedrock"} {
		def, ok := cats.Blocks.Lookup(name)
		if !ok {
			return world.LayeredGen{}, errors.New("block catalog has no " + name)
		}
		ids[name] = def.ID
	}
	return world.LayeredGen{
		Seed:       w.Seed,
		Air:        ids["builtin:air"],
		Dirt:       ids["default:dirt"],
		Stone:      ids["default:stone"],
		Bedrock:    ids["default:bedrock"],
		SurfaceY:   w.SurfaceY,
		Relief:     w.Relief,
		DirtDepth:  w.DirtDepth,
		BedrockY:   w.BedrockY,
		RegionSize: w.RegionSize,
	}, nil
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
