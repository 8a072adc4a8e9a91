// Command meshscan runs the live surface reconstruction pipeline: a UDP
// listener feeding sensor mesh fragments through validation into the
// fragment store, a scheduler turning store changes into render batches,
// a background archive flusher, and an HTTP control API.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/meshscan-io/meshscan/internal/api"
	"github.com/meshscan-io/meshscan/internal/archive"
	"github.com/meshscan-io/meshscan/internal/config"
	"github.com/meshscan-io/meshscan/internal/mesh"
	"github.com/meshscan-io/meshscan/internal/meshdb"
	"github.com/meshscan-io/meshscan/internal/version"
)

var (
	udpAddr    = flag.String("udp", "", "UDP listen address for fragment events (overrides MESHSCAN_UDP_ADDR)")
	httpAddr   = flag.String("listen", "", "HTTP listen address (overrides MESHSCAN_HTTP_ADDR)")
	dbPath     = flag.String("db", "", "Path to the sqlite database (overrides MESHSCAN_DB_PATH)")
	configPath = flag.String("config", "", "Path to a JSON tuning config (overrides MESHSCAN_CONFIG)")
	archiveDir = flag.String("archive-dir", "", "Directory for archived fragment records (overrides MESHSCAN_ARCHIVE_DIR)")
	exportDir  = flag.String("export-dir", "", "Directory for composite exports (overrides MESHSCAN_EXPORT_DIR)")
	debugMode  = flag.Bool("debug", false, "Enable debug logging")
)

// logSink logs entity lifecycle events. It stands in for a renderer when
// meshscan runs headless; the scheduler still exercises the full build
// and batch path.
type logSink struct{}

func (logSink) EntityCreated(id string, entity mesh.RenderEntity) {
	if vb, ok := entity.(*mesh.VertexBufferEntity); ok {
		log.Printf("[Render] entity created: fragment=%s triangles=%d", id, vb.TriangleCount)
		return
	}
	log.Printf("[Render] entity created: fragment=%s", id)
}

func (logSink) EntityRemoved(id string) {
	log.Printf("[Render] entity removed: fragment=%s", id)
}

func main() {
	flag.Parse()
	log.Printf("meshscan %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	envCfg, err := config.LoadEnv()
	if err != nil {
		log.Fatalf("failed to load environment: %v", err)
	}
	if *udpAddr == "" {
		*udpAddr = envCfg.UDPAddr
	}
	if *httpAddr == "" {
		*httpAddr = envCfg.HTTPAddr
	}
	if *dbPath == "" {
		*dbPath = envCfg.DBPath
	}
	if *configPath == "" {
		*configPath = envCfg.ConfigPath
	}
	if *archiveDir == "" {
		*archiveDir = envCfg.ArchiveDir
	}
	if *exportDir == "" {
		*exportDir = envCfg.ExportDir
	}
	if envCfg.Debug {
		*debugMode = true
	}
	mesh.SetDebug(*debugMode)
	archive.SetDebug(*debugMode)

	tuning := config.EmptyTuningConfig()
	if *configPath != "" {
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config %s: %v", *configPath, err)
		}
		log.Printf("loaded tuning config from %s", *configPath)
	}

	db, err := meshdb.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	validator := mesh.NewFragmentValidator(mesh.ValidatorConfig{
		MinVertices:   tuning.GetMinVertices(),
		MaxVertices:   tuning.GetMaxVertices(),
		MinFaces:      tuning.GetMinFaces(),
		MaxFaces:      tuning.GetMaxFaces(),
		MaxCoordinate: tuning.GetMaxCoordinate(),
	})
	store := mesh.NewFragmentStore(tuning.GetStoreCapacity())
	sampler := mesh.NewSpatialGridSampler(mesh.SamplerConfig{
		CellSize:      tuning.GetCellSize(),
		FloorFraction: tuning.GetFloorFraction(),
	})
	stats := mesh.NewPipelineStats()

	fragArchive := archive.NewFragmentArchive(archive.FragmentArchiveConfig{
		Dir:      *archiveDir,
		Capacity: tuning.GetArchiveCapacity(),
	})
	flusher := archive.NewFlusher(archive.FlusherConfig{
		Archive:  fragArchive,
		Interval: tuning.GetFlushInterval(),
	})

	session := mesh.NewScanSession(mesh.SessionConfig{
		Store:          store,
		Validator:      validator,
		Archive:        flusher,
		Recorder:       archive.NewSessionStore(db.DB),
		Stats:          stats,
		TargetDuration: tuning.GetTargetDuration(),
	})

	scheduler := mesh.NewUpdateScheduler(mesh.SchedulerConfig{
		Store:           store,
		Builder:         mesh.VertexBufferBuilder{},
		Sink:            logSink{},
		UpdateInterval:  tuning.GetUpdateInterval(),
		BatchSize:       tuning.GetBatchSize(),
		InterBatchDelay: tuning.GetInterBatchDelay(),
		SessionActive:   session.IsScanning,
	})
	defer scheduler.Close()
	store.SetObserver(scheduler)

	listener := mesh.NewUDPListener(mesh.UDPListenerConfig{
		Address: *udpAddr,
		Session: session,
		Stats:   stats,
	})

	server := api.NewServer(session, store, sampler, scheduler, stats,
		fragArchive, archive.NewExportStore(db.DB), archive.NewSessionStore(db.DB),
		*exportDir)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// background archive writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := flusher.Run(ctx); err != nil {
			log.Printf("flusher terminated: %v", err)
		}
		log.Print("flusher routine terminated")
	}()

	// sensor event intake
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listener.Start(ctx); err != nil {
			log.Printf("UDP listener terminated: %v", err)
			stop()
		}
		log.Print("listener routine terminated")
	}()

	// session clock: drives elapsed time and target auto-completion
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				session.Tick()
			case <-ctx.Done():
				log.Print("session tick routine terminated")
				return
			}
		}
	}()

	// HTTP control API
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Serve(ctx, *httpAddr); err != nil {
			log.Printf("HTTP server terminated: %v", err)
			stop()
		}
		log.Print("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Print("graceful shutdown complete")
}
