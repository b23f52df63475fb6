// nanokv-server is the process entry point: it loads configuration,
// brings up logging, binds the listener, and runs the event loop until
// shutdown.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/zond/nanokv/internal/config"
	"github.com/zond/nanokv/internal/server"
)

func main() {
	cfg := config.Default()
	configFile := os.Getenv("NANOKV_CONFIG")

	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP address to listen on.")
	flag.StringVar(&cfg.LogFile, "logfile", cfg.LogFile, "Path to log file (default: stderr).")
	flag.IntVar(&cfg.WorkerPoolSize, "workers", cfg.WorkerPoolSize, "Worker pool size for deferred destructions.")
	flag.StringVar(&configFile, "config", configFile, "Path to a JSON config overlay file (defaults to $NANOKV_CONFIG).")
	flag.Bool("fnv-mul-free", false, "No-op: this build's FNV-1a hashing is already multiply-free-equivalent and bit-identical.")

	flag.Parse()

	if configFile != "" {
		if err := cfg.OverlayJSONFile(configFile); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}

	if cfg.LogFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename: cfg.LogFile,
			MaxSize:  cfg.LogMaxSize,
			MaxAge:   28,
			Compress: true,
		})
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		srv.Shutdown()
	}()

	log.Printf("nanokv listening on %s", cfg.ListenAddr)
	if err := srv.Run(); err != nil {
		log.Fatal(err)
	}
}
