// Command zuscored is the dispatch-core daemon entrypoint: it opens
// the kernel transport, mounts the bundled memfs filesystem on the
// first MOUNT message, and serves operations until signaled to stop.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"
	"time"

	zuscore "github.com/anvilfs/zuscore"
	"github.com/anvilfs/zuscore/examples/memfs"
	"github.com/anvilfs/zuscore/internal/logging"
)

func main() {
	var (
		rootPath = flag.String("root", "", "kernel handle path (defaults to ZUSCORE_ROOT_PATH or the built-in default)")
		sizeStr  = flag.String("size", "64M", "reported capacity of the mounted memfs instance (e.g. 64M, 1G)")
		verbose  = flag.Bool("v", false, "verbose logging")
		channels = flag.Int("channels", 0, "worker channels per cpu (0 selects the built-in default)")
	)
	flag.Parse()

	size, err := parseSize(*sizeStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zuscored: invalid size %q: %v\n", *sizeStr, err)
		os.Exit(1)
	}

	cfg := zuscore.ConfigFromEnv()
	if *rootPath != "" {
		cfg.RootPath = *rootPath
	}
	if *verbose {
		cfg.LogLevel = logging.LevelDebug
	}
	if *channels > 0 {
		cfg.Channels = *channels
	}

	logger := logging.NewLogger(&logging.Config{Level: cfg.LogLevel})
	logging.SetDefault(logger)

	fs := memfs.New(size)
	onMount, onUmount := memfs.MountHook(fs)

	d, err := zuscore.New(cfg, nil, onMount, onUmount)
	if err != nil {
		logger.Error("failed to construct daemon", "err", err)
		os.Exit(1)
	}

	logger.Info("starting zuscore daemon", "root", cfg.RootPath, "channels", cfg.Channels, "memfs_size", formatSize(size))
	if err := d.Start(); err != nil {
		logger.Error("failed to start daemon", "err", err)
		os.Exit(1)
	}

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			filename := fmt.Sprintf("zuscored-stacks-%d.txt", time.Now().Unix())
			if f, err := os.Create(filename); err == nil {
				f.Write(buf[:n])
				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)
				f.Close()
				logger.Info("stack trace written to file", "file", filename)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	if err := d.Stop(); err != nil {
		logger.Error("error during shutdown", "err", err)
		os.Exit(1)
	}
	logger.Info("zuscore daemon stopped")
}

func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
