// Command stubserver serves a scripted processing backend for local runs of
// the desktop app.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-toolkit/internal/stubserver"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5000", "listen address")
	prefix := flag.String("prefix", "/api", "route prefix")
	mode := flag.String("mode", string(stubserver.ProcessFiles), "process response: files, download_url, binary, failure")
	latency := flag.Duration("latency", 3*time.Second, "delay before answering /process")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	script := stubserver.DefaultScript()
	script.Process = stubserver.ProcessMode(*mode)
	script.Latency = *latency
	script.DownloadURL = "http://" + *addr + "/downloads/Sample%20Clip.mp4"
	script.ProcessError = "processing backend rejected the job"
	script.Payload = []byte("stub media payload")

	srv := &http.Server{
		Addr:              *addr,
		Handler:           stubserver.New(script, logger).Handler(*prefix),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("stub backend listening", "addr", *addr, "prefix", *prefix, "mode", *mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("stub backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("stub backend stopped")
}
