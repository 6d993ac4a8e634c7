package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"registration-service/internal/config"
	"registration-service/internal/factory"
	"registration-service/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", zap.Error(err))
	}
	defer f.Close()

	cfg := f.Config()
	router := f.Router()

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Server.EnableTLS {
		server.TLSConfig = f.TLSManager().GetTLSConfig()

		if cfg.IsProduction() && cfg.Server.AutoCert {
			startProductionServerWithAutoCert(f, server, cfg)
			return
		}

		util.Info("Starting HTTPS server",
			zap.String("environment", cfg.Environment),
			zap.String("port", cfg.Server.TLSPort),
			zap.Bool("auto_cert", cfg.Server.AutoCert),
		)
	} else {
		util.Warn("Starting HTTP server - TLS is disabled",
			zap.String("environment", cfg.Environment),
			zap.String("port", cfg.Server.Port),
		)
	}

	startServer(f, server, cfg)
}

func startProductionServerWithAutoCert(f *factory.Factory, server *http.Server, cfg *config.Config) {
	autoCertManager := f.TLSManager().GetAutocertManager()
	if autoCertManager == nil {
		util.Fatal("AutoCert manager is not available in production")
	}

	// ACME challenges and the HTTPS redirect only.
	httpServer := &http.Server{
		Addr:              ":80",
		Handler:           autoCertManager.HTTPHandler(nil),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server.Addr = ":443"

	go func() {
		util.Info("Starting HTTP redirect server on port 80")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Error("HTTP redirect server failed", zap.Error(err))
		}
	}()

	go func() {
		util.Info("Starting HTTPS server with AutoCert on port 443",
			zap.String("domain", cfg.Server.Domain),
		)
		if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Fatal("HTTPS AutoCert server failed", zap.Error(err))
		}
	}()

	waitForShutdown(f, server, httpServer)
}

func startServer(f *factory.Factory, server *http.Server, cfg *config.Config) {
	go func() {
		var err error
		if cfg.Server.EnableTLS {
			// Certificates come from the TLS manager's GetCertificate.
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	util.Info("Server started successfully",
		zap.String("environment", cfg.Environment),
		zap.Bool("tls_enabled", cfg.Server.EnableTLS),
		zap.String("address", server.Addr),
	)

	waitForShutdown(f, server)
}

func waitForShutdown(f *factory.Factory, servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", zap.Error(err))
		} else {
			util.Info("Server shutdown completed", zap.String("address", srv.Addr))
		}
	}
	f.Close()
}
