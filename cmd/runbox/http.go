package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/deixis/runbox"
)

// newRouter mounts the streamable MCP handler at /mcp and a liveness probe
// at /healthz. An empty origin list allows any origin.
func newRouter(server *mcpsdk.Server, origins []string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)

	mcpHandler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)
	r.PathPrefix("/mcp").Handler(mcpHandler)

	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Mcp-Session-Id"},
	})
	return c.Handler(r)
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "runbox",
		"version": runbox.Version,
	})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string, origins []string, logger *zap.SugaredLogger) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           newRouter(server, origins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	logger.Infow("listening", "addr", addr, "version", runbox.Version)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
