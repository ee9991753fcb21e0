package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-coverage/internal/logger"
	"github.com/joeblew999/plat-coverage/internal/server"
)

// Options defines all CLI flags and env vars for the coverage server.
// Flags: --host, --port, --backend, --debounce-ms, --backend-timeout, --styles, --data-dir, --log-level, --log-format
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_BACKEND, ...
type Options struct {
	Host           string `doc:"Host to bind to" default:"0.0.0.0"`
	Port           int    `doc:"Port to listen on" short:"p" default:"8087"`
	Backend        string `doc:"Coverage computation service URL" default:"http://localhost:8000"`
	DebounceMS     int    `doc:"Buffer commit debounce in milliseconds" default:"300"`
	BackendTimeout int    `doc:"Backend request timeout in seconds" default:"60"`
	Styles         string `doc:"YAML palette file (empty for defaults)"`
	DataDir        string `doc:"Directory for the DuckDB file (empty for in-memory)"`
	LogLevel       string `doc:"Log level: debug, info, warn, error"`
	LogFormat      string `doc:"Log format: text or json"`
}

func newServer(opts *Options) (*server.Server, error) {
	return server.New(server.Config{
		Host:           opts.Host,
		Port:           fmt.Sprintf("%d", opts.Port),
		BackendURL:     opts.Backend,
		BackendTimeout: time.Duration(opts.BackendTimeout) * time.Second,
		Debounce:       time.Duration(opts.DebounceMS) * time.Millisecond,
		StylesPath:     opts.Styles,
		DataDir:        opts.DataDir,
		Logger:         logger.Setup(opts.LogLevel, opts.LogFormat),
	})
}

// appServer is the part of *server.Server that serve needs.
type appServer interface {
	http.Handler
	Close() error
}

// serve blocks in listen and closes srv once it returns.
func serve(srv appServer, addr string, listen func(string, http.Handler) error) error {
	defer srv.Close()
	return listen(addr, srv)
}

func exportSpec(srv *server.Server, useYAML bool) ([]byte, error) {
	if useYAML {
		return yaml.Marshal(srv.OpenAPI())
	}
	return json.MarshalIndent(srv.OpenAPI(), "", "  ")
}

func main() {
	// A local .env supplies SERVICE_* and LOG_* defaults; real env wins.
	_ = godotenv.Load(".env")

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		hooks.OnStart(func() {
			srv, err := newServer(opts)
			if err != nil {
				log.Fatalf("Startup error: %v", err)
			}

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-coverage server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Backend: %s\n", opts.Backend)
			fmt.Println()
			fmt.Printf("  Events:  %s/api/v1/view/events\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Println()

			if err := serve(srv, addr, http.ListenAndServe); err != nil {
				log.Fatalf("Server error: %v", err)
			}
		})
	})

	cli.Root().Use = "coverage"
	cli.Root().Short = "Transit coverage analysis map server"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv, err := newServer(opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating server: %v\n", err)
				os.Exit(1)
			}
			useYAML, _ := cmd.Flags().GetBool("yaml")
			output, err := exportSpec(srv, useYAML)
			srv.Close()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	cli.Run()
}
