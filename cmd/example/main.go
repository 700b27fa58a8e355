package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/rested"
)

var (
	cfgFile string
	port    int
	dsn     string
	dev     bool
)

var rootCmd = &cobra.Command{
	Use:   "example",
	Short: "Serve example and child resources over generated CRUD endpoints",
	Long: `example mounts two resources on a rested engine:

  /examples                      soft-deletable examples
  /examples/{exampleId}/children children referencing an example

Rows live in memory unless --dsn points at a MySQL database.

Example:
  example                          # serve on :8080 from memory
  example --config example.yaml    # load engine and crud settings
  example openapi                  # print the OpenAPI document`,
	SilenceUsage: true,
	RunE:         runServe,
}

var openapiCmd = &cobra.Command{
	Use:   "openapi",
	Short: "Print the OpenAPI document for the mounted resources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		engine, release, err := build()
		if err != nil {
			return err
		}
		defer release()
		data, err := json.MarshalIndent(engine.GenerateOpenAPI(rested.Info{Title: "Example API", Version: "1.0.0"}), "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml)")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "MySQL DSN; rows are kept in memory when empty")
	rootCmd.PersistentFlags().BoolVar(&dev, "dev", false, "include stack traces in 500 responses")

	rootCmd.AddCommand(openapiCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the optional config file over the library defaults.
// RESTED_ environment variables override both.
func loadConfig() (rested.FileConfig, error) {
	cfg := rested.DefaultFileConfig()

	v := viper.New()
	v.SetEnvPrefix("rested")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("engine.port", cfg.Engine.Port)
	v.SetDefault("engine.readTimeout", cfg.Engine.ReadTimeout)
	v.SetDefault("engine.writeTimeout", cfg.Engine.WriteTimeout)
	v.SetDefault("engine.idleTimeout", cfg.Engine.IdleTimeout)
	v.SetDefault("crud.caseFormat", string(cfg.Crud.CaseFormat))
	v.SetDefault("crud.requireValidation", cfg.Crud.RequireValidation)
	v.SetDefault("crud.defaultPageSize", cfg.Crud.DefaultPageSize)
	v.SetDefault("crud.maxPageSize", cfg.Crud.MaxPageSize)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return cfg, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if port != 0 {
		cfg.Engine.Port = port
	}
	if dev {
		cfg.Engine.Development = true
	}
	if err := cfg.Crud.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid crud config: %w", err)
	}
	return cfg, nil
}

// build wires storage, services and the registry into a mounted engine.
// The returned func releases storage.
func build() (*rested.Engine, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	stores, err := openStores(dsn)
	if err != nil {
		return nil, nil, err
	}

	examples, err := newExampleService(stores.examples)
	if err != nil {
		stores.close()
		return nil, nil, err
	}
	children, err := newChildService(stores.children)
	if err != nil {
		stores.close()
		return nil, nil, err
	}

	reg, err := rested.NewRegistry(cfg.Crud)
	if err != nil {
		stores.close()
		return nil, nil, err
	}
	if err := rested.Register[Example, exampleBody, int64](reg, "", examples, func(o *rested.Options) {
		o.WithTags("examples")
		o.For(rested.VerbList).WithSummary("Browse examples")
	}); err != nil {
		stores.close()
		return nil, nil, err
	}
	if err := rested.Register[Child, childBody, int64](reg, "", children, func(o *rested.Options) {
		o.WithReference(rested.NewReference[int64]("Example")).WithTags("examples")
	}); err != nil {
		stores.close()
		return nil, nil, err
	}

	engine := rested.NewEngine(&cfg.Engine).WithIdentityExtractor(headerIdentity)
	if err := engine.Mount(reg); err != nil {
		stores.close()
		return nil, nil, err
	}
	return engine, stores.close, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	started := capitan.Hook(rested.EngineStarting, logStarting)
	defer started.Close()
	requests := capitan.Hook(rested.RequestCompleted, logRequest)
	defer requests.Close()
	created := capitan.Hook(rested.EntityCreated, logCreated)
	defer created.Close()
	deleted := capitan.Hook(rested.EntityDeleted, logDeleted)
	defer deleted.Close()
	denied := capitan.Hook(rested.AccessDenied, logDenied)
	defer denied.Close()

	engine, release, err := build()
	if err != nil {
		return err
	}
	defer release()

	for _, route := range engine.Routes() {
		log.Printf("%-6s %s", route.Method, route.Path)
	}

	go func() {
		if err := engine.Start(); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := engine.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

func logStarting(_ context.Context, e *capitan.Event) {
	addr, _ := rested.AddressKey.From(e)
	log.Printf("Listening on %s", addr)
}

func logRequest(_ context.Context, e *capitan.Event) {
	method, _ := rested.MethodKey.From(e)
	path, _ := rested.PathKey.From(e)
	status, _ := rested.StatusCodeKey.From(e)
	ms, _ := rested.DurationMsKey.From(e)
	log.Printf("%s %s %d %dms", method, path, status, ms)
}

func logCreated(_ context.Context, e *capitan.Event) {
	resource, _ := rested.ResourceKey.From(e)
	key, _ := rested.EntityKeyKey.From(e)
	log.Printf("created %s %s", resource, key)
}

func logDeleted(_ context.Context, e *capitan.Event) {
	resource, _ := rested.ResourceKey.From(e)
	key, _ := rested.EntityKeyKey.From(e)
	soft, _ := rested.SoftDeleteKey.From(e)
	log.Printf("deleted %s %s (soft=%t)", resource, key, soft)
}

func logDenied(_ context.Context, e *capitan.Event) {
	resource, _ := rested.ResourceKey.From(e)
	user, _ := rested.UserIDKey.From(e)
	log.Printf("denied %s to %q", resource, user)
}

// caller is the identity resolved from request headers.
type caller struct {
	id    string
	roles []string
}

func (c caller) ID() string      { return c.id }
func (c caller) Roles() []string { return c.roles }

// headerIdentity reads X-User-ID and a comma-separated X-User-Roles.
func headerIdentity(_ context.Context, r *http.Request) (rested.Identity, error) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		return nil, nil
	}
	var roles []string
	for _, role := range strings.Split(r.Header.Get("X-User-Roles"), ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return caller{id: id, roles: roles}, nil
}
