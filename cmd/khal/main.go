// ABOUTME: Entry point for the khal calendar cache and query server.
// ABOUTME: Wires together config, store, collection and query engine with CLI commands.

package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/pimutils/khal/internal/api"
	"github.com/pimutils/khal/internal/config"
	"github.com/pimutils/khal/internal/diag"
	"github.com/pimutils/khal/internal/khalendar"
	"github.com/pimutils/khal/internal/query"
	"github.com/pimutils/khal/internal/store"
)

var (
	configPath string
	dbPath     string
	port       string
	atFlag     string
	calFlags   []string
	exclFlags  []string
)

func main() {
	loadDotEnv()

	rootCmd := &cobra.Command{
		Use:   "khal",
		Short: "khal - local calendar cache and query engine",
		Long: `khal keeps a local SQLite cache of iCalendar files and answers
range, point and search queries against it.

Events are read from vdir directories (one .ics file per event), expanded
through their recurrence rules and stored as concrete occurrences. Floating
events keep their civil time in every timezone; absolute events convert to
the configured display timezone.

Quick Start:
  khal load             # Import all configured calendars
  khal query 2026-09-01 2026-09-08
  khal search standup
  khal serve            # Start the HTTP query API`,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", getEnv("KHAL_CONFIG", defaultConfigPath()), "Config file path")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", getEnv("KHAL_DB", ""), "Database path (overrides config)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP query API",
		Long: `Start the khal HTTP server.

The server provides:
  • Occurrence queries at /api/occurrences?from=...&to=...
  • Point-in-time queries at /api/occurrences?at=...
  • Text search at /api/search?q=...
  • Event bodies at /api/events/{calendar}/{uid}
  • Health check at /healthz

Environment Variables:
  KHAL_PORT     Server port (overrides the configured listen address)
  KHAL_CONFIG   Config file path
  KHAL_DB       Database path`,
		RunE: runServe,
	}
	serveCmd.Flags().StringVarP(&port, "port", "p", getEnv("KHAL_PORT", ""), "Port to listen on")

	loadCmd := &cobra.Command{
		Use:   "load [calendar]",
		Short: "Import configured calendars into the cache",
		Long: `Read the vdir directories of all configured calendars (or a single
named one) and bring the cache up to date.

Files whose content hash is unchanged are skipped, so repeated loads are
cheap. Files that disappeared from the directory are removed from the
cache. Parse problems are reported per event and never abort the import.`,
		RunE: runLoad,
		Args: cobra.MaximumNArgs(1),
	}

	queryCmd := &cobra.Command{
		Use:   "query FROM TO",
		Short: "List occurrences in a time range",
		Long: `List all occurrences overlapping the half-open window [FROM, TO).

FROM and TO accept RFC 3339 timestamps or bare dates, which are anchored
at midnight in the default timezone. With --at, a single instant is
queried instead and FROM/TO are not required.`,
		RunE: runQuery,
		Args: cobra.MaximumNArgs(2),
	}
	queryCmd.Flags().StringVar(&atFlag, "at", "", "Query a single instant instead of a range")
	queryCmd.Flags().StringSliceVar(&calFlags, "cal", nil, "Only include these calendars")
	queryCmd.Flags().StringSliceVar(&exclFlags, "exclude", nil, "Exclude these calendars")

	searchCmd := &cobra.Command{
		Use:   "search TEXT",
		Short: "Search events by summary, description or location",
		RunE:  runSearch,
		Args:  cobra.ExactArgs(1),
	}
	searchCmd.Flags().StringSliceVar(&calFlags, "cal", nil, "Only include these calendars")
	searchCmd.Flags().StringSliceVar(&exclFlags, "exclude", nil, "Exclude these calendars")

	rebuildCmd := &cobra.Command{
		Use:   "rebuild [calendar]",
		Short: "Wipe and re-import calendars from scratch",
		Long: `Drop all cached data for the named calendar (or every configured
calendar) and re-import it from the vdir directory.

Use this after changing the default timezone, the horizon or the default
event duration, since cached occurrences bake those settings in.`,
		RunE: runRebuild,
		Args: cobra.MaximumNArgs(1),
	}

	calendarsCmd := &cobra.Command{
		Use:   "calendars",
		Short: "List configured calendars",
		RunE:  runCalendars,
	}

	rootCmd.AddCommand(serveCmd, loadCmd, queryCmd, searchCmd, rebuildCmd, calendarsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles everything a command needs.
type app struct {
	cfg        *config.Config
	store      *store.Store
	diags      *diag.Collector
	collection *khalendar.Collection
	engine     *query.Engine
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	diags := diag.NewCollector()
	coll, err := khalendar.New(s, cfg, diags)
	if err != nil {
		s.Close()
		return nil, err
	}

	defaultZone, err := cfg.DefaultZone()
	if err != nil {
		s.Close()
		return nil, err
	}
	displayZone, err := cfg.DisplayZone()
	if err != nil {
		s.Close()
		return nil, err
	}

	return &app{
		cfg:        cfg,
		store:      s,
		diags:      diags,
		collection: coll,
		engine:     query.New(s, defaultZone, displayZone),
	}, nil
}

func (a *app) close() {
	a.store.Close()
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	if err := a.loadAll(""); err != nil {
		return err
	}

	if spec := a.cfg.RefreshCron; spec != "" {
		c := cron.New()
		if _, err := c.AddFunc(spec, func() {
			if err := a.loadAll(""); err != nil {
				log.Printf("scheduled refresh failed: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
		}
		c.Start()
		log.Printf("Refreshing calendars on schedule %q", spec)
	}

	h := api.NewHandlers(a.store, a.engine, a.collection, a.cfg, a.diags)
	r := api.NewRouter(h)

	addr := a.cfg.Listen
	if port != "" {
		addr = ":" + port
	}
	log.Printf("khal server listening on %s", addr)
	log.Printf("Database: %s", a.cfg.DBPath)
	return http.ListenAndServe(addr, r)
}

func runLoad(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	if err := a.loadAll(name); err != nil {
		return err
	}
	a.printDiagnostics()
	return nil
}

func runRebuild(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	seen := false
	for _, cal := range a.cfg.Calendars {
		if name != "" && cal.Name != name {
			continue
		}
		seen = true
		if err := a.collection.Rebuild(cal); err != nil {
			return fmt.Errorf("rebuild %s: %w", cal.Name, err)
		}
	}
	if name != "" && !seen {
		return fmt.Errorf("unknown calendar %q", name)
	}
	a.printDiagnostics()
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	f := store.Filter{Include: calFlags, Exclude: exclFlags}

	var occs []query.Occurrence
	if atFlag != "" {
		at, err := parseArgTime(atFlag, a.engine.DefaultZone)
		if err != nil {
			return fmt.Errorf("invalid --at value: %w", err)
		}
		occs, err = a.engine.Point(at, f)
		if err != nil {
			return err
		}
	} else {
		if len(args) != 2 {
			return fmt.Errorf("query needs FROM and TO (or --at)")
		}
		from, err := parseArgTime(args[0], a.engine.DefaultZone)
		if err != nil {
			return fmt.Errorf("invalid FROM: %w", err)
		}
		to, err := parseArgTime(args[1], a.engine.DefaultZone)
		if err != nil {
			return fmt.Errorf("invalid TO: %w", err)
		}
		occs, err = a.engine.Range(from, to, f)
		if err != nil {
			return err
		}
	}

	for _, o := range occs {
		printOccurrence(o)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	hits, err := a.engine.Search(args[0], store.Filter{Include: calFlags, Exclude: exclFlags})
	if err != nil {
		return err
	}
	for _, h := range hits {
		kind := "override"
		if h.IsProto {
			kind = "event"
		}
		line := fmt.Sprintf("%s  %s/%s  %s", kind, h.Calendar, h.UID, h.Summary)
		if h.Location != "" {
			line += "  @ " + h.Location
		}
		fmt.Println(line)
	}
	return nil
}

func runCalendars(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	for _, cal := range a.cfg.Calendars {
		mode := "rw"
		if cal.Readonly {
			mode = "ro"
		}
		fmt.Printf("%s  [%s]  %s\n", cal.Name, mode, cal.Path)
	}
	return nil
}

func (a *app) loadAll(name string) error {
	seen := false
	for _, cal := range a.cfg.Calendars {
		if name != "" && cal.Name != name {
			continue
		}
		seen = true
		if err := a.collection.LoadDir(cal); err != nil {
			return fmt.Errorf("load %s: %w", cal.Name, err)
		}
	}
	if name != "" && !seen {
		return fmt.Errorf("unknown calendar %q", name)
	}
	return nil
}

func (a *app) printDiagnostics() {
	for _, d := range a.diags.All() {
		if d.UID != "" {
			log.Printf("%s: %s: %s", d.Severity, d.UID, d.Message)
		} else {
			log.Printf("%s: %s", d.Severity, d.Message)
		}
	}
}

func printOccurrence(o query.Occurrence) {
	layout := "2006-01-02 15:04"
	if o.AllDay {
		layout = "2006-01-02"
	}
	marker := " "
	if o.Floating {
		marker = "~"
	}
	fmt.Printf("%s%s  %s  %s  [%s]\n", marker, o.Start.Format(layout), o.End.Format(layout), o.Summary, o.Calendar)
}

func parseArgTime(s string, zone *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", s, zone); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", s, zone)
}

func loadDotEnv() {
	envPaths := []string{".env", "../.env"}
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			return
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		godotenv.Load(filepath.Join(home, ".env"))
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// defaultConfigPath follows the XDG Base Directory spec, falling back to
// ~/.config/khal/config.yaml.
func defaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "khal", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "khal", "config.yaml")
}
