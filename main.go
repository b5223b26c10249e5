package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"linkedin-group-scraper/auth"
	"linkedin-group-scraper/captcha"
	"linkedin-group-scraper/config"
	"linkedin-group-scraper/enrich"
	"linkedin-group-scraper/extract"
	"linkedin-group-scraper/group"
	"linkedin-group-scraper/logger"
	"linkedin-group-scraper/models"
	"linkedin-group-scraper/ratelimit"
	"linkedin-group-scraper/scraper"
	"linkedin-group-scraper/sink"
	"linkedin-group-scraper/stealth"
	"linkedin-group-scraper/storage"
)

var (
	configFile string
	verbose    bool
	headless   bool
)

func main() {
	var rootCmd = &cobra.Command{
		Use:          "linkedin-group-scraper",
		Short:        "LinkedIn group member scraper",
		Long:         `Collects the member list of a LinkedIn group, optionally enriches each member from their profile, and writes CSV and JSON files.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./config/config.yaml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "Run browser in headless mode")

	// Add subcommands
	rootCmd.AddCommand(createScrapeCmd())
	rootCmd.AddCommand(createExtractCmd())
	rootCmd.AddCommand(createExportCmd())
	rootCmd.AddCommand(createStatusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func createScrapeCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "scrape",
		Short: "Scrape the members of a group",
		Long:  `Log in, open the group's member list, expand it completely, extract every member and optionally visit each profile.`,
		RunE:  runScrape,
	}

	cmd.Flags().String("group", "", "Group URL, e.g. https://www.linkedin.com/groups/123456/")
	cmd.Flags().String("search", "", "Filter the member list by this text")
	cmd.Flags().Bool("no-enrich", false, "Skip profile visits")
	addOutputFlags(cmd)
	cmd.Flags().String("urls", "", "Profile URL list output path")
	_ = cmd.MarkFlagRequired("group")

	return cmd
}

func createExtractCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "extract",
		Short: "Extract members from a saved member list page",
		Long:  `Parse an HTML snapshot of a group member list without opening a browser.`,
		RunE:  runExtract,
	}

	cmd.Flags().String("html", "", "Saved member list HTML file")
	addOutputFlags(cmd)
	_ = cmd.MarkFlagRequired("html")

	return cmd
}

func createExportCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "export",
		Short: "Export stored members of a group",
		Long:  `Write every member stored for a group, across all runs, to CSV and JSON.`,
		RunE:  runExport,
	}

	cmd.Flags().String("group", "", "Group URL as given to scrape")
	addOutputFlags(cmd)
	_ = cmd.MarkFlagRequired("group")

	return cmd
}

func createStatusCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "status",
		Short: "Show status and statistics",
		Long:  `Display recent runs, today's usage against the configured limits and configuration information.`,
		RunE:  runStatus,
	}

	cmd.Flags().Int("limit", 10, "Number of recent runs to show")

	return cmd
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("csv", "", "CSV output path (default from config)")
	cmd.Flags().String("json", "", "JSON output path (default from config)")
}

// Command runners

func runScrape(cmd *cobra.Command, args []string) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateCredentials(); err != nil {
		return err
	}

	groupURL, _ := cmd.Flags().GetString("group")
	search, _ := cmd.Flags().GetString("search")
	noEnrich, _ := cmd.Flags().GetBool("no-enrich")
	if urls, _ := cmd.Flags().GetString("urls"); urls != "" {
		cfg.Output.URLsPath = urls
	}

	log := logger.GetLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := storage.NewDatabase(cfg.Storage.Path, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	runner, err := newRunner(ctx, cfg, db, log)
	if err != nil {
		return err
	}

	res := runner.Run(ctx, scraper.Request{
		GroupURL:   groupURL,
		Search:     search,
		SkipEnrich: noEnrich,
	})
	printRunResult(res)

	if res.Status == scraper.StatusFailed {
		return res.Err
	}
	return nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	htmlPath, _ := cmd.Flags().GetString("html")
	data, err := os.ReadFile(htmlPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", htmlPath, err)
	}

	extractor, err := extract.NewExtractor(cfg.ExtractOptions(), logger.GetLogger())
	if err != nil {
		return err
	}
	records, err := extractor.Extract(string(data))
	if err != nil {
		return err
	}
	records = extract.Dedupe(records)

	if err := writeRecords(cfg, records); err != nil {
		return err
	}

	fmt.Printf("Extracted %d members from %s\n", len(records), htmlPath)
	fmt.Printf("CSV: %s\nJSON: %s\n", cfg.Output.CSVPath, cfg.Output.JSONPath)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	groupURL, _ := cmd.Flags().GetString("group")

	db, err := storage.NewDatabase(cfg.Storage.Path, logger.GetLogger())
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	records, err := db.MembersByGroup(cmd.Context(), groupURL)
	if err != nil {
		return err
	}
	if err := writeRecords(cfg, records); err != nil {
		return err
	}

	fmt.Printf("Exported %d members of %s\n", len(records), groupURL)
	fmt.Printf("CSV: %s\nJSON: %s\n", cfg.Output.CSVPath, cfg.Output.JSONPath)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")

	// Initialize database
	db, err := storage.NewDatabase(cfg.Storage.Path, logger.GetLogger())
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Get daily stats
	stats, err := db.GetDailyStats(cmd.Context(), startOfDay(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to get daily stats: %w", err)
	}
	runs, err := db.RecentRuns(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("failed to get recent runs: %w", err)
	}

	// Display status
	fmt.Printf("LinkedIn Group Scraper Status\n")
	fmt.Printf("=============================\n\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Config file: %s\n", configFile)
	fmt.Printf("  Headless: %v\n", cfg.Browser.Headless)
	fmt.Printf("  LinkedIn email: %s\n", maskEmail(cfg.LinkedIn.Email))
	fmt.Printf("  Captcha mode: %s\n", cfg.Captcha.Mode)
	fmt.Printf("  Database: %s\n", cfg.Storage.Path)
	fmt.Printf("\n")
	fmt.Printf("Today:\n")
	fmt.Printf("  Runs: %d/%d\n", stats["runs"], cfg.Limits.DailyGroupScrapes)
	fmt.Printf("  Profile visits: %d/%d\n", stats["profiles_visited"], cfg.Limits.DailyProfileVisits)
	fmt.Printf("  Members found: %d\n", stats["members_found"])
	fmt.Printf("  Members enriched: %d\n", stats["members_enriched"])
	fmt.Printf("\n")
	fmt.Printf("Recent runs:\n")
	if len(runs) == 0 {
		fmt.Printf("  none\n")
	}
	for _, run := range runs {
		fmt.Printf("  #%d %s %-9s found=%d enriched=%d %s\n",
			run.ID, run.StartedAt.Local().Format("2006-01-02 15:04"), run.Status,
			run.MembersFound, run.MembersEnriched, run.GroupURL)
		if run.Error != "" {
			fmt.Printf("      %s\n", run.Error)
		}
	}

	return nil
}

// Helper functions

// setup loads the configuration, applies the global flags and initializes
// the logger.
func setup(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = headless
	}
	if csv, _ := cmd.Flags().GetString("csv"); csv != "" {
		cfg.Output.CSVPath = csv
	}
	if json, _ := cmd.Flags().GetString("json"); json != "" {
		cfg.Output.JSONPath = json
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	if err := logger.InitLogger(level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	return cfg, nil
}

// newRunner wires every pipeline stage from the configuration.
func newRunner(ctx context.Context, cfg *config.Config, db *storage.Database, log *logrus.Logger) (*scraper.Runner, error) {
	limiter := ratelimit.NewRateLimiter(cfg.RateLimitOptions(), log)
	preloadLimiter(ctx, db, limiter, log)

	sm := stealth.NewStealthManager(cfg.StealthOptions(), log, nil)
	solver := captcha.NewSolver(cfg.CaptchaOptions(), log, sm)

	extractor, err := extract.NewExtractor(cfg.ExtractOptions(), log)
	if err != nil {
		return nil, err
	}

	components := scraper.Components{
		Authenticator: auth.NewAuthenticator(cfg.AuthOptions(), solver, sm, log),
		Captcha:       solver,
		Navigator:     group.NewNavigator(cfg.NavigatorOptions(), log),
		Paginator:     group.NewPaginator(cfg.PaginationOptions(), sm, log),
		Extractor:     extractor,
		Enricher:      enrich.NewEnricher(cfg.EnrichOptions(), limiter, solver, log),
		Limiter:       limiter,
		Store:         db,
	}

	sessions := scraper.BrowserSessions(cfg.BrowserOptions(), sm, log)
	return scraper.NewRunner(cfg.RunnerOptions(), sessions, components, log), nil
}

// preloadLimiter counts today's earlier runs against the daily quotas.
func preloadLimiter(ctx context.Context, db *storage.Database, limiter *ratelimit.RateLimiter, log *logrus.Logger) {
	stats, err := db.GetDailyStats(ctx, startOfDay(time.Now()))
	if err != nil {
		log.WithError(err).Warn("Failed to load today's usage, quotas start from zero")
		return
	}
	limiter.Preload(ratelimit.ActionGroupScrape, stats["runs"])
	limiter.Preload(ratelimit.ActionProfileVisit, stats["profiles_visited"])
}

func writeRecords(cfg *config.Config, records []models.MemberRecord) error {
	if err := sink.WriteCSV(records, cfg.Output.CSVPath); err != nil {
		return err
	}
	return sink.WriteJSON(records, cfg.Output.JSONPath)
}

func printRunResult(res *scraper.RunResult) {
	fmt.Printf("Run finished: %s\n", res.Status)
	fmt.Printf("Members found: %d\n", res.Found)
	if res.Visited > 0 {
		fmt.Printf("Profiles enriched: %d/%d\n", res.Enriched, res.Visited)
	}
	if res.Captcha != nil && res.Captcha.Outcome != captcha.OutcomeAbsent {
		fmt.Printf("Captcha: %s\n", res.Captcha.Outcome)
	}
	for _, f := range res.Failures {
		fmt.Printf("  failed: %s\n", f.URL)
	}
	for _, w := range res.Warnings {
		fmt.Printf("Warning: %v\n", w)
	}
	for _, path := range res.Outputs {
		fmt.Printf("Wrote %s\n", path)
	}
	fmt.Printf("Duration: %v\n", res.Duration.Round(time.Second))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func maskEmail(email string) string {
	if email == "" {
		return ""
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return email
	}

	username := parts[0]
	domain := parts[1]

	if len(username) <= 2 {
		return email
	}

	masked := username[:2] + strings.Repeat("*", len(username)-2)
	return masked + "@" + domain
}
