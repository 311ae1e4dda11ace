// Package main provides the CLI entrypoint for proctor.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/verte-zerg/proctor/internal/api"
	"github.com/verte-zerg/proctor/internal/config"
	"github.com/verte-zerg/proctor/internal/frame"
	"github.com/verte-zerg/proctor/internal/report"
	"github.com/verte-zerg/proctor/internal/session"
	"github.com/verte-zerg/proctor/internal/store"
	"github.com/verte-zerg/proctor/internal/stream"
	"github.com/verte-zerg/proctor/internal/watch"
)

const (
	defaultServerURL   = "http://127.0.0.1:8080"
	defaultWSURL       = "ws://127.0.0.1:8000"
	defaultSource      = "screen"
	defaultJPEGQuality = frame.DefaultQuality
	defaultMaxWidth    = frame.DefaultMaxWidth
	defaultSendDelayMs = 100
	defaultListen      = ":8080"
)

var (
	runCandidate   string
	runServerURL   string
	runWSURL       string
	runSource      string
	runFramesDir   string
	runLoopFrames  bool
	runJPEGQuality int
	runMaxWidth    int
	runSendDelayMs int
	runStandalone  bool

	serveListen string
	serveDBPath string

	reportsCandidate string
	reportsSince     string
	reportsLimit     int
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "proctor",
		Short:         "Exam proctoring session runner",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runSessionCmd,
	}

	rootCmd.Flags().StringVar(&runCandidate, "candidate", "", "candidate name (skips the prompt)")
	rootCmd.Flags().StringVar(&runServerURL, "server-url", defaultServerURL, "report service base URL")
	rootCmd.Flags().StringVar(&runWSURL, "ws-url", defaultWSURL, "detection service websocket base URL")
	rootCmd.Flags().StringVar(&runSource, "source", defaultSource, "frame source: screen or dir")
	rootCmd.Flags().StringVar(&runFramesDir, "frames-dir", "", "directory of frames for --source dir")
	rootCmd.Flags().BoolVar(&runLoopFrames, "loop", false, "replay the frame directory in a loop")
	rootCmd.Flags().IntVar(&runJPEGQuality, "jpeg-quality", defaultJPEGQuality, "JPEG quality (1-100)")
	rootCmd.Flags().IntVar(&runMaxWidth, "max-frame-width", defaultMaxWidth, "downscale frames wider than this")
	rootCmd.Flags().IntVar(&runSendDelayMs, "send-delay-ms", defaultSendDelayMs, "delay between frame round trips")
	rootCmd.Flags().BoolVar(&runStandalone, "standalone", false, "run without the report service")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newReportsCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newSummaryCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func runSessionCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "server-url", &runServerURL, fileCfg.Session.ServerURL)
	applyStringConfig(cmd, "ws-url", &runWSURL, fileCfg.Session.WSURL)
	applyStringConfig(cmd, "source", &runSource, fileCfg.Session.Source)
	applyStringConfig(cmd, "frames-dir", &runFramesDir, fileCfg.Session.FramesDir)
	applyIntConfig(cmd, "jpeg-quality", &runJPEGQuality, fileCfg.Session.JPEGQuality)
	applyIntConfig(cmd, "max-frame-width", &runMaxWidth, fileCfg.Session.MaxFrameWidth)
	applyIntConfig(cmd, "send-delay-ms", &runSendDelayMs, fileCfg.Session.SendDelayMs)

	if runJPEGQuality < 1 || runJPEGQuality > 100 {
		return fmt.Errorf("--jpeg-quality must be between 1 and 100")
	}
	if runMaxWidth <= 0 {
		return fmt.Errorf("--max-frame-width must be > 0")
	}
	if runSendDelayMs < 0 {
		return fmt.Errorf("--send-delay-ms must be >= 0")
	}

	source, err := buildFrameSource()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := source.Close(); cerr != nil {
			logErrf("failed to close frame source: %v\n", cerr)
		}
	}()

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	var client *api.Client
	sessCfg := session.Config{
		Source:    source,
		Codec:     frame.NewCodec(runMaxWidth, runJPEGQuality),
		Dialer:    stream.WSDialer{BaseURL: runWSURL},
		SendDelay: time.Duration(runSendDelayMs) * time.Millisecond,
	}
	if !runStandalone {
		client = api.NewClient(runServerURL)
		sessCfg.Registrar = client
	}

	start := func(name string) (*session.Session, error) {
		return session.Start(context.Background(), sessCfg, name)
	}
	model := watch.NewModel(start, runCandidate)
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		// Release the loop goroutine and ws connection even when the TUI
		// dies; no report for a session that ended this way.
		if sess := model.Session(); sess != nil {
			sess.Abandon()
		}
		return fmt.Errorf("failed to run TUI: %w", err)
	}

	sess := model.Session()
	if sess == nil {
		return nil
	}

	rep, endErr := sess.End(context.Background())
	if endErr != nil {
		logErrf("%v\n", endErr)
	}

	if err := st.SaveReport(context.Background(), rep); err != nil {
		logErrf("failed to save report locally: %v\n", err)
	}
	if client != nil {
		if err := client.SubmitReport(context.Background(), rep); err != nil {
			logErrf("failed to submit report: %v\n", err)
		}
	}

	fmt.Print(report.Render(rep, terminalWidth()))
	return nil
}

func buildFrameSource() (frame.Source, error) {
	switch runSource {
	case "screen":
		return frame.NewScreenSource(), nil
	case "dir":
		if runFramesDir == "" {
			return nil, fmt.Errorf("--frames-dir is required with --source dir")
		}
		return frame.NewDirSource(runFramesDir, runLoopFrames)
	default:
		return nil, fmt.Errorf("unknown source %q (use screen or dir)", runSource)
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the report service",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
	cmd.Flags().StringVar(&serveListen, "listen", defaultListen, "listen address")
	cmd.Flags().StringVar(&serveDBPath, "db-path", "", "SQLite database path")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "listen", &serveListen, fileCfg.Server.Listen)
	applyStringConfig(cmd, "db-path", &serveDBPath, fileCfg.Server.DBPath)
	if serveDBPath == "" {
		serveDBPath = config.DefaultDBPath()
	}

	st, err := store.Open(serveDBPath)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	logger := log.New(os.Stderr, "", log.LstdFlags)
	server := api.NewServer(st, logger)
	logger.Printf("report service listening on %s (db: %s)", serveListen, serveDBPath)

	httpServer := &http.Server{
		Addr:              serveListen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := httpServer.ListenAndServe(); err != nil {
		return fmt.Errorf("report service failed: %w", err)
	}
	return nil
}

func newReportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List stored reports",
		Args:  cobra.NoArgs,
		RunE:  runReportsCmd,
	}
	cmd.Flags().StringVar(&reportsCandidate, "candidate", "", "candidate name filter")
	cmd.Flags().StringVar(&reportsSince, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&reportsLimit, "limit", 0, "limit to N most recent reports")
	return cmd
}

func runReportsCmd(cmd *cobra.Command, _ []string) error {
	filter := store.Filter{
		Candidate: reportsCandidate,
		Limit:     reportsLimit,
	}
	if reportsSince != "" {
		parsed, err := time.ParseInLocation("2006-01-02", reportsSince, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --since value: %w", err)
		}
		filter.From = &parsed
	}

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	reports, total, err := st.ListReports(context.Background(), filter)
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}
	if total == 0 {
		return fmt.Errorf("no reports found")
	}

	out := cmd.OutOrStdout()
	if _, err := fmt.Fprintf(out, "%-32s %-20s %-6s %-9s %s\n", "SESSION", "CANDIDATE", "SCORE", "DURATION", "ENDED"); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	for _, rep := range reports {
		_, err := fmt.Fprintf(out, "%-32s %-20s %-6d %-9s %s\n",
			rep.SessionID,
			rep.CandidateName,
			rep.IntegrityScore,
			report.FormatDuration(rep.DurationSeconds),
			rep.EndedAt.Local().Format("2006-01-02 15:04"),
		)
		if err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	if len(reports) < total {
		if _, err := fmt.Fprintf(out, "(%d of %d reports)\n", len(reports), total); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <session-id>",
		Short: "Show a stored report",
		Args:  cobra.ExactArgs(1),
		RunE:  runReportCmd,
	}
}

func runReportCmd(cmd *cobra.Command, args []string) error {
	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	rep, err := st.GetReport(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to load report: %w", err)
	}
	if _, err := fmt.Fprint(cmd.OutOrStdout(), report.Render(rep, terminalWidth())); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func newSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Summarize stored reports",
		Args:  cobra.NoArgs,
		RunE:  runSummaryCmd,
	}
}

func runSummaryCmd(cmd *cobra.Command, _ []string) error {
	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	summary, err := st.Summarize(context.Background())
	if err != nil {
		return fmt.Errorf("failed to summarize reports: %w", err)
	}

	out := cmd.OutOrStdout()
	lines := []string{
		fmt.Sprintf("Reports:        %d", summary.TotalReports),
		fmt.Sprintf("Average score:  %.1f", summary.AverageScore),
		fmt.Sprintf("Flagged (<60):  %d", summary.FlaggedCount),
		fmt.Sprintf("Last 7 days:    %d", summary.LastSevenDay),
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	if len(summary.AlertTotals) > 0 {
		if _, err := fmt.Fprintln(out, "Alerts by type:"); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		for _, alertType := range []string{"Looking Away", "Mobile Device", "Multiple People", "Face Not Visible"} {
			count, ok := summary.AlertTotals[alertType]
			if !ok {
				continue
			}
			if _, err := fmt.Fprintf(out, "  %-18s %d\n", alertType, count); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
		}
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# proctor configuration
# Uncomment a value to enable it. CLI flags override config values.

[session]
# server-url = %q      # Report service base URL
# ws-url = %q          # Detection service websocket base URL
# source = %q          # Frame source: screen or dir
# frames-dir = ""      # Directory of frames for source = "dir"
# jpeg-quality = %d    # JPEG quality (1-100)
# max-frame-width = %d # Downscale frames wider than this
# send-delay-ms = %d   # Delay between frame round trips

[server]
# listen = %q          # Report service listen address
# db-path = ""         # SQLite database path
`,
		defaultServerURL,
		defaultWSURL,
		defaultSource,
		defaultJPEGQuality,
		defaultMaxWidth,
		defaultSendDelayMs,
		defaultListen,
	)
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
