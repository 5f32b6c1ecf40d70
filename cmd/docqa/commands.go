package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"docqa/internal/loader"
	"docqa/internal/tui"
)

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "docqa",
		Short: "Ask questions about your local documents",
		Long: `docqa indexes text, PDF, DOCX and HTML files from a data directory
and answers questions using only the documents you select.

Run without a subcommand to start the interactive terminal UI.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd, cfgPath)
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "",
		"path to YAML config file (defaults to ./config.yaml or ~/.config/docqa/config.yaml)")

	var withApp appRunner = func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cfgPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			return run(cmd, a, args)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "upload [files...]",
			Short: "Copy files into the data directory",
			Long: `Copies the given files into the data directory. Existing files are never
overwritten and unsupported file types are skipped.`,
			Args: cobra.MinimumNArgs(1),
			RunE: withApp(runUpload),
		},
		&cobra.Command{
			Use:   "unprocessed",
			Short: "List files that have not been indexed yet",
			Args:  cobra.NoArgs,
			RunE:  withApp(runUnprocessed),
		},
		&cobra.Command{
			Use:   "ingest",
			Short: "Index every file in the data directory",
			Args:  cobra.NoArgs,
			RunE:  withApp(runIngest),
		},
		&cobra.Command{
			Use:   "processed",
			Short: "List indexed documents",
			Args:  cobra.NoArgs,
			RunE:  withApp(runProcessed),
		},
		newAskCmd(withApp),
		newHistoryCmd(withApp),
		&cobra.Command{
			Use:   "tui",
			Short: "Start the interactive terminal UI",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runTUI(cmd, cfgPath)
			},
		},
	)
	return root
}

type appRunner func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

func newAskCmd(withApp appRunner) *cobra.Command {
	var docs []string
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the selected documents",
		Long: `Answers a question using context retrieved from the selected documents.
Without --docs every processed document is used.`,
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().StringSliceVarP(&docs, "docs", "d", nil, "documents to use as context (comma separated)")
	cmd.RunE = withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		selection := docs
		if !cmd.Flags().Changed("docs") {
			all, err := a.service.ProcessedDocuments(ctx)
			if err != nil {
				return err
			}
			selection = all
		}
		answer, err := a.service.Answer(ctx, args[0], compact(selection))
		if err != nil {
			return err
		}
		cmd.Println(strings.TrimSpace(answer.Text))
		if len(answer.Sources) > 0 {
			cmd.Println()
			cmd.Println("Sources:")
			for i, src := range answer.Sources {
				cmd.Printf("  [%d] %s (score %.3f)\n", i+1, filepath.Base(src.Metadata.SourcePath), src.Score)
			}
		}
		return nil
	})
	return cmd
}

func newHistoryCmd(withApp appRunner) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent questions and answers",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of entries to show")
	cmd.RunE = withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		entries, err := a.log.Recent(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			cmd.Println("No questions asked yet.")
			return nil
		}
		for _, e := range entries {
			cmd.Printf("%s  Q: %s\n", e.Timestamp, e.Question)
			cmd.Printf("%s  A: %s\n\n", strings.Repeat(" ", len(e.Timestamp)), oneLine(e.Answer))
		}
		return nil
	})
	return cmd
}

func runUpload(cmd *cobra.Command, a *app, args []string) error {
	copied, err := a.service.Upload(cmd.Context(), args)
	if err != nil {
		return err
	}
	if len(copied) == 0 {
		cmd.Println("No new files copied.")
		return nil
	}
	for _, name := range copied {
		cmd.Printf("Copied %s\n", name)
	}
	return nil
}

func runUnprocessed(cmd *cobra.Command, a *app, _ []string) error {
	files, err := a.service.UnprocessedFiles(cmd.Context())
	if err != nil {
		return err
	}
	if len(files) == 0 {
		cmd.Println("No unprocessed files.")
		return nil
	}
	for _, f := range files {
		cmd.Println(f)
	}
	return nil
}

func runIngest(cmd *cobra.Command, a *app, _ []string) error {
	report, err := a.service.Ingest(cmd.Context())
	if err != nil {
		return err
	}
	cmd.Printf("Processed %d document(s) into %d chunk(s) in %s.\n",
		report.Documents, report.Chunks, report.Duration.Round(time.Millisecond))
	for _, s := range report.Skipped {
		cmd.Printf("Skipped %s\n", s)
	}
	for _, name := range sortedKeys(report.Summaries) {
		cmd.Printf("\n%s\n  %s\n", name, report.Summaries[name])
	}
	return nil
}

func runProcessed(cmd *cobra.Command, a *app, _ []string) error {
	docs, err := a.service.ProcessedDocuments(cmd.Context())
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		cmd.Println("No processed documents.")
		return nil
	}
	for _, d := range docs {
		cmd.Println(d)
	}
	return nil
}

func runTUI(cmd *cobra.Command, cfgPath string) error {
	a, err := openApp(cfgPath, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(a.cfg.DataDirectory, 0o755); err != nil {
		return err
	}
	changes, err := loader.Watch(ctx, a.cfg.DataDirectory, a.logger)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Data directory watch disabled")
		changes = nil
	}

	p := tea.NewProgram(tui.New(ctx, a.service, changes), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func compact(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
