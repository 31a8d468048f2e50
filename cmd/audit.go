package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webaudit/internal/audit"
	"github.com/JakeFAU/webaudit/internal/config"
	"github.com/JakeFAU/webaudit/internal/policy/blocklist"
	"github.com/JakeFAU/webaudit/internal/rules"
	"github.com/JakeFAU/webaudit/internal/server"
	localstorage "github.com/JakeFAU/webaudit/internal/storage/local"
	memorystorage "github.com/JakeFAU/webaudit/internal/storage/memory"
)

type auditOptions struct {
	rules    []string
	format   string
	noEnrich bool
	noColor  bool
}

func newAuditCmd() *cobra.Command {
	opts := auditOptions{}
	cmd := &cobra.Command{
		Use:   "audit <url>",
		Short: "Audit a single page and print the report",
		Long: `Fetches the page once, evaluates the rule catalog and prints the report.
Nothing is stored except screenshots, which are written to storage.local_dir
when headless rendering is enabled.

Examples:
  webaudit audit https://example.com
  webaudit audit https://example.com --rule title --rule h1 --format json
  webaudit audit https://example.com --format markdown > report.md`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			return runAudit(cmd, e, args[0], opts)
		},
	}
	cmd.Flags().StringSliceVarP(&opts.rules, "rule", "r", nil, "run only the named rules (repeatable)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatText, "output format: text, json, yaml or markdown")
	cmd.Flags().BoolVar(&opts.noEnrich, "no-enrich", false, "skip screenshots, favicon and performance")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "disable colored text output")
	return cmd
}

func runAudit(cmd *cobra.Command, e *env, rawURL string, opts auditOptions) error {
	write, err := writerFor(opts.format, opts.noColor)
	if err != nil {
		return err
	}
	url, err := audit.NormalizeURL(rawURL)
	if err != nil {
		return err
	}
	if host := audit.Hostname(url); blocklist.New(e.cfg.Audit.BlockedHosts).IsBlocked(host) {
		return fmt.Errorf("%w: %s", audit.ErrBlockedHost, host)
	}
	catalog, err := rules.Default().Select(opts.rules...)
	if err != nil {
		return err
	}
	blobs, err := cliBlobStore(e.cfg)
	if err != nil {
		return err
	}

	pipeline, err := server.NewPipeline(cmd.Context(), &e.cfg, server.PipelineDeps{
		Blobs:            blobs,
		Catalog:          catalog,
		DisableEnrichers: opts.noEnrich,
	}, e.logger)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	e.logger.Debug("auditing", zap.String("url", url), zap.Strings("rules", catalog.Names()))
	report, err := pipeline.Audit(cmd.Context(), url, e.logger)
	if err != nil {
		return fmt.Errorf("audit %s: %w", url, err)
	}
	return write(cmd.OutOrStdout(), report)
}

// cliBlobStore keeps screenshots on disk so the printed URIs stay readable
// after the process exits.
func cliBlobStore(cfg config.Config) (audit.BlobStore, error) {
	if !cfg.Headless.Enabled || strings.TrimSpace(cfg.Storage.LocalDir) == "" {
		return memorystorage.NewBlobStore(), nil
	}
	return localstorage.New(localstorage.Config{BaseDir: cfg.Storage.LocalDir})
}
