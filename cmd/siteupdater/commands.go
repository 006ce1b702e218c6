package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/siteupdater/internal/adapter/gdrive"
	"github.com/Ning0612/siteupdater/internal/domain"
	"github.com/Ning0612/siteupdater/internal/logger"
	"github.com/Ning0612/siteupdater/internal/progress"
	"github.com/Ning0612/siteupdater/internal/service"
)

var (
	uploadSite    string
	forceShadow   bool
	updateForce   bool
	watchInterval time.Duration
	historyLimit  int
)

var statusCmd = &cobra.Command{
	Use:   "status [PATH...]",
	Short: "Show the status of managed files",
	Long: `Status lists every managed file, or only the given paths, with its derived
status and the site whose record is active for it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine("status", func(ctx context.Context, e *service.Engine) error {
			resolutions, err := e.Status(args)
			if err != nil {
				return err
			}
			printStatus(resolutions)
			printCorrupt(e.Corrupt())
			return nil
		})
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload PATH...",
	Short: "Publish local files to an update site",
	Long: `Upload publishes the given local files to one update site. A path that is
missing locally but still live on the site is published as obsolete.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine("upload", func(ctx context.Context, e *service.Engine) error {
			res, err := e.Upload(ctx, uploadSite, args)
			printResult(res)
			return err
		})
	},
}

var uploadCompleteSiteCmd = &cobra.Command{
	Use:   "upload-complete-site NAME",
	Short: "Make an update site match the local installation",
	Long: `Upload-complete-site uploads every file that belongs to the site and marks
files the site still publishes but that are gone locally as obsolete.

With --force-shadow, locally modified files owned by other sites are uploaded
too and the site is pinned as their owner.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine("upload-complete-site", func(ctx context.Context, e *service.Engine) error {
			res, err := e.UploadCompleteSite(ctx, args[0], forceShadow)
			printResult(res)
			return err
		})
	},
}

var addUpdateSiteCmd = &cobra.Command{
	Use:   "add-update-site NAME URL",
	Short: "Register an update site ranked above the existing ones",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine("add-update-site", func(ctx context.Context, e *service.Engine) error {
			res, err := e.AddUpdateSite(ctx, args[0], args[1])
			printResult(res)
			return err
		})
	},
}

var removeUpdateSiteCmd = &cobra.Command{
	Use:   "remove-update-site NAME",
	Short: "Forget an update site and every record it published",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine("remove-update-site", func(ctx context.Context, e *service.Engine) error {
			res, err := e.RemoveUpdateSite(ctx, args[0])
			printResult(res)
			return err
		})
	},
}

var listSitesCmd = &cobra.Command{
	Use:   "list-sites",
	Short: "List registered update sites in rank order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine("list-sites", func(ctx context.Context, e *service.Engine) error {
			corrupt := e.Corrupt()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tNAME\tMANIFEST\tURL")
			for _, site := range e.ListSites() {
				manifest := fmt.Sprintf("v%d", site.ManifestVersion)
				if _, bad := corrupt[site.Name]; bad {
					manifest = "corrupt"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", site.Rank, site.Name, manifest, site.URL)
			}
			return w.Flush()
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update [PATH...]",
	Short: "Install what the update sites publish",
	Long: `Update installs new and updateable files, removes obsolete ones and reports
files whose local content was modified. Modified files are only overwritten
with --force.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine("update", func(ctx context.Context, e *service.Engine) error {
			res, err := e.Update(ctx, args, updateForce)
			printResult(res)
			return err
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run update periodically until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := setupSignalHandler()
		defer cancel()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Shutdown()

		watcher, err := service.NewWatcher(cfg, engineOptions(), updateForce)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx, watchInterval); err != nil {
			return err
		}
		watcher.Wait()

		st := watcher.Status().SchedulerStats
		if st != nil {
			logger.Get().Info("Watcher stopped",
				"runs", st.TotalRuns,
				"failed", st.FailedRuns)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent command executions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine("history", func(ctx context.Context, e *service.Engine) error {
			records, err := e.History(historyLimit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tCOMMAND\tSITE\tSTATUS\tFILES\tBYTES\tERROR")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					r.StartTime.Local().Format(time.DateTime),
					r.Command,
					orDash(r.Site),
					r.Status,
					r.FilesChanged,
					progress.FormatBytes(r.BytesTransferred),
					r.Error)
			}
			return w.Flush()
		})
	},
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authenticate against remote storage",
}

var authGDriveCmd = &cobra.Command{
	Use:   "gdrive",
	Short: "Authorize access to Google Drive update sites",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := setupSignalHandler()
		defer cancel()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Shutdown()

		if cfg.GDrive.ClientID == "" || cfg.GDrive.ClientSecret == "" {
			return fmt.Errorf("%w: gdrive.client_id and gdrive.client_secret are required", domain.ErrConfigInvalid)
		}

		auth := gdrive.NewAuthenticator(cfg.GDrive.ClientID, cfg.GDrive.ClientSecret, cfg.GDrive.TokenPath).
			WithIO(os.Stdin, os.Stderr)
		if _, err := auth.Authenticate(ctx); err != nil {
			return err
		}
		logger.Get().Info("Token saved", "path", auth.TokenPath())
		return nil
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadSite, "update-site", domain.DefaultSiteName, "site to upload to")
	uploadCompleteSiteCmd.Flags().BoolVar(&forceShadow, "force-shadow", false, "take over locally modified files owned by other sites")
	updateCmd.Flags().BoolVar(&updateForce, "force", false, "overwrite locally modified files")
	watchCmd.Flags().BoolVar(&updateForce, "force", false, "overwrite locally modified files")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Hour, "time between updates")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of executions to show")

	authCmd.AddCommand(authGDriveCmd)
}

func printStatus(resolutions []domain.Resolution) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tSTATUS\tSITE\tVERSION")
	for _, r := range resolutions {
		status := string(r.Status)
		if r.Conflict {
			status += " (conflict)"
		}
		ver := "-"
		if r.Site != "" {
			ver = fmt.Sprintf("%d", r.Record.Version)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Path, status, orDash(r.Site), ver)
	}
	w.Flush()
}

func printCorrupt(corrupt map[string]error) {
	names := make([]string, 0, len(corrupt))
	for name := range corrupt {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "warning: site %s ignored: %v\n", name, corrupt[name])
	}
}

func printResult(res *service.Result) {
	if res == nil {
		return
	}
	if res.Plan != nil {
		for _, a := range res.Plan.Actions {
			if a.Type == domain.ActionSkip {
				continue
			}
			fmt.Printf("%-10s %s", a.Type, a.Path)
			if a.Site != "" {
				fmt.Printf(" [%s]", a.Site)
			}
			fmt.Println()
		}
	}
	for _, path := range res.Affected {
		fmt.Printf("%-10s %s\n", "affected", path)
	}
	for _, c := range res.Conflicts {
		fmt.Fprintf(os.Stderr, "conflict: %s is modified locally and on %s, rerun with --force to overwrite\n", c.Path, c.Site)
	}
	fmt.Printf("%s: %d file(s) changed, %s transferred\n",
		res.Command, res.FilesChanged, progress.FormatBytes(res.BytesTransferred))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
