package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/parnexcodes/droppush/internal/config"
	"github.com/parnexcodes/droppush/internal/logging"
	"github.com/parnexcodes/droppush/internal/output"
	"github.com/parnexcodes/droppush/internal/portal"
	"github.com/parnexcodes/droppush/internal/uploader"
)

var (
	files    []string
	folders  []string
	policy   string
	checksum bool
	failFast bool
	progress bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <portal-url>",
	Short: "Upload files and directories into a drop portal",
	Long: `Upload files and directories into the drop portal at <portal-url>
(for example http://192.168.1.42:8080/p/p_abc123).

The portal is claimed first, queued files are checked for conflicts with
files already at the destination, and then uploaded one at a time in the
order given. Folders keep their structure under the folder's own name.

Use --file/-f for files and --folder/-d for directories. Supports glob patterns for files.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringSliceVarP(&files, "file", "f", []string{}, "files to upload (can be used multiple times, supports glob patterns)")
	uploadCmd.Flags().StringSliceVarP(&folders, "folder", "d", []string{}, "folders to upload (can be used multiple times)")
	uploadCmd.Flags().StringVar(&policy, "policy", "", "conflict policy: overwrite or autorename (default: the portal's)")
	uploadCmd.Flags().BoolVar(&checksum, "checksum", false, "send a SHA-256 of each file for the server to verify")
	uploadCmd.Flags().BoolVar(&failFast, "fail-fast", true, "stop the run at the first failed file")
	uploadCmd.Flags().BoolVar(&progress, "progress", true, "show upload progress")
	uploadCmd.Flags().Duration("timeout", 0, "timeout for portal API calls (byte transfers are not limited)")

	viper.BindPFlag("upload.policy", uploadCmd.Flags().Lookup("policy"))
	viper.BindPFlag("upload.checksum", uploadCmd.Flags().Lookup("checksum"))
	viper.BindPFlag("upload.fail_fast", uploadCmd.Flags().Lookup("fail-fast"))
	viper.BindPFlag("upload.progress", uploadCmd.Flags().Lookup("progress"))
	viper.BindPFlag("portal.timeout", uploadCmd.Flags().Lookup("timeout"))
}

// expandGlobPatterns expands glob patterns in file paths and returns all matched files
func expandGlobPatterns(filePatterns []string) ([]string, error) {
	var result []string
	for _, pattern := range filePatterns {
		if strings.ContainsAny(pattern, "*?[") {
			matches, err := afero.Glob(appFs, pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
			}
			result = append(result, matches...)
		} else {
			// Direct file path
			result = append(result, pattern)
		}
	}
	return result, nil
}

// validatePaths validates that file paths are actually files and folder paths are directories
func validatePaths(files []string, folders []string) error {
	for _, file := range files {
		if info, err := appFs.Stat(file); err != nil {
			if os.IsNotExist(err) {
				logging.FileValidation(file, "file_existence", fmt.Errorf("file does not exist"))
				return fmt.Errorf("file does not exist: %s", file)
			}
			logging.FileValidation(file, "file_check", err)
			return fmt.Errorf("error checking file %s: %w", file, err)
		} else if info.IsDir() {
			logging.FileValidation(file, "file_type", fmt.Errorf("path is directory"))
			return fmt.Errorf("path '%s' is a directory, but --file flag requires a file. Use --folder/-d for directories", file)
		} else {
			logging.FileValidation(file, "file_check", nil)
		}
	}

	for _, folder := range folders {
		if info, err := appFs.Stat(folder); err != nil {
			if os.IsNotExist(err) {
				logging.FileValidation(folder, "folder_existence", fmt.Errorf("directory does not exist"))
				return fmt.Errorf("directory does not exist: %s", folder)
			}
			logging.FileValidation(folder, "folder_check", err)
			return fmt.Errorf("error checking directory %s: %w", folder, err)
		} else if !info.IsDir() {
			logging.FileValidation(folder, "folder_type", fmt.Errorf("path is file"))
			return fmt.Errorf("path '%s' is a file, but --folder/-d flag requires a directory. Use --file/-f for files", folder)
		} else {
			logging.FileValidation(folder, "folder_check", nil)
		}
	}

	return nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	// Initialize logging system with verbose flag
	logging.Init(viper.GetBool("verbose"), os.Stderr)
	logging.CommandExecution("upload", args)

	// Validate flags
	if len(files) == 0 && len(folders) == 0 {
		return fmt.Errorf("no files or folders specified. Use --file/-f for files or --folder/-d for directories")
	}

	logging.FlagProcessing("files", len(files))
	logging.FlagProcessing("folders", len(folders))

	// Expand glob patterns for files
	expandedFiles, err := expandGlobPatterns(files)
	if err != nil {
		return err
	}

	// Validate paths
	if err := validatePaths(expandedFiles, folders); err != nil {
		return err
	}

	// Load configuration
	configSource := "CLI flags only"
	if viper.ConfigFileUsed() != "" {
		configSource = viper.ConfigFileUsed()
	}
	logging.ConfigLoad(configSource, nil)

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.ErrorContext("config_load", err, map[string]interface{}{
			"source": configSource,
		})
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.ConfigLoad("effective_values", map[string]interface{}{
		"concurrency":     cfg.Concurrency,
		"verbose":         cfg.Verbose,
		"output":          cfg.Output,
		"policy":          cfg.Upload.Policy,
		"checksum":        cfg.Upload.Checksum,
		"fail_fast":       cfg.Upload.FailFast,
		"portal_timeout":  cfg.Portal.Timeout.String(),
		"sample_interval": cfg.Upload.SampleInterval.String(),
	})

	// Handle signals for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	showProgress := cfg.Upload.Progress && term.IsTerminal(int(os.Stderr.Fd()))
	outputHandler, err := output.NewHandler(cfg.Output, cmd.OutOrStdout(), os.Stderr, showProgress)
	if err != nil {
		return fmt.Errorf("failed to create output handler: %w", err)
	}
	defer outputHandler.Close()

	_, err = uploadPaths(ctx, args[0], expandedFiles, folders, cfg, outputHandler)
	return err
}

// uploadPaths collects files and folders, claims the portal and runs the
// queue once. The summary is written to handler before returning.
func uploadPaths(ctx context.Context, portalURL string, files []string, folders []string, cfg *config.Config, handler output.Handler) (uploader.RunSummary, error) {
	base, portalID, err := portal.ParsePortalURL(portalURL)
	if err != nil {
		return uploader.RunSummary{}, err
	}

	candidates, err := collectCandidates(ctx, files, folders, cfg)
	if err != nil {
		return uploader.RunSummary{}, err
	}
	if len(candidates) == 0 {
		return uploader.RunSummary{}, errors.New("no files found to upload")
	}

	opts := uploader.DefaultOptions()
	opts.Checksum = cfg.Upload.Checksum
	opts.FailFast = cfg.Upload.FailFast
	opts.SampleInterval = cfg.Upload.SampleInterval
	opts.Observer = handler
	if cfg.Upload.Policy != "" {
		p, err := portal.ParsePolicy(cfg.Upload.Policy)
		if err != nil {
			return uploader.RunSummary{}, err
		}
		opts.Policy = p
	}

	client := portal.NewClient(base, cfg.Portal.Timeout, cfg.Portal.UserAgent)
	session := portal.NewSession(client, portalID)
	upldr := uploader.NewDefaultUploader(session, opts)

	if err := upldr.Claim(ctx); err != nil {
		return uploader.RunSummary{}, err
	}

	upldr.Add(ctx, candidates)
	if summary := upldr.ConflictSummary(); summary != "" {
		if err := handler.HandleStatus(uploader.StatusLine{Message: summary, Tone: uploader.ToneWarn}); err != nil {
			return uploader.RunSummary{}, err
		}
	}

	summary, runErr := upldr.Run(ctx)
	if err := handler.HandleSummary(summary); err != nil {
		logging.ErrorContext("summary_output", err, nil)
	}
	return summary, runErr
}

// collectCandidates turns --file paths into a flat selection and walks each
// --folder as a dropped tree, selection first
func collectCandidates(ctx context.Context, files []string, folders []string, cfg *config.Config) ([]uploader.Candidate, error) {
	logging.FileScan(append(append([]string{}, files...), folders...))
	collector := uploader.NewCollector(cfg.Concurrency)

	sources := make([]uploader.Source, 0, len(files))
	for _, path := range files {
		source, err := uploader.NewFileSource(appFs, path, "")
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	candidates := collector.CollectSelection(sources)

	entries := make([]uploader.Entry, 0, len(folders))
	for _, folder := range folders {
		entry, err := uploader.NewFSEntry(appFs, folder, cfg.Upload.DirBatchSize)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if len(entries) > 0 {
		dropped, err := collector.CollectDrop(ctx, entries)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, dropped...)
	}
	return candidates, nil
}

