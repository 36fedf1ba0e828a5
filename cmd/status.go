package cmd

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parnexcodes/droppush/internal/config"
	"github.com/parnexcodes/droppush/internal/logging"
	"github.com/parnexcodes/droppush/internal/portal"
)

var statusCmd = &cobra.Command{
	Use:   "status <server-url> <upload-id>",
	Short: "Show what the server knows about one upload",
	Long: `Status asks the portal server for the state of a single upload by its
upload ID. <server-url> may be the server root or any portal link on it.`,
	Args: cobra.ExactArgs(2),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	logging.Init(viper.GetBool("verbose"), os.Stderr)
	logging.CommandExecution("status", args)

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	base, err := serverBaseURL(args[0])
	if err != nil {
		return err
	}
	session := portal.NewSession(portal.NewClient(base, cfg.Portal.Timeout, cfg.Portal.UserAgent), "")

	status, err := session.UploadStatus(context.Background(), args[1])
	if err != nil {
		return fmt.Errorf("failed to fetch upload status: %s", portal.UserMessage(err))
	}
	return printStatus(cmd.OutOrStdout(), cfg.Output, status)
}

// serverBaseURL reduces any http(s) URL to its scheme and host
func serverBaseURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: expected http(s)://host[:port]", raw)
	}
	return &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}, nil
}

func printStatus(w io.Writer, format string, status *portal.UploadStatusResponse) error {
	if format == "json" {
		return writeJSON(w, status)
	}

	fmt.Fprintf(w, "Upload:   %s\n", status.UploadID)
	fmt.Fprintf(w, "Status:   %s\n", status.Status)
	fmt.Fprintf(w, "Received: %d bytes\n", status.BytesReceived)
	if status.FinalRelpath != nil {
		fmt.Fprintf(w, "Path:     %s\n", *status.FinalRelpath)
	}
	if status.ServerSHA256 != nil {
		fmt.Fprintf(w, "SHA-256:  %s\n", *status.ServerSHA256)
	}
	return nil
}
