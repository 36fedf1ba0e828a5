package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parnexcodes/droppush/internal/config"
	"github.com/parnexcodes/droppush/internal/logging"
	"github.com/parnexcodes/droppush/internal/portal"
)

var infoCmd = &cobra.Command{
	Use:   "info <portal-url>",
	Short: "Show a portal's policy and expiry without claiming it",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	logging.Init(viper.GetBool("verbose"), os.Stderr)
	logging.CommandExecution("info", args)

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	base, portalID, err := portal.ParsePortalURL(args[0])
	if err != nil {
		return err
	}
	session := portal.NewSession(portal.NewClient(base, cfg.Portal.Timeout, cfg.Portal.UserAgent), portalID)

	info, err := session.Info(context.Background())
	if err != nil {
		return fmt.Errorf("failed to fetch portal info: %s", portal.UserMessage(err))
	}
	return printInfo(cmd.OutOrStdout(), cfg.Output, info)
}

func printInfo(w io.Writer, format string, info *portal.InfoResponse) error {
	if format == "json" {
		return writeJSON(w, info)
	}

	reusable := "yes"
	if info.Reusable != nil && !*info.Reusable {
		reusable = "no"
	}
	fmt.Fprintf(w, "Portal:   %s\n", info.PortalID)
	fmt.Fprintf(w, "Expires:  %s\n", info.ExpiresAt)
	fmt.Fprintf(w, "Policy:   %s\n", info.Policy.Default())
	fmt.Fprintf(w, "Reusable: %s\n", reusable)
	return nil
}

// writeJSON prints v as indented JSON
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
