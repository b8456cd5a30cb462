package nmosctl

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Send heartbeats against the registration core",
}

var healthNodeID string

var healthRenewCmd = &cobra.Command{
	Use:   "renew",
	Short: "Send a single heartbeat for --node-id",
	RunE: func(cmd *cobra.Command, args []string) error {
		if healthNodeID == "" {
			return fmt.Errorf("--node-id is required")
		}
		url := fmt.Sprintf("%s/%s/registration/%s/health/nodes/%s", registrationAddr, apiRoot, apiVersion, healthNodeID)
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Post(url, "application/json", bytes.NewReader(nil))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("heartbeat rejected: %s", resp.Status)
		}
		fmt.Printf("renewed health for node %s\n", healthNodeID)
		return nil
	},
}

func init() {
	healthRenewCmd.Flags().StringVar(&healthNodeID, "node-id", "", "node id to heartbeat")
	healthCmd.AddCommand(healthRenewCmd)
	RootCmd.AddCommand(healthCmd)
}
