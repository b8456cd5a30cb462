package nmosctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var (
	subResourcePath string
	subPersist      bool
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Create a subscription and print grains as they arrive",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := json.Marshal(map[string]interface{}{
			"resource_path": subResourcePath,
			"params":        map[string]string{},
			"persist":       subPersist,
		})
		if err != nil {
			return err
		}

		url := fmt.Sprintf("%s/%s/query/%s/subscriptions", queryAddr, apiRoot, apiVersion)
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var descriptor struct {
			WSHref string `json:"ws_href"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&descriptor); err != nil {
			return err
		}
		if descriptor.WSHref == "" {
			return fmt.Errorf("subscription response had no ws_href")
		}

		conn, _, err := websocket.DefaultDialer.Dial(descriptor.WSHref, nil)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", descriptor.WSHref, err)
		}
		defer conn.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			fmt.Println(string(msg))
		}
	},
}

func init() {
	subscribeCmd.Flags().StringVar(&subResourcePath, "resource-path", "/nodes/", "resource_path to subscribe to")
	subscribeCmd.Flags().BoolVar(&subPersist, "persist", false, "create a persistent subscription")
	RootCmd.AddCommand(subscribeCmd)
}
