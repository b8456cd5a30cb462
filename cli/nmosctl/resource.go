package nmosctl

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var resourceCmd = &cobra.Command{
	Use:   "resource",
	Short: "Inspect resources held by the query core",
}

var resourceGetCmd = &cobra.Command{
	Use:       "get [nodes|devices|sources|flows|senders|receivers]",
	Short:     "List a resource collection, or a single resource with --id",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"nodes", "devices", "sources", "flows", "senders", "receivers"},
	RunE: func(cmd *cobra.Command, args []string) error {
		url := fmt.Sprintf("%s/%s/query/%s/%s", queryAddr, apiRoot, apiVersion, args[0])
		if resourceID != "" {
			url = fmt.Sprintf("%s/%s", url, resourceID)
		}
		body, err := fetch(url)
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

var resourceID string

func init() {
	resourceGetCmd.Flags().StringVar(&resourceID, "id", "", "fetch a single resource by id rather than the whole collection")
	resourceCmd.AddCommand(resourceGetCmd)
	RootCmd.AddCommand(resourceCmd)
}

func fetch(url string) ([]byte, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var jerr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &jerr) == nil && jerr.Error != "" {
			return nil, fmt.Errorf("%s: %s", resp.Status, jerr.Error)
		}
		return nil, fmt.Errorf("%s", resp.Status)
	}
	return body, nil
}
