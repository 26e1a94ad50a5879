package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"cmdtimer/internal/config"
)

func triggerCmd() *cobra.Command {
	var addr, token string
	cmd := &cobra.Command{
		Use:   "trigger <entry>",
		Short: "Fire an entry now through a running instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" || token == "" {
				cfg, err := config.NewConfigManager(cfgPath).Parse()
				if err != nil {
					return err
				}
				if addr == "" {
					addr = cfg.Admin.Addr
				}
				if token == "" {
					token = cfg.Admin.Token
				}
			}

			var failure struct {
				Error string `json:"error"`
			}
			req := resty.New().
				SetTimeout(10*time.Second).
				SetBaseURL(baseURL(addr)).
				R().
				SetContext(cmd.Context()).
				SetPathParam("id", args[0]).
				SetError(&failure)
			if token != "" {
				req.SetAuthToken(token)
			}
			resp, err := req.Post("/entries/{id}/trigger")
			if err != nil {
				return err
			}
			if resp.IsError() {
				if failure.Error != "" {
					return fmt.Errorf("%s: %s", resp.Status(), failure.Error)
				}
				return fmt.Errorf("%s", resp.Status())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "triggered %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "admin address (default: admin.addr from config)")
	cmd.Flags().StringVar(&token, "token", "", "admin token (default: admin.token from config)")
	return cmd
}

func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	return "http://" + addr
}
