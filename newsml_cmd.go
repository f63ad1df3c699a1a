package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"integrator/delivery"
	"integrator/models"
	"integrator/newsml"
	"integrator/tools"
	"integrator/version"
)

func newsmlCmd() *cobra.Command {
	var id, providerID, providerName string

	cmd := &cobra.Command{
		Use:   "newsml",
		Short: "Print the NewsML 1.2 test document",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if id == "" {
				id = fmt.Sprintf("test-%d", now.UnixMilli())
			}
			doc, err := newsml.Build(newsml.Item{
				ProviderID:     providerID,
				ProviderName:   providerName,
				Created:        now,
				NewsItemID:     id,
				HandlerVersion: version.HandlerVersion,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), doc)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "news item id (default test-<unix ms>)")
	cmd.Flags().StringVar(&providerID, "provider-id", delivery.DefaultProviderID, "NewsML provider id")
	cmd.Flags().StringVar(&providerName, "provider-name", delivery.DefaultProviderName, "NewsML provider display name")
	return cmd
}

// deliverCmd sends one test delivery from the terminal. Nothing is stored or audited.
func deliverCmd() *cobra.Command {
	var endpoint, id string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "deliver",
		Short: "Send a NewsML test delivery to an HTTPS endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !tools.IsHTTPSURL(endpoint) {
				return fmt.Errorf("%s: %q", models.ERR_ENDPOINT_MUST_BE_HTTPS, endpoint)
			}

			d := delivery.NewDispatcher(&http.Client{}, timeout, nil)
			env := models.DELIVERY_ENV_TEST
			req := &models.IntegratorRequest{
				Kind:        models.KIND_PUSH_ACCESS,
				EndpointURL: &endpoint,
				DeliveryEnv: &env,
			}
			res := d.Dispatch(cmd.Context(), req, tools.StringPtr(id))

			out := cmd.OutOrStdout()
			switch res.Outcome {
			case delivery.OutcomeDelivered:
				color.New(color.FgGreen, color.Bold).Fprintf(out, "✓ delivered")
			case delivery.OutcomeRejected:
				color.New(color.FgYellow, color.Bold).Fprintf(out, "⚠ rejected")
			default:
				color.New(color.FgRed, color.Bold).Fprintf(out, "✗ %s", res.Outcome)
			}
			fmt.Fprintf(out, " %s (%d bytes, news item %s)\n", res.Endpoint, res.SentBytes, res.NewsItemID)

			if res.HTTPStatus != nil {
				fmt.Fprintf(out, "  status: %d\n", *res.HTTPStatus)
			}
			for k, v := range res.ResponseHeaders {
				fmt.Fprintf(out, "  %s: %s\n", k, v)
			}
			if res.ResponseSnippet != nil && *res.ResponseSnippet != "" {
				fmt.Fprintf(out, "  body: %s\n", *res.ResponseSnippet)
			}
			if res.Error != "" {
				fmt.Fprintf(out, "  error: %s %s\n", res.Error, res.ErrorDetail)
			}

			if res.Outcome != delivery.OutcomeDelivered {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "HTTPS endpoint to deliver to")
	cmd.Flags().StringVar(&id, "id", "", "request id to use as news item id")
	cmd.Flags().DurationVar(&timeout, "timeout", delivery.DefaultTimeout, "delivery timeout")
	_ = cmd.MarkFlagRequired("endpoint")
	return cmd
}
