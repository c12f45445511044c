package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"

	"wastewatch/internal/amqp"
	"wastewatch/internal/cli"
	"wastewatch/internal/config"
)

var (
	sendServer  string
	sendViaAMQP bool
	sendSource  string
	sendRetries int
)

var sendCmd = &cobra.Command{
	Use:   "send [file]",
	Short: "Send one JSON payload to a running server or the ingest queue",
	Long: `Reads a JSON payload from file (or stdin when file is "-" or omitted) and
delivers it to POST /api/ingest, or publishes it to the AMQP ingest queue
with --amqp.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendServer, "server", "http://localhost:8081", "base URL of the wastewatch server")
	sendCmd.Flags().BoolVar(&sendViaAMQP, "amqp", false, "publish to the AMQP queue instead of calling the server")
	sendCmd.Flags().StringVar(&sendSource, "source", "cli", "source label recorded in the AMQP envelope")
	sendCmd.Flags().IntVar(&sendRetries, "retries", 3, "HTTP retries on connection errors and 5xx responses")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	path := "-"
	if len(args) == 1 {
		path = args[0]
	}
	payload, err := readPayload(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	if sendViaAMQP {
		cli.LoadEnvFile()
		cfg := config.Load()
		if cfg.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is not set")
		}
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return fmt.Errorf("connect to AMQP: %w", err)
		}
		defer client.Close()
		if err := client.PublishPayload(ctx, sendSource, payload); err != nil {
			return fmt.Errorf("publish payload: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Published %d bytes to queue %s\n", len(payload), cfg.AMQPQueue)
		return nil
	}

	body, err := postPayload(ctx, newHTTPClient(sendRetries), sendServer, payload)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
	return nil
}

// readPayload reads path, or r when path is "-", and checks that the
// content is JSON.
func readPayload(r io.Reader, path string) ([]byte, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(r)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	b = bytes.TrimSpace(b)
	if !json.Valid(b) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return b, nil
}

func newHTTPClient(retries int) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = stdlog.New(io.Discard, "", 0)
	client.RetryMax = retries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	return client
}

// postPayload sends payload to the ingest endpoint under base and returns
// the response body. Non-2xx responses are errors.
func postPayload(ctx context.Context, client *retryablehttp.Client, base string, payload []byte) ([]byte, error) {
	url := strings.TrimRight(base, "/") + "/api/ingest"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send payload: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}
