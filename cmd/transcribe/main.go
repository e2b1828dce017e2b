// Command transcribe sends audio files to a running transcription service
// and prints the results.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/localscribe/transcription-service/internal/client"
)

func main() {
	serverURL := flag.String("server", "http://127.0.0.1:8090", "Transcription service URL")
	language := flag.String("language", "auto", "Language tag, or 'auto' to let the model decide")
	timeout := flag.Duration("timeout", 5*time.Minute, "Per-file request timeout")
	retries := flag.Int("retries", 3, "Retries after a busy rejection")
	wait := flag.Duration("wait", 0, "Wait up to this long for the service to become ready")
	asJSON := flag.Bool("json", false, "Print results as JSON")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: transcribe [flags] file...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	c, err := client.New(client.Config{
		BaseURL:    *serverURL,
		Timeout:    *timeout,
		MaxRetries: *retries,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *wait > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), *wait)
		h, err := c.WaitReady(ctx, time.Second)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Service ready, model %s\n", h.Model)
	}

	failed := 0
	for _, path := range files {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		result, err := c.TranscribeFile(ctx, path, *language)
		cancel()

		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}

		if *asJSON {
			out := map[string]interface{}{
				"file":     path,
				"text":     result.Text,
				"language": result.Language,
				"duration": result.Duration,
			}
			json.NewEncoder(os.Stdout).Encode(out)
		} else {
			if len(files) > 1 {
				fmt.Printf("%s:\n", path)
			}
			fmt.Println(result.Text)
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}
