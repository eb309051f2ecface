package main

import (
	"context"
	"os"
	"time"

	"github.com/ericfisherdev/tryonkit/internal/adapter/driven/remote"
)

func main() {
	os.Exit(check())
}

// check pings the compute service health endpoint and reports 0 when it
// answers with a success status.
func check() int {
	apiURL := os.Getenv("TRYON_API_URL")
	if apiURL == "" {
		return 1
	}

	// Only the compute service is contacted; the auth URL is a placeholder.
	client, err := remote.NewClient(apiURL, apiURL)
	if err != nil {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		return 1
	}
	return 0
}
