// Command bootstrap-channel creates a channel in the datastore and prints
// its owner key. The key cannot be recovered later, so this is the way to
// seed a channel without going through the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"vodserve/internal/storage"
)

func main() {
	var (
		snapshotPath string
		postgresDSN  string
		name         string
	)

	flag.StringVar(&snapshotPath, "data", "", "Path to the JSON snapshot (videos.json)")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&name, "name", "", "Name for the new channel")
	flag.Parse()

	if snapshotPath == "" && postgresDSN == "" {
		fatalf("either --data or --postgres-dsn must be provided")
	}
	if snapshotPath != "" && postgresDSN != "" {
		fatalf("only one datastore option may be provided")
	}
	if strings.TrimSpace(name) == "" {
		fatalf("--name is required")
	}

	repo, err := openRepository(snapshotPath, postgresDSN)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer closeRepository(repo)

	channel, ownerKey, err := repo.CreateChannel(storage.CreateChannelParams{
		Name: strings.TrimSpace(name),
	})
	if err != nil {
		fatalf("create channel: %v", err)
	}

	fmt.Printf("Channel %s (%s) created successfully.\n", channel.Name, channel.ID)
	fmt.Printf("Owner key: %s\n", ownerKey)
	fmt.Println("Store this key somewhere safe; it is not shown again.")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepository(snapshotPath, postgresDSN string) (storage.Repository, error) {
	if snapshotPath != "" {
		return storage.NewStorage(storage.WithSnapshotPath(snapshotPath))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return storage.NewPostgresRepository(ctx, postgresDSN)
}

func closeRepository(repo storage.Repository) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = repo.Close(ctx)
}
