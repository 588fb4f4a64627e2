// s3db - document database backed entirely by S3-compatible object storage
//
// Point it at a bucket and it's there. No server to run, no schema
// migrations: your data is objects you can see and copy.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/s3db/s3db"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "status":
			runStatus(os.Args[2:])
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}
	printHelp()
}

func printHelp() {
	fmt.Println(`s3db - document database backed by S3-compatible object storage

Usage:
  s3db status --conn <connection-string> [flags]   Connect, self-heal the
                                                     catalog if needed, and
                                                     report what's there

Flags:
  --config string       Path to a YAML bootstrap config (default s3db.yaml
                         in the working directory if present); flags and
                         environment variables override its values
  --conn string         Connection string, e.g. s3://KEY:SECRET@host:9000/bucket/prefix
  --passphrase string   Secret-cipher passphrase (required if any resource has secret fields)
  --gcs-creds string    Path to a GCS service account credentials file
  --redis-addr string   Optional Redis address backing the Coordination
                         Service's FastLock pre-check`)
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "s3db.yaml", "path to a YAML bootstrap config")
	conn := fs.String("conn", "", "connection string")
	passphrase := fs.String("passphrase", "", "secret-cipher passphrase")
	gcsCreds := fs.String("gcs-creds", "", "GCS credentials file")
	redisAddr := fs.String("redis-addr", "", "optional Redis address for the Coordination Service FastLock")
	fs.Parse(args)

	fileCfg, err := loadFileConfig(*configPath)
	if err != nil {
		log.Fatalf("status: %v", err)
	}

	connStr := firstNonEmpty(*conn, os.Getenv("S3DB_CONN"), fileCfg.Connection)
	if connStr == "" {
		log.Fatalf("status: --conn is required (or set S3DB_CONN, or list \"connection\" in %s)", *configPath)
	}
	resolvedPassphrase := firstNonEmpty(*passphrase, os.Getenv("S3DB_PASSPHRASE"), fileCfg.Passphrase)
	resolvedGCSCreds := firstNonEmpty(*gcsCreds, fileCfg.GCSCredentialsFile)
	resolvedRedisAddr := firstNonEmpty(*redisAddr, fileCfg.Redis.Addr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var opts []s3db.Option
	if resolvedPassphrase != "" {
		opts = append(opts, s3db.WithPassphrase(resolvedPassphrase))
	}
	if resolvedGCSCreds != "" {
		opts = append(opts, s3db.WithGCSCredentialsFile(resolvedGCSCreds))
	}
	if resolvedRedisAddr != "" {
		opts = append(opts, s3db.WithRedis(resolvedRedisAddr, fileCfg.Redis.Password, fileCfg.Redis.DB))
	}
	if fileCfg.Concurrency > 0 {
		opts = append(opts, s3db.WithConcurrency(fileCfg.Concurrency))
	}

	db, err := s3db.Connect(ctx, connStr, opts...)
	if err != nil {
		log.Fatalf("status: connect failed: %v", err)
	}
	defer db.Close(ctx)

	fmt.Printf("connected: %s\n", db.DefaultNamespace())

	if steps := db.HealingSteps(); len(steps) > 0 {
		fmt.Println("manifest healed on load:")
		for _, s := range steps {
			fmt.Printf("  - %s\n", s)
		}
	} else {
		fmt.Println("manifest was already well-formed")
	}

	names := db.ResourceNames()
	sort.Strings(names)
	fmt.Printf("resources (%d):\n", len(names))
	for _, n := range names {
		fmt.Printf("  - %s\n", n)
	}
}
