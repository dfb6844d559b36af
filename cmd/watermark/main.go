package main

import (
	"os"

	"github.com/gcslaoli/watermark-guard-go/internal/cli"
)

// watermark render -t CONFIDENTIAL -o tile.png
// watermark render -t CONFIDENTIAL --data-uri
// watermark serve --addr :8080
// watermark guard report.html --wrap --db alarms.db
// watermark browse https://example.com

var version = "dev"

func main() {
	cli.SetVersion(version)
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
