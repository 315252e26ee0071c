/*
main.go - leasectl entry point

PURPOSE:
  Command-line front end of the lease engine. Every command reads the same
  layered configuration and opens the same record source, so a figure seen
  in `report` is the figure served by `serve` and scored by `validate`.

COMMANDS:
  serve      HTTP API (api package) with optional scheduled validation
  report     Rent roll and metrics for one report date, JSON or XLSX
  validate   Fixture replay and/or reference comparison; non-zero exit on
             a failed gate

CONFIGURATION:
  .env is loaded first, then config.yaml (--config), then LEASE_* env vars.
  See config/config.go for the keys.

EXAMPLES:
  leasectl serve --config ./deploy
  leasectl report --feed records.yaml --date 2025-06-30 --format xlsx --out rr.xlsx
  leasectl validate --fixtures --reference books.xlsx --date 2025-06-30

SEE ALSO:
  - config/config.go: Keys and defaults
  - api/server.go: Routes served by `serve`
*/
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/warp/lease-engine/validation"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, validation.ErrGateFailed) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
