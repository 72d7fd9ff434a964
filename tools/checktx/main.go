// Command checktx is a thin CLI that reports a transaction signature's
// confirmation status, kept as an operator convenience, not exercised by
// the pipeline.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"solana-copytrader/internal/chain"
	"solana-copytrader/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./tools/checktx <TX_SIGNATURE>")
		os.Exit(1)
	}
	sig := os.Args[1]

	configPath := os.Getenv("COPYTRADER_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.NewManager(configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	rpc := chain.NewClient(cfg.GetPrimaryRPCURL(), cfg.GetFallbackRPCURL(), "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	statuses, err := rpc.GetSignatureStatuses(ctx, []string{sig})
	if err != nil {
		fmt.Printf("rpc error: %v\n", err)
		os.Exit(1)
	}
	if len(statuses) == 0 || statuses[0] == nil {
		fmt.Println("signature not found")
		return
	}

	st := statuses[0]
	fmt.Printf("signature:           %s\n", sig)
	fmt.Printf("slot:                %d\n", st.Slot)
	fmt.Printf("confirmation status: %s\n", st.ConfirmationStatus)
	if st.Confirmations != nil {
		fmt.Printf("confirmations:       %d\n", *st.Confirmations)
	}
	if st.Err != nil {
		color.New(color.FgRed, color.Bold).Printf("error:               %+v\n", st.Err)
	} else {
		color.New(color.FgGreen).Println("status:              ok")
	}
}
