// Command nftscan drives the NFT marketplace ETL-and-analytics pipeline
// from the command line: sync, analyze, classify, network, and status
// verbs over a local embedded store (spec.md §6).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nftscan/internal/config"
	"nftscan/internal/orchestrator"
	"nftscan/internal/store"
)

var (
	configPath string
	clearFirst bool

	orch *orchestrator.Orchestrator
	st   *store.Store
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	root := &cobra.Command{
		Use:   "nftscan",
		Short: "Resumable ETL and analytics engine for on-chain NFT marketplace activity",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			s, err := store.Open(cfg.DataDir)
			if err != nil {
				return err
			}
			st = s

			if clearFirst {
				if err := st.ClearAll(); err != nil {
					return err
				}
			}

			orch = orchestrator.New(cfg, st)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if st == nil {
				return nil
			}
			return st.Close()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "nftscan.yaml", "path to config file")
	root.PersistentFlags().BoolVar(&clearFirst, "clear", false, "truncate all data before running")

	root.AddCommand(
		syncCmd(),
		syncXTZCmd(),
		syncAllCmd(),
		syncWeekCmd(),
		analyzeCmd(),
		fullCmd(),
		discoverCmd(),
		resolveCmd(),
		classifyCmd(),
		networkCmd(),
		statusCmd(),
	)

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "ingest marketplace-targeted transactions and token transfers over the trailing window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return orch.Sync(context.Background())
		},
	}
}

func syncXTZCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-xtz",
		Short: "ingest value transfers for already-derived buyer/creator addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return orch.SyncXTZ(context.Background())
		},
	}
}

func syncAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-all",
		Short: "ingest every transaction and value transfer over the trailing window, classified by address set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return orch.SyncAllComprehensive(context.Background())
		},
	}
}

func syncWeekCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync-week {weekId|status|all}",
		Short: "run, inspect, or fully replay the weekly ingest FSM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch arg := args[0]; arg {
			case "all":
				return orch.SyncWeekAll(context.Background())
			case "status":
				fmt.Print(orch.Status())
				return nil
			default:
				return orch.SyncWeek(context.Background(), arg)
			}
		},
	}
	return cmd
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "rebuild every derived table from raw data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return orch.Analyze(context.Background())
		},
	}
}

func fullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "full",
		Short: "sync then analyze",
		RunE: func(cmd *cobra.Command, args []string) error {
			return orch.Full(context.Background())
		},
	}
}

func discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "register every address seen in raw data into the address registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return orch.Discover()
		},
	}
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "best-effort resolve reverse-record and owned-domains for wallet addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return orch.Resolve(context.Background())
		},
	}
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify",
		Short: "run the transaction-classification cascade over AllTransaction rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return orch.Classify(context.Background())
		},
	}
}

func networkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "network",
		Short: "emit the value-weighted flow graph as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			graph := orch.Network()
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(graph)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print sync progress for every tracked week",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(orch.Status())
			return nil
		},
	}
}
