// Command aiagent-payments is a thin CLI over the Access & Billing Core.
// It wires a storage backend and a payment provider from flags/env and
// exposes setup, plans, subscribe, and status, mirroring the way the
// teacher's cmd/server wires flags straight into its service layer.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/billing"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/logging"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/provider"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/provider/mockprovider"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/provider/paypalprovider"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/provider/stripeprovider"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/provider/usdt"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/storage"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: .env file not found: %v\n", err)
	}

	app := &cli.App{
		Name:    "aiagent-payments",
		Usage:   "access and billing core for AI agent monetization",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "storage", Value: "memory", Usage: "storage backend: memory|file|sql", EnvVars: []string{"AIAgentPayments_Storage"}},
			&cli.StringFlag{Name: "storage-path", Value: "./aiagent-payments-data", Usage: "path for file/sql storage", EnvVars: []string{"AIAgentPayments_StoragePath"}},
			&cli.StringFlag{Name: "payment-provider", Value: "mock", Usage: "payment provider: mock|stripe|paypal|crypto", EnvVars: []string{"AIAgentPayments_Provider"}},
		},
		Before: func(c *cli.Context) error {
			return logging.Init(provider.IsDevMode())
		},
		Commands: []*cli.Command{
			setupCommand,
			plansCommand,
			subscribeCommand,
			statusCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var setupCommand = &cli.Command{
	Name:  "setup",
	Usage: "initialize the configured storage backend and verify the provider is reachable",
	Action: func(c *cli.Context) error {
		backend, err := buildBackend(c)
		if err != nil {
			return err
		}
		prov, err := buildProvider(c, backend)
		if err != nil {
			return err
		}
		ok, err := prov.HealthCheck(context.Background())
		if err != nil {
			return fmt.Errorf("provider health check failed: %w", err)
		}
		if !ok {
			return fmt.Errorf("provider health check reported unhealthy")
		}
		fmt.Println("storage and provider are ready")
		return nil
	},
}

var plansCommand = &cli.Command{
	Name:  "plans",
	Usage: "list configured payment plans",
	Action: func(c *cli.Context) error {
		backend, err := buildBackend(c)
		if err != nil {
			return err
		}
		prov, err := buildProvider(c, backend)
		if err != nil {
			return err
		}
		mgr := billing.New(backend, prov)
		plans, err := mgr.ListPaymentPlans(context.Background())
		if err != nil {
			return err
		}
		if len(plans) == 0 {
			fmt.Println("no plans configured")
			return nil
		}
		for _, p := range plans {
			fmt.Printf("%s\t%s\t%s\t%s\n", p.ID, p.Name, p.PaymentType, p.Currency)
		}
		return nil
	},
}

var subscribeCommand = &cli.Command{
	Name:      "subscribe",
	Usage:     "subscribe a user to a plan",
	ArgsUsage: "<user> <plan>",
	Action: func(c *cli.Context) error {
		if c.Args().Len() != 2 {
			return fmt.Errorf("subscribe requires <user> <plan>")
		}
		userID, planID := c.Args().Get(0), c.Args().Get(1)

		backend, err := buildBackend(c)
		if err != nil {
			return err
		}
		prov, err := buildProvider(c, backend)
		if err != nil {
			return err
		}
		mgr := billing.New(backend, prov)
		sub, err := mgr.SubscribeUser(context.Background(), userID, planID)
		if err != nil {
			return err
		}
		fmt.Printf("subscribed %s to %s (subscription %s)\n", userID, planID, sub.ID)
		return nil
	},
}

var statusCommand = &cli.Command{
	Name:      "status",
	Usage:     "show a user's subscription and usage",
	ArgsUsage: "<user>",
	Action: func(c *cli.Context) error {
		if c.Args().Len() != 1 {
			return fmt.Errorf("status requires <user>")
		}
		userID := c.Args().Get(0)

		backend, err := buildBackend(c)
		if err != nil {
			return err
		}
		prov, err := buildProvider(c, backend)
		if err != nil {
			return err
		}
		mgr := billing.New(backend, prov)
		ctx := context.Background()

		sub, err := mgr.GetUserSubscription(ctx, userID)
		if err != nil {
			return err
		}
		if sub == nil {
			fmt.Printf("%s has no active subscription\n", userID)
		} else {
			fmt.Printf("%s: plan=%s status=%s usage_count=%d\n", userID, sub.PlanID, sub.Status, sub.UsageCount)
		}

		usage, err := mgr.GetUserUsage(ctx, userID)
		if err != nil {
			return err
		}
		total := decimal.Zero
		for _, u := range usage {
			if u.Cost != nil {
				total = total.Add(*u.Cost)
			}
		}
		fmt.Printf("%d usage records, total cost %s\n", len(usage), total.String())
		return nil
	},
}

func buildBackend(c *cli.Context) (storage.Backend, error) {
	path := c.String("storage-path")
	switch c.String("storage") {
	case "memory":
		return storage.NewMemoryBackend(), nil
	case "file":
		return storage.NewFileBackend(path)
	case "sql":
		return storage.NewSQLiteBackend(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.String("storage"))
	}
}

func buildProvider(c *cli.Context, backend storage.Backend) (provider.Provider, error) {
	switch c.String("payment-provider") {
	case "mock":
		return mockprovider.New(backend), nil
	case "stripe":
		return stripeprovider.New(stripeprovider.Config{
			APIKey:        os.Getenv("STRIPE_API_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			Backend:       backend,
		})
	case "paypal":
		return paypalprovider.New(paypalprovider.Config{
			ClientID:     os.Getenv("PAYPAL_CLIENT_ID"),
			ClientSecret: os.Getenv("PAYPAL_CLIENT_SECRET"),
			Sandbox:      os.Getenv("PAYPAL_SANDBOX") != "false",
			Backend:      backend,
		})
	case "crypto":
		network := usdt.Network(envOr("USDT_NETWORK", string(usdt.NetworkMainnet)))
		infuraID := os.Getenv("INFURA_PROJECT_ID")
		rpcURL := os.Getenv("USDT_RPC_URL")
		if rpcURL == "" {
			rpcURL = infuraRPCURL(network, infuraID)
		}
		return usdt.NewUSDTProvider(context.Background(), usdt.Config{
			WalletAddress:                   os.Getenv("WALLET_ADDRESS"),
			RPCURL:                          rpcURL,
			InfuraProjectID:                 infuraID,
			Network:                         network,
			Backend:                         backend,
			AllowConstantOracleInProduction: os.Getenv("USDT_ALLOW_CONSTANT_ORACLE") == "true",
		})
	default:
		return nil, fmt.Errorf("unknown payment provider %q", c.String("payment-provider"))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// infuraRPCURL builds the standard Infura endpoint for a network from a
// project id, used when no explicit USDT_RPC_URL override is set.
func infuraRPCURL(network usdt.Network, projectID string) string {
	subdomain := "mainnet"
	if network == usdt.NetworkSepolia {
		subdomain = "sepolia"
	}
	return fmt.Sprintf("https://%s.infura.io/v3/%s", subdomain, projectID)
}
