// Command ringctl queries the admin service of a running ring node.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/devrev/pairdb/ringnode/internal/client"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: ringctl [-addr host:port] [-timeout d] <topology|health>\n")
	flag.PrintDefaults()
}

func main() {
	addr := flag.String("addr", "127.0.0.1:50061", "admin server address")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	verbose := flag.Bool("v", false, "log requests")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	c, err := client.NewAdminClient(*addr, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ringctl: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := runCommand(ctx, c, flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "ringctl: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, c *client.AdminClient, cmd string) error {
	switch cmd {
	case "topology":
		topo, err := c.Topology(ctx)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(topo)
		if err != nil {
			return fmt.Errorf("failed to render topology: %w", err)
		}
		_, err = os.Stdout.Write(out)
		return err

	case "health":
		status, err := c.Health(ctx, "")
		if err != nil {
			return err
		}
		fmt.Println(status.String())
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
