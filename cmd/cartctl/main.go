// Command cartctl drives a storefront cart from the terminal: it reads the
// cart through the response cache and submits purchases through the
// coordinator exactly as a product form would.
//
//	cartctl [-config storecache.toml] [-env .env] cart
//	cartctl add -variant 111 -qty 2 [-plan sub_abc] [-bundle 111:1,222:2]
//	cartctl sweep
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	asynchook "github.com/unkn0wn-root/storecache/hooks/async"
	sloghooks "github.com/unkn0wn-root/storecache/hooks/slog"

	"github.com/unkn0wn-root/storecache"
	"github.com/unkn0wn-root/storecache/config"
	"github.com/unkn0wn-root/storecache/storefront"
)

const snapshotKey = "cart"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "cartctl:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("cartctl", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "TOML config file")
	envFile := fs.String("env", ".env", "dotenv file (ignored when missing)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("usage: cartctl [-config file] [-env file] cart|add|sweep [flags]")
	}

	cfg, err := config.Load(*cfgPath, *envFile)
	if err != nil {
		return err
	}
	log, slogger, flush, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer flush()

	hooks := asynchook.New(sloghooks.New(slogger, sloghooks.Options{SelfHealEvery: 10}), 1, 1000)
	defer hooks.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cs, err := newCaches(cfg.Cache, log, hooks)
	if err != nil {
		return err
	}
	defer cs.Close(context.Background())

	client, err := storefront.New(storefront.Options{
		BaseURL: cfg.BaseURL,
		Cache:   cs.bodies,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "cart":
		return showCart(ctx, client, cs, log)
	case "add":
		return add(ctx, rest, cfg, client, log)
	case "sweep":
		n := cs.bodies.Sweep(ctx) + cs.snapshots.Sweep(ctx)
		fmt.Printf("removed %d stale entries\n", n)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// showCart prints the cart, falling back to the last snapshot when the
// storefront cannot be reached.
func showCart(ctx context.Context, client *storefront.Client, cs *caches, log storecache.Logger) error {
	cart, err := client.Cart(ctx)
	if err != nil {
		snap, ok := cs.snapshots.Get(ctx, snapshotKey)
		if !ok {
			return err
		}
		log.Warn("storefront unreachable; showing last snapshot", storecache.Fields{"err": err})
		cart = snap
	} else if err := cs.snapshots.Set(ctx, snapshotKey, cart, 0); err != nil {
		log.Warn("cart snapshot not saved", storecache.Fields{"err": err})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cart)
}
