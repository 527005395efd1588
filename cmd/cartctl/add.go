package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/unkn0wn-root/storecache"
	"github.com/unkn0wn-root/storecache/config"
	"github.com/unkn0wn-root/storecache/coordinator"
	"github.com/unkn0wn-root/storecache/coordinator/watermillsink"
	"github.com/unkn0wn-root/storecache/storefront"
)

func add(ctx context.Context, args []string, cfg *config.Config, client *storefront.Client, log storecache.Logger) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	variant := fs.Int64("variant", 0, "variant id")
	qty := fs.Int("qty", 1, "quantity")
	plan := fs.String("plan", "", "selling plan id (empty = one-time purchase)")
	bundle := fs.String("bundle", "", "bundle lines as id:qty,id:qty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := coordinator.Options{
		Cart:           client,
		Sections:       cfg.Coordinator.Sections,
		SubmitTimeout:  cfg.Coordinator.SubmitTimeout,
		FailureMessage: cfg.Coordinator.FailureMessage,
		Control:        cliControl{log: log},
		Notifier:       cliNotifier{},
		Renderer:       cliRenderer{},
		Logger:         log,
	}
	if cfg.Events.Enabled {
		pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
		defer pubsub.Close()
		sink, err := watermillsink.New(pubsub, cfg.Events.TopicPrefix)
		if err != nil {
			return err
		}
		if err := logPublished(ctx, pubsub, sink, log); err != nil {
			return err
		}
		opts.Sinks = []coordinator.Sink{sink}
	}

	c, err := coordinator.New(opts)
	if err != nil {
		return err
	}
	defer c.Close()
	c.Subscribe(coordinator.KindAny, func(e coordinator.Event) {
		log.Debug("coordinator event", storecache.Fields{"kind": string(e.Kind), "id": e.ID})
	})
	c.Start()

	// replay the flags as the widget events a product form would send
	raws := []coordinator.RawEvent{
		{Name: "variant-change", Detail: map[string]any{"variant": map[string]any{"id": *variant}}},
		{Name: "quantity-update", Detail: map[string]any{"quantity": *qty}},
	}
	if *plan != "" {
		raws = append(raws, coordinator.RawEvent{Name: "purchase-plan", Detail: map[string]any{"value": "subscription", "sellingPlan": *plan}})
	}
	if *bundle != "" {
		items, err := parseBundle(*bundle)
		if err != nil {
			return err
		}
		raws = append(raws, coordinator.RawEvent{Name: "qb:select", Detail: map[string]any{"items": items}})
	}
	for _, raw := range raws {
		if err := c.Dispatch(raw); err != nil {
			return err
		}
	}

	if err := c.Submit(ctx); err != nil {
		return err
	}
	fmt.Println("added to cart")
	return nil
}

// parseBundle reads "111:1,222:2" into raw bundle items.
func parseBundle(s string) ([]any, error) {
	var out []any
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, q, ok := strings.Cut(part, ":")
		if !ok {
			q = "1"
		}
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			return nil, fmt.Errorf("bundle line %q: bad variant id", part)
		}
		if _, err := strconv.Atoi(q); err != nil {
			return nil, fmt.Errorf("bundle line %q: bad quantity", part)
		}
		out = append(out, map[string]any{"id": id, "quantity": q})
	}
	if len(out) == 0 {
		return nil, errors.New("empty bundle")
	}
	return out, nil
}

func logPublished(ctx context.Context, pubsub *gochannel.GoChannel, sink *watermillsink.Sink, log storecache.Logger) error {
	for _, k := range []coordinator.Kind{coordinator.KindCartAdded, coordinator.KindCartAddFailed} {
		msgs, err := pubsub.Subscribe(ctx, sink.Topic(k))
		if err != nil {
			return err
		}
		go func() {
			for msg := range msgs {
				evt, err := watermillsink.Decode(msg)
				if err != nil {
					log.Warn("undecodable event", storecache.Fields{"uuid": msg.UUID, "err": err})
				} else {
					log.Info("event published", storecache.Fields{"kind": string(evt.Kind), "id": evt.ID})
				}
				msg.Ack()
			}
		}()
	}
	return nil
}

type cliControl struct{ log storecache.Logger }

func (c cliControl) SetEnabled(enabled bool) {
	c.log.Debug("submit control", storecache.Fields{"enabled": enabled})
}

type cliNotifier struct{}

func (cliNotifier) Notify(msg string) { fmt.Fprintln(os.Stderr, msg) }

type cliRenderer struct{}

func (cliRenderer) Render(sections map[string]string) error {
	for name, html := range sections {
		fmt.Printf("section %s: %d bytes\n", name, len(html))
	}
	return nil
}
