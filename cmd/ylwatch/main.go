// cmd/ylwatch prints the latest Y-lines and live point of every configured
// putup from Redis, then follows new Y-line publications.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"putup-system/config"
	redisstore "putup-system/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "config.yaml", "Path to the YAML config file")
	follow := flag.Bool("follow", true, "Keep printing new Y-line sets")
	recent := flag.Int64("recent", 0, "Also print the last N streamed points per putup")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[ylwatch] config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	reader, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		log.Fatalf("[ylwatch] %v", err)
	}
	defer reader.Close()

	for _, pc := range cfg.Putups {
		ex, err := cfg.Exchange(pc.Market)
		if err != nil {
			log.Printf("[ylwatch] %s: %v", pc.Key(), err)
			continue
		}
		if p, err := reader.LatestPoint(ctx, pc.Security); err != nil {
			log.Printf("[ylwatch] %s: %v", pc.Key(), err)
		} else if p != nil {
			fmt.Printf("%s last %s at %s\n", pc.Key(), p.LastPrice(), p.Time(ex.Location).Format(time.TimeOnly))
		}
		if *recent > 0 {
			pts, err := reader.RecentPoints(ctx, pc.Security, *recent)
			if err != nil {
				log.Printf("[ylwatch] %s: %v", pc.Key(), err)
			}
			for _, p := range pts {
				fmt.Printf("  %s %s\n", p.Time(ex.Location).Format(time.TimeOnly), p.LastPrice())
			}
		}
		set, err := reader.LatestYLines(ctx, pc.Security)
		if err != nil {
			log.Printf("[ylwatch] %s: %v", pc.Key(), err)
			continue
		}
		if set != nil {
			printSet(*set)
		}
	}

	if !*follow {
		return
	}
	sets := make(chan redisstore.YLineSet, 16)
	go func() {
		if err := reader.SubscribeYLines(ctx, sets); err != nil {
			log.Printf("[ylwatch] subscribe: %v", err)
			cancel()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case set := <-sets:
			printSet(set)
		}
	}
}

func printSet(set redisstore.YLineSet) {
	fmt.Printf("%s resolved %s: %d y-lines\n", set.Security,
		time.UnixMilli(set.ResolvedAt).Format(time.DateTime), len(set.Lines))
	for _, l := range set.Lines {
		grad := "n/a"
		if l.Gradient != nil {
			grad = fmt.Sprintf("%.6f", *l.Gradient)
		}
		mark := ""
		if l.StandIn {
			mark = " (stand-in)"
		}
		fmt.Printf("  %s@%s -> %s@%s gradient=%s%s\n",
			l.CPrice, time.UnixMilli(l.CTS).Format(time.DateTime),
			l.EPrice, time.UnixMilli(l.ETS).Format(time.DateTime), grad, mark)
	}
}
