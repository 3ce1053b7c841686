package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"uwb-engine/binlog"
	"uwb-engine/config"
	"uwb-engine/fusion"
	"uwb-engine/rbc"
	"uwb-engine/server"
)

func main() {
	capturePath := flag.String("capture", "", "Input capture file")
	projectXML := flag.String("project", "", "Path to project.xml (default: anchor table stored in the capture)")
	dims := flag.Int("dims", 2, "Solve dimension when no project is given")
	window := flag.Int("window", fusion.DefaultWindowSize, "Filter window when no project is given")
	weight := flag.String("weight", "linear", "Filter weighting when no project is given")
	speed := flag.Float64("speed", 1.0, "Replay speed multiplier (0 for max speed)")
	dest := flag.String("dest", "", "UDP address receiving position lines (optional)")
	flag.Parse()

	if *capturePath == "" {
		log.Fatal("--capture required")
	}

	var pipeline *fusion.Pipeline
	var err error
	if *projectXML != "" {
		proj, err := config.LoadProject(*projectXML)
		if err != nil {
			log.Fatalf("load project: %v", err)
		}
		pipeline, err = proj.Pipeline()
		if err != nil {
			log.Fatalf("pipeline: %v", err)
		}
	} else {
		pipeline, err = pipelineFromCapture(*capturePath, *dims, *window, *weight)
		if err != nil {
			log.Fatalf("%v", err)
		}
	}

	svr := server.NewSerialServer(nil, pipeline)
	if *dest != "" {
		sender := rbc.NewSender()
		if err := sender.AddTarget(rbc.KindUDP, *dest, rbc.FlagPosition); err != nil {
			log.Fatalf("Invalid dest address: %v", err)
		}
		if err := sender.Start(); err != nil {
			log.Fatalf("rbc sender: %v", err)
		}
		defer sender.Stop()
		svr.SetRbcSender(sender)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := svr.Replay(ctx, *capturePath, *speed); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("replay: %v", err)
	}
	if res, ok := svr.Latest(); ok {
		fmt.Printf("Last position: x=%.3f y=%.3f z=%.3f flag=%d\n", res.Smoothed.X, res.Smoothed.Y, res.Smoothed.Z, res.Flag)
	}
}

func pipelineFromCapture(path string, dims, window int, weight string) (*fusion.Pipeline, error) {
	w, err := fusion.ParseWeighting(weight)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rd, err := binlog.NewReader(f)
	if err != nil {
		return nil, err
	}
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s has no anchor table, pass --project", path)
		}
		if err != nil {
			return nil, err
		}
		if rec.Flag != binlog.FlagAnchor {
			continue
		}
		anchors, err := rec.Anchors()
		if err != nil {
			return nil, err
		}
		g, err := fusion.NewGeometry(dims, anchors)
		if err != nil {
			return nil, err
		}
		log.Printf("Using anchor table from capture: %s", g)
		return fusion.NewPipeline(g, dims, fusion.NewPositionFilter(window, w))
	}
}
