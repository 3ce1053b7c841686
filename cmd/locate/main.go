package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"uwb-engine/binlog"
	"uwb-engine/config"
	"uwb-engine/server"
	"uwb-engine/telemetry"
	"uwb-engine/web"
)

func main() {
	projectXML := flag.String("project", "project.xml", "Path to project.xml")
	portName := flag.String("port", "", "Serial port (overrides project.xml)")
	baud := flag.Int("baud", 0, "Baud rate (overrides project.xml)")
	httpPort := flag.Int("http", 0, "HTTP/WebSocket port. 0 uses project.xml, -1 disables.")
	capturePath := flag.String("capture", "", "Path to output capture file or directory (optional)")
	broker := flag.String("mqtt", "", "MQTT broker URL (overrides project.xml)")
	tagID := flag.Int("tag", 0, "Tag id reported in output lines")
	flag.Parse()

	if _, err := os.Stat(*projectXML); os.IsNotExist(err) {
		log.Fatalf("project.xml not found at %s", *projectXML)
	}
	proj, err := config.LoadProject(*projectXML)
	if err != nil {
		log.Fatalf("load project: %v", err)
	}
	log.Printf("Loaded %d anchors (%dD), filter %s/%d", len(proj.Anchors), proj.Dims, proj.Filter.Weighting, proj.Filter.Window)

	if *portName != "" {
		proj.Serial.Port = *portName
	}
	if *baud > 0 {
		proj.Serial.Baud = *baud
	}
	if *broker != "" {
		proj.MQTT.Broker = *broker
	}
	if proj.Serial.Port == "" {
		log.Fatal("no serial port: set <serial port=...> or --port")
	}

	pipeline, err := proj.Pipeline()
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}

	port, err := server.OpenSerial(proj.Serial.Port, proj.Serial.Baud)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer port.Close()

	svr := server.NewSerialServer(port, pipeline)
	svr.SetTagID(*tagID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	webPort := proj.Web.Port
	if *httpPort != 0 {
		webPort = *httpPort
	}
	if webPort > 0 {
		webSvr := web.NewServer(svr)
		staticDir := proj.Web.Dir
		if staticDir != "" && !filepath.IsAbs(staticDir) {
			staticDir = filepath.Join(filepath.Dir(*projectXML), staticDir)
		}
		go func() {
			if err := webSvr.Start(ctx, webPort, staticDir); err != nil {
				log.Printf("web: %v", err)
			}
		}()
		svr.SetWebHub(webSvr.Hub)
	}

	sender, err := proj.RbcSender()
	if err != nil {
		log.Fatalf("rbc sender: %v", err)
	}
	if sender != nil {
		if err := sender.Start(); err != nil {
			log.Fatalf("rbc sender: %v", err)
		}
		defer sender.Stop()
		for _, c := range proj.Senders {
			log.Printf("Added RBC %s target %s:%d (mask %x)", c.Type, c.Addr, c.Port, c.Mask)
		}
		svr.SetRbcSender(sender)
	}

	if proj.MQTT.Broker != "" {
		pub, err := telemetry.Connect(telemetry.Config{
			Broker:   proj.MQTT.Broker,
			ClientID: proj.MQTT.ClientID,
			Topic:    proj.MQTT.Topic,
		})
		if err != nil {
			log.Printf("telemetry disabled: %v", err)
		} else {
			defer pub.Close()
			svr.SetPublisher(pub)
		}
	}

	if *capturePath != "" {
		path := *capturePath
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			path = filepath.Join(path, fmt.Sprintf("UWB_%s.pcap", time.Now().Format("20060102150405")))
		}
		cw, err := binlog.Create(path)
		if err != nil {
			log.Fatalf("create capture: %v", err)
		}
		defer cw.Close()
		if err := cw.WriteAnchors(proj.Anchors); err != nil {
			log.Fatalf("write capture anchors: %v", err)
		}
		svr.SetCaptureWriter(cw)
		log.Printf("Capturing frames to %s", path)
	}

	if err := svr.Start(ctx); err != nil {
		log.Printf("serial: %v", err)
	}
	st := svr.Stats()
	log.Printf("Shutting down: %d frames, %d positions, %d failures, %d bytes dropped, %d capture errors",
		st.Frames, st.Positions, st.Failures, st.Dropped, st.CaptureErrors)
}
