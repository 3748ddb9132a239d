package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"pwmservo/internal/config"
	"pwmservo/internal/web"
)

func main() {
	var configPath string
	var backend string
	flag.StringVar(&configPath, "config", "./configs/servo.yaml", "Path to YAML config")
	flag.StringVar(&backend, "backend", "", "Override servo.backend (sysfs, gpiod, periph, machine, dryrun)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if b := strings.TrimSpace(backend); b != "" {
		cfg.Servo.Backend = b
		if err := config.DefaultAndValidate(&cfg); err != nil {
			log.Fatalf("config invalid: %v", err)
		}
	}

	logs := web.NewLogBuffer(cfg.Web.LogLines)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	status := web.NewStatus()
	rt, err := newServoRuntime(ctx, cfg, status)
	if err != nil {
		log.Fatalf("servo init failed: %v", err)
	}
	defer rt.Close()

	log.Printf("pwmservo starting")
	log.Printf("servo backend=%s pin=%d", cfg.Servo.Backend, cfg.Servo.PinNumber())

	listen := strings.TrimSpace(cfg.Web.Listen)
	if listen != "" {
		log.Printf("web listen=%s", listen)
		go func() {
			if err := web.Serve(ctx, listen, status, logs, rt.Service()); err != nil && ctx.Err() == nil {
				log.Printf("web server stopped: %v", err)
			}
		}()
	}

	waitForShutdown(ctx, rt.Done(), listen != "")
	log.Printf("pwmservo stopping")
}
