package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"podserve/internal/app/podserve"
	"podserve/internal/configs"
)

var opts struct {
	Conf string `short:"c" long:"conf" env:"PODSERVE_CONF" default:"podserve.yml" description:"config file (yml)"`
	DB   string `short:"d" long:"db" env:"PODSERVE_DB" description:"bolt db file (default <data_dir>/podserve.bdb)"`
	Once bool   `short:"o" long:"once" description:"scan the queue file once and exit"`
	Dbg  bool   `long:"dbg" env:"DEBUG" description:"show debug info"`
}

func main() {
	p := flags.NewParser(&opts, flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		if err.(*flags.Error).Type != flags.ErrHelp {
			fmt.Printf("%v\n", err)
			os.Exit(1)
		}
		p.WriteHelp(os.Stderr)
		os.Exit(2)
	}

	setupLog(opts.Dbg)

	conf, err := configs.Load(opts.Conf)
	if err != nil {
		log.Fatalf("[ERROR] can't load config %s, %v", opts.Conf, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := podserve.NewApplication(ctx, conf, opts.DB)
	if err != nil {
		log.Fatalf("[ERROR] can't create app, %v", err)
	}

	if opts.Once {
		if err := app.RunOnce(ctx); err != nil {
			log.Fatalf("[ERROR] %v", err)
		}
		return
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
}

func setupLog(dbg bool) {
	logOpts := []log.Option{log.Msec, log.LevelBraces}
	if dbg {
		logOpts = append(logOpts, log.Debug, log.CallerFile, log.CallerFunc)
	}
	log.Setup(logOpts...)
}
