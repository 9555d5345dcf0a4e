// Command spoold tails a spool directory of append-only log files and
// ships newly appended lines to a configured sink (Kafka or stdout).
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/coldtail/spoold/internal/channel"
	"github.com/coldtail/spoold/internal/config"
	"github.com/coldtail/spoold/internal/offsetstore"
	"github.com/coldtail/spoold/internal/sink"
	"github.com/coldtail/spoold/internal/tailer"
	"github.com/coldtail/spoold/internal/watcher"
)

var (
	flagConfigFile = flag.String("config", "", "Path to the agent configuration file.")
	flagLogLevel   = flag.String("loglevel", "info", "Log level: debug, info, warn, error.")
	flagPidFile    = flag.String("pidfile", "", "Write the process id into this file.")
)

func main() {
	flag.Usage = func() {
		fmt.Println("Usage: spoold -config <file> [-loglevel <level>] [-pidfile <file>]")
		flag.PrintDefaults()
	}
	flag.Parse()

	log := newLogger(*flagLogLevel)

	if *flagConfigFile == "" {
		log.Error("no -config given")
		os.Exit(1)
	}

	cfg, err := config.Load(*flagConfigFile)
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	if *flagPidFile != "" {
		os.WriteFile(*flagPidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644)
	}

	log.WithFields(logrus.Fields{
		"pool":    cfg.PoolPath,
		"pattern": cfg.FilenamePattern.String(),
		"sink":    cfg.SinkName,
	}).Info("spoold starting")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("fatal error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logrus.FieldLogger) error {
	store := offsetstore.New(cfg.OffsetFile, log)
	if err := store.Load(); err != nil {
		return err
	}

	sinks, err := buildSinks(cfg, log)
	if err != nil {
		return err
	}

	ch := channel.New(256)
	eng := &tailer.Engine{
		SinkName: cfg.SinkName,
		Store:    store,
		Emit:     ch.Put,
		Log:      log,
	}

	w, err := watcher.New(watcher.Deps{
		PoolPath: cfg.PoolPath,
		Pattern:  cfg.FilenamePattern,
		Store:    store,
		Engine:   eng,
		Log:      log,
	})
	if err != nil {
		return err
	}

	var shuttingDown int32
	proxy := sink.NewProxy(sinks, ch, log)
	proxyDone := make(chan struct{})
	go func() {
		proxy.Run(func() bool { return atomic.LoadInt32(&shuttingDown) != 0 })
		close(proxyDone)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("SIGTERM received, shutting down")
		atomic.StoreInt32(&shuttingDown, 1)
		ch.PutStop()
		w.Stop()
	}()

	watchErr := w.Run()
	<-proxyDone

	if watchErr != nil {
		return watchErr
	}
	log.Info("spoold stopped cleanly")
	return nil
}

func buildSinks(cfg *config.Config, log logrus.FieldLogger) (map[string]sink.Sink, error) {
	sinks := make(map[string]sink.Sink, len(cfg.Sinks))
	for name, sc := range cfg.Sinks {
		switch sc.Type {
		case config.SinkKafka:
			sinks[name] = sink.NewKafka(sc.Servers, sc.Topic, log.WithField("sink", name))
		case config.SinkStdout:
			sinks[name] = sink.NewStdout(os.Stdout, log.WithField("sink", name))
		default:
			return nil, fmt.Errorf("unknown sink type %q for %q", sc.Type, name)
		}
	}
	return sinks, nil
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.Formatter = &logrus.TextFormatter{FullTimestamp: true}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return log
}
