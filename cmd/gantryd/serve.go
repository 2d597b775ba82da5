package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/yimuchen/GantryMQ/config"
	"github.com/yimuchen/GantryMQ/gantry"
	"github.com/yimuchen/GantryMQ/logging"
	"github.com/yimuchen/GantryMQ/runner"
	"github.com/yimuchen/GantryMQ/server"
	"github.com/yimuchen/GantryMQ/state"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Open the instruments and serve them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if *logLevel != "" {
				cfg.LogLevel = *logLevel
			}
			return serve(cfg)
		},
	}
}

// newInstruments creates and resets every configured instrument. A reset
// failure is logged and leaves the instrument registered but uninitialized,
// so that it can be reset remotely.
func newInstruments(cfg *config.Config, env gantry.Env) []gantry.Instance {
	log := logging.NewSource(env.Log, "Setup")
	var result []gantry.Instance

	if cfg.HVLV != nil {
		h := gantry.NewHVLV("HVLV", env)
		if err := h.Reset(*cfg.HVLV); err != nil {
			log.Errorf("HVLV not initialized: %v", err)
		}
		result = append(result, h)
	}

	if cfg.SenAUX != nil {
		s := gantry.NewSenAUX("SenAUX", env)
		if err := s.Reset(*cfg.SenAUX); err != nil {
			log.Errorf("SenAUX not initialized: %v", err)
		}
		result = append(result, s)
	}

	if cfg.DRS != nil && cfg.DRS.Enabled {
		d := gantry.NewDRS("DRS", env)
		if err := d.Reset(*cfg.DRS); err != nil {
			log.Errorf("DRS not initialized: %v", err)
		}
		result = append(result, d)
	}

	return result
}

func serve(cfg *config.Config) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	entry := logging.GetLogger(level)
	ring := logging.NewRing(0)
	entry.Logger.AddHook(ring)
	emitter := &logging.Logrus{Entry: entry}
	log := logging.NewSource(emitter, "Main")

	var store *state.Store
	if cfg.StateDB != "" {
		store, err = state.Open(cfg.StateDB)
		if err != nil {
			return err
		}
		defer store.Close()
	} else {
		log.Warnf("No state_db configured, operations are not recorded")
	}

	srv := server.New(server.Options{
		Ring:        ring,
		Store:       store,
		Log:         emitter,
		RecoveryLog: entry.WithField("prefix", logging.RootName+".HTTP"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := gantry.NewEnv(cfg, emitter)
	env.Context = ctx

	group := &runner.Group{Log: emitter}
	group.RegisterFunc("instruments", func() error {
		for _, inst := range newInstruments(cfg, env) {
			if err := srv.Register(inst); err != nil {
				inst.Close()
				return err
			}
		}
		return nil
	}, func() error {
		cancel()
		return srv.Close()
	})
	group.Register("http", &runner.HTTPServer{
		Server: &http.Server{
			Addr:    cfg.Listen,
			Handler: srv.Handler(),
		},
		Log:     emitter,
		Context: ctx,
	})

	group.HandleSignals(shutdownTimeout)
	err = group.Run(func() {
		log.Infof("Serving %v on %s", srv.Instances(), cfg.Listen)
	})
	if errors.Is(err, runner.ErrClosed) {
		return nil
	}
	return err
}
