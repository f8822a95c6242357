package main

import (
	"context"
	"time"

	"autoshift/internal/automation"
	"autoshift/internal/browser"
	"autoshift/internal/config"
	"autoshift/internal/driver"
	"autoshift/internal/store"
)

// app bundles the collaborators built from the config.
type app struct {
	store  *store.Store
	driver *driver.Provisioner
}

func openApp(cfg *config.Config) (*app, error) {
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}
	prov := driver.New(driver.Options{
		Dir:           cfg.DriverDir,
		URLBase:       cfg.DriverURLBase,
		BrowserBinary: cfg.BrowserBinary,
	})
	return &app{store: st, driver: prov}, nil
}

// engine builds an automation engine that asks prompter and reports to notifier.
func (a *app) engine(cfg *config.Config, prompter automation.Prompter, notifier automation.Notifier) *automation.Engine {
	return automation.New(automation.Config{
		TargetURL:      cfg.TargetURL,
		LoginTimeout:   cfg.LoginTimeout(),
		ElementTimeout: cfg.ElementTimeout(),
		BannerTimeout:  cfg.BannerTimeout(),
	}, automation.Deps{
		Store:       a.store,
		Provisioner: a.driver,
		Launch:      launcher(cfg),
		Prompter:    prompter,
		Notifier:    notifier,
	})
}

func launcher(cfg *config.Config) automation.Launcher {
	return func(ctx context.Context, driverPath string) (automation.Page, error) {
		s, err := browser.Launch(ctx, browser.Options{
			DriverPath:   driverPath,
			Headless:     cfg.Headless,
			StartTimeout: 30 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
