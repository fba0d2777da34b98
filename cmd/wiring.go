package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/termnetdev/termnet/internal/agent"
	"github.com/termnetdev/termnet/internal/config"
	"github.com/termnetdev/termnet/internal/notes"
	"github.com/termnetdev/termnet/internal/notify"
	"github.com/termnetdev/termnet/internal/providers"
	"github.com/termnetdev/termnet/internal/safety"
	"github.com/termnetdev/termnet/internal/tools"
	"github.com/termnetdev/termnet/pkg/browser"
)

// buildProvider registers the configured backends and returns the selected
// one.
func buildProvider(cfg *config.Config) (providers.Provider, error) {
	reg := providers.NewRegistry()
	reg.Register(providers.NewOpenAIProvider("openai", cfg.Provider.APIKey, cfg.Provider.BaseURL, cfg.Provider.Model))
	reg.Register(providers.NewOllamaProvider(cfg.Provider.BaseURL, cfg.Provider.Model))

	p, err := reg.Get(cfg.Provider.Name)
	if err != nil {
		return nil, fmt.Errorf("%w (have %v)", err, reg.List())
	}
	return p, nil
}

// buildGate compiles the built-in rule tables plus any config extras.
func buildGate(cfg *config.Config) (*safety.Gate, error) {
	deny := safety.DefaultDenyRules()
	for _, spec := range cfg.Safety.ExtraDeny {
		r, err := safety.NewRule(spec.Name, spec.Pattern, spec.Reason)
		if err != nil {
			return nil, fmt.Errorf("safety rule %q: %w", spec.Name, err)
		}
		deny = append(deny, r)
	}

	warn := safety.DefaultWarnRules()
	for _, spec := range cfg.Safety.ExtraWarn {
		r, err := safety.NewRule(spec.Name, spec.Pattern, spec.Reason)
		if err != nil {
			return nil, fmt.Errorf("safety rule %q: %w", spec.Name, err)
		}
		warn = append(warn, r)
	}

	return safety.NewGate(deny, warn), nil
}

// services bundles the optional stores the built-in tools sit on.
type services struct {
	notify  *notify.Service
	notes   *notes.Store
	browser *browser.Manager
}

func (s *services) close() {
	if s.notify != nil {
		s.notify.Stop()
	}
	if s.notes != nil {
		s.notes.Close()
	}
}

// buildServices opens the stores enabled in config.
func buildServices(cfg *config.Config) (*services, error) {
	s := &services{}

	if cfg.Notify.Enabled {
		svc, err := notify.NewService(cfg.Notify.Path)
		if err != nil {
			return nil, fmt.Errorf("notification store: %w", err)
		}
		s.notify = svc
	}

	if cfg.Notes.Enabled {
		store, err := notes.Open(cfg.Notes.Path)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("note store: %w", err)
		}
		s.notes = store
	}

	if cfg.Browser.Enabled {
		s.browser = browser.New(browser.WithHeadless(cfg.Browser.Headless))
	}

	return s, nil
}

// builtinTools assembles the built-in tool set over the open services.
func builtinTools(svcs *services) map[string]tools.Tool {
	builtins := map[string]tools.Tool{}

	terminal := tools.NewTerminalTool("", 60*time.Second)
	builtins[terminal.Name()] = terminal

	if svcs.browser != nil {
		bt := tools.NewBrowserTool(svcs.browser)
		builtins[bt.Name()] = bt
	}
	if svcs.notify != nil {
		nt := tools.NewNotifyTool(svcs.notify)
		builtins[nt.Name()] = nt
	}
	if svcs.notes != nil {
		save := tools.NewSaveNoteTool(svcs.notes)
		search := tools.NewSearchNotesTool(svcs.notes)
		builtins[save.Name()] = save
		builtins[search.Name()] = search
	}
	return builtins
}

// buildRegistry loads the manifest over the builtins, or registers the
// builtins directly when no manifest file exists.
func buildRegistry(cfg *config.Config, builtins map[string]tools.Tool) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	applyRegistrySettings(cfg, reg)

	if _, err := os.Stat(cfg.Tools.ManifestPath); os.IsNotExist(err) {
		for _, t := range builtins {
			if err := reg.Register(t); err != nil {
				return nil, err
			}
		}
		return reg, nil
	}

	if err := tools.LoadManifest(cfg.Tools.ManifestPath, builtins, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func applyRegistrySettings(cfg *config.Config, reg *tools.Registry) {
	reg.SetScrubbing(cfg.Tools.ScrubCredentials)
	if cfg.Tools.RatePerHour > 0 {
		reg.SetRateLimiter(tools.NewToolRateLimiter(cfg.Tools.RatePerHour))
	}
}

// guardAction maps the config string onto the loop's guard policy.
func guardAction(s string) agent.GuardAction {
	switch s {
	case "log":
		return agent.GuardLog
	case "block":
		return agent.GuardBlock
	case "off":
		return agent.GuardOff
	default:
		return agent.GuardWarn
	}
}
