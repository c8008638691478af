package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/damoti/shipmaster/src/plugin"
)

// notifyConfig is the top-level notify block:
//
//	notify:
//	  url: nats://ci.example.com:4222
//	  subject: ci.shipmaster
//	  events: [after_build, failed_build, failed_run]
type notifyConfig struct {
	URL     string   `yaml:"url"`
	Subject string   `yaml:"subject"`
	Events  []string `yaml:"events"`
}

// Message is the JSON document published for each event.
type Message struct {
	Project   string    `json:"project"`
	Build     string    `json:"build"`
	Image     string    `json:"image"`
	ImageName string    `json:"image_name"`
	Event     string    `json:"event"`
	Phase     string    `json:"phase"`
	Mode      string    `json:"mode"`
	Action    string    `json:"action,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// notifyPlugin publishes lifecycle events to NATS on
// <subject>.<project>.<image>.<event>.
type notifyPlugin struct {
	plugin.Base
	nc      *nats.Conn
	cfg     notifyConfig
	project string
	build   string
}

// NewNotify connects to the configured NATS server. It is disabled when
// no URL is configured, by the notify block or the notify.url setting.
func NewNotify(h plugin.Host) (plugin.Plugin, error) {
	var cfg notifyConfig
	if _, err := h.Project.Plugins.Decode("notify", &cfg); err != nil {
		return nil, err
	}
	if url := h.Settings.GetString("notify.url"); url != "" {
		cfg.URL = url
	}
	if cfg.URL == "" {
		return nil, nil
	}
	if cfg.Subject == "" {
		cfg.Subject = "shipmaster"
	}

	nc, err := nats.Connect(cfg.URL, nats.Name("shipmaster"))
	if err != nil {
		return nil, fmt.Errorf("notify: connecting to %s: %w", cfg.URL, err)
	}
	return &notifyPlugin{nc: nc, cfg: cfg, project: h.Project.Name, build: h.BuildNum}, nil
}

func (p *notifyPlugin) Name() string { return "notify" }

func (p *notifyPlugin) OnBefore(_ context.Context, ev plugin.Event, t plugin.Target, _ string) error {
	return p.publish(ev, t, "")
}

func (p *notifyPlugin) OnAfter(_ context.Context, ev plugin.Event, t plugin.Target, _ string) error {
	return p.publish(ev, t, "")
}

func (p *notifyPlugin) OnFailed(_ context.Context, ev plugin.Event, t plugin.Target, extra string) error {
	return p.publish(ev, t, extra)
}

// wants reports whether ev is selected. Without an events list only
// mode-level events are published.
func (p *notifyPlugin) wants(ev plugin.Event) bool {
	if ev.Action == plugin.Output {
		return false
	}
	if len(p.cfg.Events) == 0 {
		return ev.Action == plugin.NoAction
	}
	for _, name := range p.cfg.Events {
		if ev.Is(name) {
			return true
		}
	}
	return false
}

func (p *notifyPlugin) publish(ev plugin.Event, t plugin.Target, errText string) error {
	if !p.wants(ev) {
		return nil
	}
	body, err := json.Marshal(Message{
		Project:   p.project,
		Build:     p.build,
		Image:     t.Name(),
		ImageName: t.ImageName(),
		Event:     ev.String(),
		Phase:     string(ev.Phase),
		Mode:      string(ev.Mode),
		Action:    string(ev.Action),
		Error:     errText,
		Time:      time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("%s.%s.%s.%s", p.cfg.Subject, p.project, t.Name(), ev.String())
	return p.nc.Publish(subject, body)
}

// Close flushes pending messages and disconnects.
func (p *notifyPlugin) Close() error {
	if err := p.nc.Flush(); err != nil {
		p.nc.Close()
		return err
	}
	p.nc.Close()
	return nil
}
