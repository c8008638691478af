package plugins

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/damoti/shipmaster/src/plugin"
)

const containerAgentDir = "/shipmaster/ssh-auth-sock"

// sshConfig is the ssh block, at the top level or per image:
//
//	ssh:
//	  known_hosts: [github.com, git.example.com]
type sshConfig struct {
	KnownHosts []string `yaml:"known_hosts"`
}

// sshPlugin gives build containers access to git over ssh. Locally the
// host's ssh agent socket is forwarded; on servers an ssh_config with
// deploy keys is mounted instead (setting ssh.config).
type sshPlugin struct {
	plugin.Base
	logger  *log.Logger
	project string
	global  sshConfig
	debug   bool

	env     map[string]string
	volumes []string
}

// NewSSH creates the ssh plugin. It is disabled when neither an agent
// socket nor an ssh_config is available.
func NewSSH(h plugin.Host) (plugin.Plugin, error) {
	p := &sshPlugin{
		logger:  h.Logger,
		project: h.Project.Name,
		debug:   h.Settings.GetBool("ssh.debug"),
		env:     map[string]string{},
	}
	if _, err := h.Project.Plugins.Decode("ssh", &p.global); err != nil {
		return nil, err
	}

	if cfg := h.Settings.GetString("ssh.config"); cfg != "" {
		dir := filepath.Dir(cfg)
		p.env["GIT_SSH_COMMAND"] = "ssh -F " + cfg
		p.volumes = append(p.volumes, dir+":"+dir)
		return p, nil
	}

	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		if h.Project.Plugins.Has("ssh") {
			h.Logger.Warn("ssh is configured but SSH_AUTH_SOCK is not set; agent forwarding disabled")
		}
		return nil, nil
	}
	p.env["SSH_AUTH_SOCK"] = path.Join(containerAgentDir, filepath.Base(sock))
	p.volumes = append(p.volumes, filepath.Dir(sock)+":"+containerAgentDir)

	if p.debug {
		p.listAgentKeys(sock)
	}
	return p, nil
}

func (p *sshPlugin) Name() string { return "ssh" }

func (p *sshPlugin) OnBefore(_ context.Context, ev plugin.Event, t plugin.Target, _ string) error {
	switch {
	case ev.Action == plugin.NoAction:
		for k, v := range p.env {
			t.SetEnv(k, v)
		}
		for _, v := range p.volumes {
			t.AddVolume(v)
		}
	case ev.Mode == plugin.Build && ev.Action == plugin.Script && t.Script() != nil:
		return p.writeSetup(t)
	}
	return nil
}

// writeSetup adds known hosts to the build script, before the image's
// own commands.
func (p *sshPlugin) writeSetup(t plugin.Target) error {
	cfg := p.global
	var local sshConfig
	ok, err := t.Config().Plugins.Decode("ssh", &local)
	if err != nil {
		return err
	}
	if ok && len(local.KnownHosts) > 0 {
		cfg = local
	}
	if len(cfg.KnownHosts) == 0 {
		return nil
	}

	hideErr := " 2> /dev/null"
	if p.debug {
		hideErr = ""
	}

	s := t.Script()
	s.Write("# SSH Setup")
	s.Write("mkdir -p /root/.ssh")
	for _, host := range cfg.KnownHosts {
		s.Write(fmt.Sprintf("ssh-keyscan %s >> /root/.ssh/known_hosts%s", host, hideErr))
		s.Write(fmt.Sprintf(`printf "Host *%s\n HostName %s\n" >> /root/.ssh/config`, host, host))
	}
	if p.debug {
		s.Write("cat /root/.ssh/config")
		s.Write("cat /root/.ssh/known_hosts")
		s.Write("ssh-add -L")
		for _, host := range cfg.KnownHosts {
			s.Write(fmt.Sprintf("ssh -T git@%s.%s", p.project, host))
		}
	}
	return nil
}

// listAgentKeys logs the identities the forwarded agent offers.
func (p *sshPlugin) listAgentKeys(sock string) {
	conn, err := net.Dial("unix", sock)
	if err != nil {
		p.logger.Warn("ssh agent unreachable", "socket", sock, "err", err)
		return
	}
	defer conn.Close()

	keys, err := agent.NewClient(conn).List()
	if err != nil {
		p.logger.Warn("listing ssh agent keys", "err", err)
		return
	}
	if len(keys) == 0 {
		p.logger.Warn("ssh agent has no identities")
	}
	for _, k := range keys {
		fp := ""
		if pub, err := ssh.ParsePublicKey(k.Blob); err == nil {
			fp = ssh.FingerprintSHA256(pub)
		}
		p.logger.Info("ssh agent key", "type", k.Format, "fingerprint", fp, "comment", k.Comment)
	}
}
