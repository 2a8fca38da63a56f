package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/lecternlabs/lectern-core/internal/config"
	"github.com/mattn/go-shellwords"
)

// Exec runs a local synthesis command (e.g. piper). The command receives a
// JSON request on stdin and writes a complete WAV stream to stdout. Calls are
// serialized; local models do not handle concurrent synthesis well.
type Exec struct {
	cfg config.ProviderConfig
	cmd []string
	mu  sync.Mutex
}

var _ Provider = (*Exec)(nil)

type execSynthRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

func NewExec(cfg config.ProviderConfig) (*Exec, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse synthesis command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synthesis command empty")
	}
	return &Exec{cfg: cfg, cmd: args}, nil
}

func (p *Exec) Name() string         { return "exec" }
func (p *Exec) Priority() int        { return p.cfg.Priority }
func (p *Exec) CostPerChar() float64 { return p.cfg.CostPer1K / 1000 }
func (p *Exec) MaxChunkSize() int    { return p.cfg.MaxChunkSize }
func (p *Exec) Available() bool      { return p.cfg.Enabled && len(p.cmd) > 0 }

func (p *Exec) Synthesize(ctx context.Context, req Request) ([]byte, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	voice := req.Voice
	if voice == "" {
		voice = p.cfg.Voice
	}
	payload, err := json.Marshal(execSynthRequest{
		Text:       req.Text,
		Voice:      voice,
		SampleRate: p.cfg.SampleRate,
		Channels:   p.cfg.Channels,
	})
	if err != nil {
		return nil, "", err
	}

	base := p.cmd[0]
	args := append([]string{}, p.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, "", fmt.Errorf("synthesis command failed: %w (%s)", err, bytes.TrimSpace(stderr.Bytes()))
	}
	if stdout.Len() == 0 {
		return nil, "", fmt.Errorf("synthesis command produced no audio")
	}
	return stdout.Bytes(), "audio/wav", nil
}
