package docker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os/exec"
	"strings"
	"time"

	"github.com/auto-dns/docker-proxy/internal/domain"
	"github.com/rs/zerolog"
)

const (
	networkMembersFormat = `{{ range $container, $_ := .Containers }}{{ $container }},{{ end }}`
	addressFormat        = `{{ range $name, $net := .NetworkSettings.Networks }}{{ $name }}={{ $net.IPAddress }};{{ end }}`
	idFormat             = `{{ .ID }}`
)

// namesFormat prints label values first, then name and hostname forms,
// separated by commas.
var namesFormat = func() string {
	parts := make([]string, 0, len(aliasLabels)+3)
	for _, label := range aliasLabels {
		parts = append(parts, fmt.Sprintf(`{{ index .Config.Labels %q }}`, label))
	}
	parts = append(parts,
		`{{ .Name }}`,
		`{{ .Config.Hostname }}`,
		`{{ .Config.Hostname }}.{{ .Config.Domainname }}`,
	)
	return strings.Join(parts, ",")
}()

type commandRunner func(ctx context.Context, binary string, args ...string) (stdout []byte, err error)

// CLIClient answers runtime queries by running the docker binary.
type CLIClient struct {
	binary  string
	timeout time.Duration
	run     commandRunner
	logger  zerolog.Logger
}

func NewCLIClient(binary string, timeout time.Duration, logger zerolog.Logger) *CLIClient {
	if binary == "" {
		binary = "docker"
	}
	return &CLIClient{
		binary:  binary,
		timeout: timeout,
		run:     execRunner,
		logger:  logger.With().Str("runtime", "cli").Logger(),
	}
}

func execRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

func (c *CLIClient) ListMemberIDs(ctx context.Context, scope domain.Scope) ([]string, error) {
	switch scope.Kind {
	case domain.ScopeProject:
		lines, err := c.lines(ctx, scope.Name,
			"ps", "--filter", "label="+domain.ComposeProjectLabel+"="+scope.Name, "--format", idFormat)
		if err != nil {
			return nil, err
		}
		return nonEmpty(lines), nil
	case domain.ScopeNetwork:
		name := scope.NetworkName()
		out, err := c.output(ctx, name, "network", "inspect", "--format", networkMembersFormat, name)
		if err != nil {
			return nil, err
		}
		return nonEmpty(strings.Split(strings.TrimSpace(out), ",")), nil
	default:
		return nil, domain.NewRuntimeQueryError("list", scope.Name, scope.Validate())
	}
}

func (c *CLIClient) AliasesFor(ctx context.Context, id string) ([]string, error) {
	out, err := c.output(ctx, id, "inspect", "--format", namesFormat, id)
	if err != nil {
		return nil, err
	}
	names := strings.FieldsFunc(strings.TrimSpace(out), func(r rune) bool {
		return r == ',' || r == '/'
	})
	// An empty domain name leaves "hostname." behind.
	aliases := []string{shortID(id)}
	for _, name := range names {
		if strings.HasSuffix(name, ".") {
			continue
		}
		aliases = append(aliases, name)
	}
	return domain.NormalizeAliases(id, aliases), nil
}

func (c *CLIClient) AddressFor(ctx context.Context, id, preferredNetwork string) (netip.Addr, bool, error) {
	out, err := c.output(ctx, id, "inspect", "--format", addressFormat, id)
	if err != nil {
		return netip.Addr{}, false, err
	}
	byNetwork := map[string]string{}
	for _, pair := range strings.Split(strings.TrimSpace(out), ";") {
		name, ip, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		byNetwork[strings.TrimSpace(name)] = strings.TrimSpace(ip)
	}
	addr, ok, err := parseAddress(pickAddress(byNetwork, preferredNetwork))
	if err != nil {
		return netip.Addr{}, false, domain.NewRuntimeQueryError("inspect", id, err)
	}
	return addr, ok, nil
}

func (c *CLIClient) output(ctx context.Context, target string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Debug().Strs("args", args).Msg("Running docker command")
	out, err := c.run(ctx, c.binary, args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", c.timeout, ctx.Err())
		}
		return "", domain.NewRuntimeQueryError(strings.Join(args[:commandWords(args)], " "), target, err)
	}
	return string(out), nil
}

func (c *CLIClient) lines(ctx context.Context, target string, args ...string) ([]string, error) {
	out, err := c.output(ctx, target, args...)
	if err != nil {
		return nil, err
	}
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// commandWords counts the leading sub-command words before the first flag.
func commandWords(args []string) int {
	for i, arg := range args {
		if strings.HasPrefix(arg, "-") {
			return i
		}
	}
	return len(args)
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
