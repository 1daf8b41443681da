package domain

import (
	"fmt"
	"strings"
)

type ScopeKind string

const (
	ScopeProject ScopeKind = "project"
	ScopeNetwork ScopeKind = "network"
)

const defaultNetworkSuffix = "_default"

// ComposeProjectLabel is the label compose stamps on every container of a project.
const ComposeProjectLabel = "com.docker.compose.project"

func (k ScopeKind) IsValid() bool {
	switch k {
	case ScopeProject, ScopeNetwork:
		return true
	}
	return false
}

func ParseScopeKind(raw string) (ScopeKind, error) {
	kind := ScopeKind(strings.ToLower(strings.TrimSpace(raw)))
	if !kind.IsValid() {
		return "", fmt.Errorf("unsupported scope kind: %q", raw)
	}
	return kind, nil
}

// Scope selects the group of containers a directory answers for.
type Scope struct {
	Kind            ScopeKind
	Name            string
	NetworkOverride string
}

func ProjectScope(project string) Scope {
	return Scope{Kind: ScopeProject, Name: project}
}

func NetworkScope(network string) Scope {
	return Scope{Kind: ScopeNetwork, Name: network}
}

// WithNetwork returns a copy of the scope pinned to the given network name.
func (s Scope) WithNetwork(network string) Scope {
	s.NetworkOverride = network
	return s
}

// NetworkName is the network the relay attaches to.
func (s Scope) NetworkName() string {
	if s.NetworkOverride != "" {
		return s.NetworkOverride
	}
	if s.Kind == ScopeProject {
		return s.Name + defaultNetworkSuffix
	}
	return s.Name
}

func (s Scope) Validate() error {
	if !s.Kind.IsValid() {
		return fmt.Errorf("unsupported scope kind: %q", s.Kind)
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%s scope requires a name", s.Kind)
	}
	return nil
}

func (s Scope) String() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.Name)
}
