package models

import (
	"os"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Namespace binds a prefix to a namespace IRI
type Namespace struct {
	Prefix string `yaml:"prefix" json:"prefix"`
	Name   string `yaml:"namespace" json:"namespace"`
}

// Namespaces is an immutable prefix lookup table. It is built once at
// startup and safe for concurrent use without locking.
type Namespaces struct {
	byPrefix map[string]Namespace
}

// DefaultNamespaces returns the namespaces every registry starts with
func DefaultNamespaces() []Namespace {
	return []Namespace{
		{Prefix: "rdf", Name: RDFNamespace},
		{Prefix: "rdfs", Name: RDFSNamespace},
		{Prefix: "xsd", Name: XSDNamespace},
		{Prefix: "dc", Name: DCNamespace},
		{Prefix: "dcterms", Name: DCTermsNamespace},
		{Prefix: "sdo", Name: SDONamespace},
		{Prefix: "local", Name: LocalNamespace},
		{Prefix: "entities", Name: DefaultEntitiesNamespace},
	}
}

// NewNamespaces builds a registry. Later entries override earlier ones with
// the same prefix; prefixes compare case-insensitively.
func NewNamespaces(namespaces ...Namespace) (*Namespaces, error) {
	byPrefix := make(map[string]Namespace, len(namespaces))
	for _, ns := range namespaces {
		prefix := strings.ToLower(strings.TrimSpace(ns.Prefix))
		if prefix == "" || ns.Name == "" {
			return nil, errors.Wrapf(ErrInvalidRequest, "incomplete namespace entry %q -> %q", ns.Prefix, ns.Name)
		}
		byPrefix[prefix] = Namespace{Prefix: prefix, Name: ns.Name}
	}
	return &Namespaces{byPrefix: byPrefix}, nil
}

type namespacesFile struct {
	Namespaces []Namespace `yaml:"namespaces"`
}

// LoadNamespaces reads additional prefixes from a YAML file and merges them
// over the defaults. A missing path yields the defaults only.
func LoadNamespaces(path string) (*Namespaces, error) {
	all := DefaultNamespaces()
	if path == "" {
		return NewNamespaces(all...)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewNamespaces(all...)
		}
		return nil, errors.Wrapf(err, "failed to read namespaces file %s", path)
	}

	var file namespacesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "failed to parse namespaces file %s", path)
	}
	return NewNamespaces(append(all, file.Namespaces...)...)
}

// Lookup returns the namespace bound to prefix
func (n *Namespaces) Lookup(prefix string) (Namespace, error) {
	ns, ok := n.byPrefix[strings.ToLower(prefix)]
	if !ok {
		return Namespace{}, errors.WithHint(
			errors.Wrapf(ErrUnknownPrefix, "prefix %q", prefix),
			"register the prefix in the namespaces file")
	}
	return ns, nil
}

// Resolve builds the IRI for prefix:local
func (n *Namespaces) Resolve(prefix, local string) (IRI, error) {
	ns, err := n.Lookup(prefix)
	if err != nil {
		return "", err
	}
	if local == "" {
		return "", errors.Wrap(ErrInvalidRequest, "empty local name")
	}
	return IRI(ns.Name + local), nil
}

// All returns the registered namespaces ordered by prefix
func (n *Namespaces) All() []Namespace {
	out := make([]Namespace, 0, len(n.byPrefix))
	for _, ns := range n.byPrefix {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out
}
