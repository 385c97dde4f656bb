package applications

import (
	"time"

	"github.com/ha1tch/olu-graph/pkg/models"
)

// Namespace of the tenant vocabulary
const Namespace = "http://graphs.olu.dev/schema/applications#"

// Tenant vocabulary
const (
	TypeApplication models.IRI = Namespace + "Application"
	TypeApiKey      models.IRI = Namespace + "ApiKey"

	HasKey            = models.DCIdentifier
	HasLabel          = models.RDFSLabel
	IsPersistent      models.IRI = Namespace + "persistent"
	HasApiKey         models.IRI = Namespace + "hasApiKey"
	HasIssueDate      models.IRI = Namespace + "issued"
	HasRevocationDate models.IRI = Namespace + "revoked"
	IsActive          models.IRI = Namespace + "active"
	OfApplication     models.IRI = Namespace + "ofApplication"
)

// Application is a tenant
type Application struct {
	IRI        models.IRI `json:"iri"`
	Label      string     `json:"label"`
	Key        string     `json:"key"`
	Persistent bool       `json:"persistent"`
}

// ApiKey is a credential issued to an application
type ApiKey struct {
	IRI         models.IRI  `json:"iri"`
	Label       string      `json:"label"`
	Key         string      `json:"key"`
	Active      bool        `json:"active"`
	IssueDate   time.Time   `json:"issued"`
	RevokedAt   *time.Time  `json:"revoked,omitempty"`
	Application Application `json:"application"`
}

func (a Application) statements() []models.Statement {
	return []models.Statement{
		models.NewStatement(a.IRI, models.RDFType, models.NewLink(TypeApplication)),
		models.NewStatement(a.IRI, HasKey, models.NewLiteral(a.Key)),
		models.NewStatement(a.IRI, HasLabel, models.NewLiteral(a.Label)),
		models.NewStatement(a.IRI, IsPersistent, models.NewBoolLiteral(a.Persistent)),
	}
}

func (k ApiKey) statements() []models.Statement {
	return []models.Statement{
		models.NewStatement(k.IRI, models.RDFType, models.NewLink(TypeApiKey)),
		models.NewStatement(k.IRI, HasKey, models.NewLiteral(k.Key)),
		models.NewStatement(k.IRI, HasLabel, models.NewLiteral(k.Label)),
		models.NewStatement(k.IRI, HasIssueDate, dateTime(k.IssueDate)),
		models.NewStatement(k.IRI, IsActive, models.NewBoolLiteral(k.Active)),
		models.NewStatement(k.IRI, OfApplication, models.NewLink(k.Application.IRI)),
		models.NewStatement(k.Application.IRI, HasApiKey, models.NewLink(k.IRI)),
	}
}

func dateTime(t time.Time) models.Value {
	return models.NewTypedLiteral(t.UTC().Format(time.RFC3339Nano), models.XSDDateTime)
}

func parseDateTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
