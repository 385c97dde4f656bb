package models

// Well-known vocabularies
const (
	RDFNamespace     = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	RDFSNamespace    = "http://www.w3.org/2000/01/rdf-schema#"
	XSDNamespace     = "http://www.w3.org/2001/XMLSchema#"
	DCNamespace      = "http://purl.org/dc/elements/1.1/"
	DCTermsNamespace = "http://purl.org/dc/terms/"
	SDONamespace     = "https://schema.org/"

	DefaultEntitiesNamespace     = "http://graphs.olu.dev/entities/"
	DefaultApplicationsNamespace = "http://graphs.olu.dev/applications/"
	LocalNamespace               = "http://graphs.olu.dev/schema/local#"
)

const (
	RDFType       IRI = RDFNamespace + "type"
	RDFSLabel     IRI = RDFSNamespace + "label"
	DCIdentifier  IRI = DCNamespace + "identifier"
	XSDString     IRI = XSDNamespace + "string"
	XSDBoolean    IRI = XSDNamespace + "boolean"
	XSDDateTime   IRI = XSDNamespace + "dateTime"
	LocalEntity   IRI = LocalNamespace + "Entity"
	SDOName       IRI = SDONamespace + "name"
	SDOIdentifier IRI = SDONamespace + "identifier"
)
