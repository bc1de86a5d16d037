package models

// Published document formats. All three documents are serialized to JSON,
// signed with the publisher's Ed25519 key (signature computed over the JSON
// with an empty signature field) and written to the content store.

// DocumentVersion is the schema version stamped on every published
// document and tracked per sync operation as local/remote version.
const DocumentVersion = 1

// Manifest is the signed top-level document a user publishes. The name
// resolution layer points the user's name key at its current content id.
type Manifest struct {
	Version     int                 `json:"version"`
	Handle      string              `json:"handle"`
	Collections ManifestCollections `json:"collections"`
	CreatedAt   int64               `json:"createdAt"`
	UpdatedAt   int64               `json:"updatedAt"`
	Signature   string              `json:"signature,omitempty"`
}

// ManifestCollections references the collection documents by content id.
type ManifestCollections struct {
	Tags          string `json:"tags"`
	Subscriptions string `json:"subscriptions"`
}

// TagCollection is the signed, versioned array of a user's published tags.
type TagCollection struct {
	Version   int    `json:"version"`
	Handle    string `json:"handle"`
	Tags      []Tag  `json:"tags"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
	Signature string `json:"signature,omitempty"`
}

// SubscriptionCollection publishes who a user follows, in public form.
type SubscriptionCollection struct {
	Version       int                  `json:"version"`
	Handle        string               `json:"handle"`
	Subscriptions []PublicSubscription `json:"subscriptions"`
	CreatedAt     int64                `json:"createdAt"`
	UpdatedAt     int64                `json:"updatedAt"`
	Signature     string               `json:"signature,omitempty"`
}

// PublicSubscription is the externally visible form of a Subscription.
type PublicSubscription struct {
	Handle      string `json:"handle"`
	DID         string `json:"did"`
	DisplayName string `json:"displayName,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

// DIDDocument is the self-describing identity document resolved through the
// name resolution layer. Its service endpoints point at the user's current
// manifest and external handle proof.
type DIDDocument struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	AssertionMethod    []string             `json:"assertionMethod"`
	Service            []ServiceEndpoint    `json:"service"`
}

// VerificationMethod carries the multibase-encoded Ed25519 public key.
type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

// Service endpoint types recognized in DID documents.
const (
	ServiceUserManifest = "UserManifest"
	ServiceHandleProof  = "XHandleProof"
)

// ServiceEndpoint points at a resource associated with the identity.
type ServiceEndpoint struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// ManifestService returns the UserManifest endpoint value, or "".
func (d *DIDDocument) ManifestService() string {
	for _, s := range d.Service {
		if s.Type == ServiceUserManifest {
			return s.ServiceEndpoint
		}
	}
	return ""
}

// DiscoveryRecord maps a handle lookup key to the identity needed to
// resolve that user's content.
type DiscoveryRecord struct {
	LookupKey string `json:"lookupKey"`
	Handle    string `json:"handle"`
	DID       string `json:"did"`
	NameKey   string `json:"nameKey"`
	PublicKey string `json:"publicKey"`
	ProofURL  string `json:"proofUrl,omitempty"`
	UpdatedAt int64  `json:"updatedAt"`
}
